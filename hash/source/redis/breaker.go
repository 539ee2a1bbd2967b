package redis

import (
	"errors"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zeromicro/go-zero/core/collection"
	"github.com/zeromicro/go-zero/core/mathx"
)

// ErrStoreUnavailable 熔断器打开，redis 请求被丢弃
var ErrStoreUnavailable = errors.New("redis ring store unavailable")

const (
	// 10s 的窗口分成 40 个桶
	window     = time.Second * 10
	buckets    = 40
	k          = 1.5
	protection = 5
)

// googleBreaker 客户端自适应限流，redis 连续失败时在本地直接拒绝，不再把请求打到 redis
// https://landing.google.com/sre/sre-book/chapters/handling-overload/
type googleBreaker struct {
	k     float64                   // 成功数的倍率，越大越晚开始丢弃
	stat  *collection.RollingWindow // 最近 10s 的请求结果
	proba *mathx.Proba
}

func newGoogleBreaker() *googleBreaker {
	bucketDuration := time.Duration(int64(window) / int64(buckets))
	return &googleBreaker{
		k:     k,
		stat:  collection.NewRollingWindow(buckets, bucketDuration),
		proba: mathx.NewProba(),
	}
}

// do 熔断器放行时才访问 redis，并按结果记录一次请求
func (b *googleBreaker) do(req func() error) error {
	if !b.admit() {
		return ErrStoreUnavailable
	}

	err := req()
	b.record(acceptable(err))

	return err
}

// admit 成功数乘以 k 之后仍少于请求数时，按超出的比例丢弃请求
func (b *googleBreaker) admit() bool {
	succeeded, requests := b.counts()
	dropRatio := math.Max(0, (float64(requests-protection)-b.k*float64(succeeded))/float64(requests+1))

	return dropRatio <= 0 || !b.proba.TrueOnProba(dropRatio)
}

// record 每个请求写入一次时间轮，成功记 1，失败记 0
func (b *googleBreaker) record(ok bool) {
	if ok {
		b.stat.Add(1)
	} else {
		b.stat.Add(0)
	}
}

// counts 时间轮内的成功数和请求数
func (b *googleBreaker) counts() (succeeded, requests int64) {
	b.stat.Reduce(func(bucket *collection.Bucket) {
		succeeded += int64(bucket.Sum)
		requests += bucket.Count
	})

	return
}

// 占用、越界和 redis.Nil 是正常结果，不计为 redis 故障
func acceptable(err error) bool {
	return err == nil || errors.Is(err, redis.Nil) || errors.Is(err, ErrOccupied) || errors.Is(err, ErrPositionOutOfRange)
}
