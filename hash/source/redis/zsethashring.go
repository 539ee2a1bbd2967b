package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
)

// maxScore float64 能精确表示的最大整数
const maxScore = 1 << 53

var (
	// ErrOccupied 虚拟节点位置已被占用
	ErrOccupied = errors.New("virtual node already occupied")
	// ErrPositionOutOfRange 虚拟节点超出 score 能精确表示的范围
	ErrPositionOutOfRange = errors.New("virtual node exceeds zset score precision")
)

// ZSetHashRing 使用zset实现HashRing接口，score 是虚拟节点，member 是 node-虚拟节点
// 每个环独占一个 key，创建时清空，不跨进程重启保存
type ZSetHashRing struct {
	// redis 存储哈希环的 key
	key    string
	client *redis.Client
	brk    *googleBreaker
}

// NewZSetHashRing 连接 redis 并创建空的哈希环
func NewZSetHashRing(key, addr, passwd string) (*ZSetHashRing, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: passwd})
	return NewZSetHashRingWithClient(key, client)
}

// NewZSetHashRingWithClient 使用已有的 client 创建空的哈希环
func NewZSetHashRingWithClient(key string, client *redis.Client) (*ZSetHashRing, error) {
	z := &ZSetHashRing{
		key:    key,
		client: client,
		brk:    newGoogleBreaker(),
	}

	// 删除 key，新环从空开始
	if err := z.brk.do(func() error {
		return z.client.Del(context.Background(), key).Err()
	}); err != nil {
		return nil, fmt.Errorf("redis ring reset fail, err: %w", err)
	}

	return z, nil
}

// AddNode 添加虚拟节点，位置已被占用时返回 ErrOccupied
func (z *ZSetHashRing) AddNode(node string, virtualNode uint64) error {
	if virtualNode > maxScore {
		return fmt.Errorf("%w: %d", ErrPositionOutOfRange, virtualNode)
	}

	return z.brk.do(func() error {
		ctx := context.Background()

		// 查询score位置是否存在member
		occupied, err := z.containsVirtualNode(ctx, virtualNode)
		if err != nil {
			return fmt.Errorf("redis ring add fail, err: %w", err)
		}
		if occupied {
			return fmt.Errorf("%w: %d", ErrOccupied, virtualNode)
		}

		return z.client.ZAdd(ctx, z.key, &redis.Z{
			Score:  float64(virtualNode),
			Member: z.getRawNodeKey(node, virtualNode),
		}).Err()
	})
}

// RemoveNode 删除虚拟节点，member 中带有虚拟节点，可以精确删除
func (z *ZSetHashRing) RemoveNode(node string, virtualNode uint64) error {
	return z.brk.do(func() error {
		err := z.client.ZRem(context.Background(), z.key, z.getRawNodeKey(node, virtualNode)).Err()
		if err != nil {
			return fmt.Errorf("redis ring remove fail, err: %w", err)
		}

		return nil
	})
}

// ContainsVirtualNode 检查虚拟节点是否存在
func (z *ZSetHashRing) ContainsVirtualNode(virtualNode uint64) (bool, error) {
	var occupied bool
	err := z.brk.do(func() error {
		var err error
		occupied, err = z.containsVirtualNode(context.Background(), virtualNode)
		return err
	})

	return occupied, err
}

// GetNode 根据hash获取节点
// 先找 [hash, +inf] 区间内的第一个虚拟节点（顺时针），没找到再取整个环的第一个（绕一圈回去）
func (z *ZSetHashRing) GetNode(hash uint64) (string, bool, error) {
	var members []string
	err := z.brk.do(func() error {
		ctx := context.Background()

		var err error
		members, err = z.client.ZRangeByScore(ctx, z.key, &redis.ZRangeBy{
			Min:    strconv.FormatUint(hash, 10),
			Max:    "+inf",
			Offset: 0,
			Count:  1,
		}).Result()
		if err != nil || len(members) != 0 {
			return err
		}

		members, err = z.client.ZRange(ctx, z.key, 0, 0).Result()
		return err
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("redis ring get fail, err: %w", err)
	}

	if len(members) == 0 {
		return "", false, nil
	}

	return z.getRawNode(members[0]), true, nil
}

// Size 返回虚拟节点数量
func (z *ZSetHashRing) Size() (int, error) {
	var size int64
	err := z.brk.do(func() error {
		var err error
		size, err = z.client.ZCard(context.Background(), z.key).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("redis ring size fail, err: %w", err)
	}

	return int(size), nil
}

func (z *ZSetHashRing) containsVirtualNode(ctx context.Context, virtualNode uint64) (bool, error) {
	score := strconv.FormatUint(virtualNode, 10)
	count, err := z.client.ZCount(ctx, z.key, score, score).Result()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// getRawNodeKey 为真实节点node添加虚拟节点后缀，区分不同虚拟节点
func (z *ZSetHashRing) getRawNodeKey(node string, virtualNode uint64) string {
	return fmt.Sprintf("%s-%d", node, virtualNode)
}

// getRawNode 根据member获取真实节点node，节点名本身可能带有 "-"
func (z *ZSetHashRing) getRawNode(rawNodeKey string) string {
	idx := strings.LastIndex(rawNodeKey, "-")
	if idx < 0 {
		return rawNodeKey
	}

	return rawNodeKey[:idx]
}
