// Package rebalance 统计 key 在哈希环上的分布和节点变化时的迁移量，只依赖环的查找能力
package rebalance

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeromicro/go-zero/core/mathx"
)

// NoOwner 环为空等无法定位时记录的归属
const NoOwner = ""

// ErrKeySetMismatch 两次映射的 key 集合不一致
var ErrKeySetMismatch = errors.New("mappings cover different key sets")

type (
	// Locator 哈希环的查找能力
	Locator interface {
		GetNode(key string) (string, bool)
	}

	// Transfer key 从 From 迁移到 To
	Transfer struct {
		From string
		To   string
	}

	// Summary 分布的统计信息
	Summary struct {
		Nodes   int
		Keys    int
		Mean    float64
		StdDev  float64
		CV      float64 // 变异系数，StdDev / Mean
		Entropy float64 // 归一化的熵，1 表示完全均匀
	}
)

// MapKeys 返回每个 key 的归属节点
func MapKeys(l Locator, keys []string) map[string]string {
	mapping := make(map[string]string, len(keys))
	for _, key := range keys {
		node, ok := l.GetNode(key)
		if !ok {
			node = NoOwner
		}
		mapping[key] = node
	}

	return mapping
}

// CountMovedKeys 统计归属发生变化的 key 数量，key 集合不一致时返回错误
func CountMovedKeys(before, after map[string]string) (int, error) {
	if len(before) != len(after) {
		return 0, fmt.Errorf("%w: %d keys before, %d after", ErrKeySetMismatch, len(before), len(after))
	}

	var moved int
	for key, owner := range before {
		next, ok := after[key]
		if !ok {
			return 0, fmt.Errorf("%w: key %q missing after", ErrKeySetMismatch, key)
		}
		if next != owner {
			moved++
		}
	}

	return moved, nil
}

// LoadDistribution 统计每个节点分到的 key 数量，没有分到 key 的节点不出现在结果中
func LoadDistribution(l Locator, keys []string) map[string]int {
	dist := make(map[string]int)
	for _, key := range keys {
		if node, ok := l.GetNode(key); ok {
			dist[node]++
		}
	}

	return dist
}

// Transfers 按迁移方向统计 key 数量，after 中没有的 key 忽略
func Transfers(before, after map[string]string) map[Transfer]int {
	transfers := make(map[Transfer]int)
	for key, owner := range before {
		next, ok := after[key]
		if !ok || next == owner {
			continue
		}
		transfers[Transfer{From: owner, To: next}]++
	}

	return transfers
}

// Summarize 计算均值、标准差、变异系数和熵
func Summarize(dist map[string]int) Summary {
	s := Summary{Nodes: len(dist)}
	if s.Nodes == 0 {
		return s
	}

	counts := make(map[any]int, len(dist))
	for node, count := range dist {
		s.Keys += count
		counts[node] = count
	}

	s.Mean = float64(s.Keys) / float64(s.Nodes)
	var variance float64
	for _, count := range dist {
		diff := float64(count) - s.Mean
		variance += diff * diff
	}
	s.StdDev = math.Sqrt(variance / float64(s.Nodes))
	if s.Mean > 0 {
		s.CV = s.StdDev / s.Mean
	}
	s.Entropy = mathx.CalcEntropy(counts)

	return s
}
