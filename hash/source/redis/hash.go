package redis

import "github.com/spaolacci/murmur3"

// Hash 32 位 murmur3，zset 的 score 是 float64，只能精确表示 2^53 以内的整数
func Hash(data []byte) uint64 {
	return uint64(murmur3.Sum32(data))
}
