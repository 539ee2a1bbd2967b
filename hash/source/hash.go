package source

import (
	"github.com/spaolacci/murmur3"
)

// Func 哈希函数，将输入映射到无符号整数
type Func func(data []byte) uint64

// Hash 默认哈希函数，murmur3 64 位
func Hash(data []byte) uint64 {
	return murmur3.Sum64(data)
}
