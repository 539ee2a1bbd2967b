package source

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/zeromicro/go-zero/core/lang"
	"github.com/zeromicro/go-zero/core/logx"

	"hashring/hash/source/local"
)

const (
	defaultReplicas = 100
)

// ErrRingSaturated 哈希空间已无空闲位置，属于配置错误（虚拟节点数相对哈希空间过大），重试没有意义
var ErrRingSaturated = errors.New("hash ring saturated")

type (
	// Option 自定义 ConsistentHash 的参数
	Option func(h *ConsistentHash)

	// ConsistentHash 一致性哈希实现
	// 每个真实节点在环上占有 replicas 个虚拟节点，冲突时线性探测到下一个空闲位置
	ConsistentHash struct {
		hashRing    HashRing                        // 虚拟节点存储
		hashFunc    Func                            // hash函数
		replicas    int                             // 每个真实节点的虚拟节点数量
		maxPosition uint64                          // 哈希空间的最大值
		nodes       map[string]lang.PlaceholderType // 真实节点的map，用于快速判断是否存在
		positions   map[string][]uint64             // 真实节点 -> 实际占用的虚拟节点
		lock        sync.RWMutex                    // 读写锁
	}
)

// WithReplicas 设置每个真实节点的虚拟节点数量，小于 1 时使用默认值
func WithReplicas(replicas int) Option {
	return func(h *ConsistentHash) {
		if replicas >= 1 {
			h.replicas = replicas
		}
	}
}

// WithHashFunc 设置哈希函数
func WithHashFunc(fn Func) Option {
	return func(h *ConsistentHash) {
		if fn != nil {
			h.hashFunc = fn
		}
	}
}

// WithMaxPosition 设置哈希空间的最大值，哈希值会对 max+1 取余
func WithMaxPosition(max uint64) Option {
	return func(h *ConsistentHash) {
		h.maxPosition = max
	}
}

// WithHashRing 设置虚拟节点存储
func WithHashRing(ring HashRing) Option {
	return func(h *ConsistentHash) {
		if ring != nil {
			h.hashRing = ring
		}
	}
}

// NewConsistentHash 创建hash环实例，默认 100 个虚拟节点、murmur3 哈希、内存存储
func NewConsistentHash(opts ...Option) *ConsistentHash {
	h := &ConsistentHash{
		hashFunc:    Hash,
		replicas:    defaultReplicas,
		maxPosition: math.MaxUint64,
		nodes:       make(map[string]lang.PlaceholderType),
		positions:   make(map[string][]uint64),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.hashRing == nil {
		h.hashRing = local.NewSliceHashRing()
	}

	return h
}

// AddNode 添加真实节点，节点已存在时直接返回
// 所有虚拟节点插入成功后，才把节点标记为成员
func (h *ConsistentHash) AddNode(node string) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.containsNode(node) {
		return nil
	}

	// 先检查容量，保证探测一定能结束，且失败时不改动任何状态
	if err := h.checkCapacity(); err != nil {
		return fmt.Errorf("add node %s: %w", node, err)
	}

	positions := make([]uint64, 0, h.replicas)
	for i := 0; i < h.replicas; i++ {
		virtualNode, err := h.probe(h.position(h.virtualNodeKey(node, i)))
		if err == nil {
			err = h.hashRing.AddNode(node, virtualNode)
		}
		if err != nil {
			h.rollback(node, positions)
			return fmt.Errorf("add node %s: %w", node, err)
		}

		positions = append(positions, virtualNode)
	}

	h.positions[node] = positions
	h.nodes[node] = lang.Placeholder
	logx.Infof("hash ring: node %s added with %d virtual nodes", node, len(positions))

	return nil
}

// RemoveNode 删除真实节点，节点不存在时直接返回
// 按记录的位置精确删除，不重新计算哈希（探测后的位置可能和哈希值不同）
func (h *ConsistentHash) RemoveNode(node string) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.containsNode(node) {
		return nil
	}

	positions := h.positions[node]
	for i, virtualNode := range positions {
		if err := h.hashRing.RemoveNode(node, virtualNode); err != nil {
			// 只保留还没删掉的位置，再次调用 RemoveNode 会继续删除
			h.positions[node] = positions[i:]
			return fmt.Errorf("remove node %s: %w", node, err)
		}
	}

	delete(h.positions, node)
	delete(h.nodes, node)
	logx.Infof("hash ring: node %s removed", node)

	return nil
}

// GetNode 返回 key 所属的真实节点，环为空时返回 false
func (h *ConsistentHash) GetNode(key string) (string, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	if len(h.nodes) == 0 {
		return "", false
	}

	node, ok, err := h.hashRing.GetNode(h.position(key))
	if err != nil {
		logx.Errorf("hash ring: get node for key %q failed: %v", key, err)
		return "", false
	}

	return node, ok
}

// Contains 判断真实节点是否在环上
func (h *ConsistentHash) Contains(node string) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return h.containsNode(node)
}

// Nodes 返回全部真实节点，按名称排序
func (h *ConsistentHash) Nodes() []string {
	h.lock.RLock()
	defer h.lock.RUnlock()

	nodes := make([]string, 0, len(h.nodes))
	for node := range h.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	return nodes
}

// Positions 返回真实节点占用的虚拟节点，升序
func (h *ConsistentHash) Positions(node string) []uint64 {
	h.lock.RLock()
	defer h.lock.RUnlock()

	positions := append([]uint64(nil), h.positions[node]...)
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	return positions
}

// Size 返回环上已占用的虚拟节点数量
func (h *ConsistentHash) Size() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	var size int
	for _, positions := range h.positions {
		size += len(positions)
	}

	return size
}

// Replicas 返回每个真实节点的虚拟节点数量
func (h *ConsistentHash) Replicas() int {
	return h.replicas
}

func (h *ConsistentHash) checkCapacity() error {
	// 64 位空间不可能被占满
	if h.maxPosition == math.MaxUint64 {
		return nil
	}

	occupied, err := h.hashRing.Size()
	if err != nil {
		return err
	}

	if uint64(occupied)+uint64(h.replicas) > h.maxPosition+1 {
		return fmt.Errorf("%w: %d of %d positions occupied, %d more required",
			ErrRingSaturated, occupied, h.maxPosition+1, h.replicas)
	}

	return nil
}

// probe 线性探测，从 candidate 开始找到第一个空闲位置，到最大值后回到 0
func (h *ConsistentHash) probe(candidate uint64) (uint64, error) {
	for probes := uint64(0); ; probes++ {
		occupied, err := h.hashRing.ContainsVirtualNode(candidate)
		if err != nil {
			return 0, err
		}

		if !occupied {
			if probes > 0 {
				logx.Infof("hash ring: virtual node collision resolved after %d probes at %d", probes, candidate)
			}
			return candidate, nil
		}

		// 整个空间都探测过了
		if probes == h.maxPosition {
			return 0, ErrRingSaturated
		}

		candidate = h.next(candidate)
	}
}

func (h *ConsistentHash) next(position uint64) uint64 {
	if position >= h.maxPosition {
		return 0
	}

	return position + 1
}

// rollback 删除本次已插入的虚拟节点
func (h *ConsistentHash) rollback(node string, positions []uint64) {
	for _, virtualNode := range positions {
		if err := h.hashRing.RemoveNode(node, virtualNode); err != nil {
			logx.Errorf("hash ring: rollback virtual node %d of %s failed: %v", virtualNode, node, err)
		}
	}
}

// position 计算 key 在环上的位置
func (h *ConsistentHash) position(key string) uint64 {
	hash := h.hashFunc([]byte(key))
	if h.maxPosition == math.MaxUint64 {
		return hash
	}

	return hash % (h.maxPosition + 1)
}

func (h *ConsistentHash) virtualNodeKey(node string, idx int) string {
	return node + "_" + strconv.Itoa(idx)
}

// 检查真实节点是否存储在hash环中
func (h *ConsistentHash) containsNode(node string) bool {
	_, ok := h.nodes[node]
	return ok
}
