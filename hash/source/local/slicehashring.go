package local

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOccupied 虚拟节点位置已被占用
var ErrOccupied = errors.New("virtual node already occupied")

// SliceHashRing 使用Slice实现HashRing接口
// 不加锁，并发控制由上层的 ConsistentHash 负责
type SliceHashRing struct {
	keys []uint64          // 虚拟节点列表，升序
	ring map[uint64]string // 虚拟节点到真实节点的映射
}

func NewSliceHashRing() *SliceHashRing {
	return &SliceHashRing{
		keys: make([]uint64, 0),
		ring: make(map[uint64]string),
	}
}

// AddNode 有序插入虚拟节点，建立虚拟节点到真实节点的映射
func (s *SliceHashRing) AddNode(node string, virtualNode uint64) error {
	// 不允许覆盖，冲突由调用方探测解决
	if owner, ok := s.ring[virtualNode]; ok {
		return fmt.Errorf("%w: %d owned by %s", ErrOccupied, virtualNode, owner)
	}

	// 找到插入位置，后面的元素后移一位，不需要再整体排序
	idx := s.search(virtualNode)
	s.keys = append(s.keys, 0)
	copy(s.keys[idx+1:], s.keys[idx:])
	s.keys[idx] = virtualNode

	s.ring[virtualNode] = node

	return nil
}

// RemoveNode 删除虚拟节点，只有虚拟节点属于 node 时才删除
func (s *SliceHashRing) RemoveNode(node string, virtualNode uint64) error {
	if owner, ok := s.ring[virtualNode]; !ok || owner != node {
		return nil
	}

	delete(s.ring, virtualNode)

	idx := s.search(virtualNode)
	if idx < len(s.keys) && s.keys[idx] == virtualNode {
		// 使用idx后的元素，前移一位，覆盖掉s.key[idx]
		s.keys = append(s.keys[:idx], s.keys[idx+1:]...)
	}

	return nil
}

// ContainsVirtualNode 判断位置是否已被占用
func (s *SliceHashRing) ContainsVirtualNode(virtualNode uint64) (bool, error) {
	_, ok := s.ring[virtualNode]
	return ok, nil
}

// GetNode 根据hash获取真实节点
func (s *SliceHashRing) GetNode(hash uint64) (string, bool, error) {
	if len(s.keys) == 0 {
		return "", false, nil
	}

	// 找到第一个大于等于hash的虚拟节点（相当于顺时针），超出最大值时回到第一个
	idx := s.search(hash) % len(s.keys)

	node, ok := s.ring[s.keys[idx]]
	return node, ok, nil
}

// Size 返回虚拟节点数量
func (s *SliceHashRing) Size() (int, error) {
	return len(s.keys), nil
}

// VirtualNodes 返回全部虚拟节点的拷贝，升序
func (s *SliceHashRing) VirtualNodes() []uint64 {
	return append([]uint64(nil), s.keys...)
}

// Owner 返回虚拟节点所属的真实节点
func (s *SliceHashRing) Owner(virtualNode uint64) (string, bool) {
	node, ok := s.ring[virtualNode]
	return node, ok
}

func (s *SliceHashRing) search(hash uint64) int {
	return sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= hash })
}
