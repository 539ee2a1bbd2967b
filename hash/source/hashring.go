package source

// HashRing 哈希环存储接口，保存有序的虚拟节点（环上位置）及其到真实节点的映射
// 实现方不需要处理冲突和加锁，由 ConsistentHash 负责
type HashRing interface {
	AddNode(node string, virtualNode uint64) error    // 有序插入虚拟节点，位置已被占用时返回错误
	RemoveNode(node string, virtualNode uint64) error // 精确删除 node 的虚拟节点

	ContainsVirtualNode(virtualNode uint64) (bool, error) // 位置是否已被占用
	GetNode(hash uint64) (string, bool, error)            // 顺时针找到第一个 >= hash 的虚拟节点
	Size() (int, error)                                   // 已占用的位置数
}
