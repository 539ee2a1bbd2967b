package main

import "github.com/zeromicro/go-zero/core/logx"

// Config 演示程序的配置
type Config struct {
	Log logx.LogConf

	// 初始真实节点
	Nodes []string
	// 观察迁移量时新加入的节点
	JoinNode string `json:",default=NodeD"`
	// 依次对比的虚拟节点数量
	Replicas  []int
	Keys      int    `json:",default=100000"`
	KeyPrefix string `json:",default=user"`

	// 配置后使用 redis zset 存储虚拟节点
	RedisAddr string `json:",optional"`
	RedisPass string `json:",optional"`
	RedisKey  string `json:",default=hashRing"`
}
