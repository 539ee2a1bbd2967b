package main

import (
	"flag"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"

	"hashring/hash/rebalance"
	"hashring/hash/source"
	"hashring/hash/source/redis"
)

var configFile = flag.String("f", "etc/ring.yaml", "the config file")

func main() {
	flag.Parse()

	var c Config
	conf.MustLoad(*configFile, &c)
	logx.MustSetup(c.Log)
	defer logx.Close()

	keys := make([]string, c.Keys)
	for i := range keys {
		keys[i] = c.KeyPrefix + strconv.Itoa(i)
	}

	for i, replicas := range c.Replicas {
		fmt.Printf("Test %d: replicas = %d\n", i+1, replicas)

		ring, err := newRing(c, replicas)
		logx.Must(err)
		for _, node := range c.Nodes {
			logx.Must(ring.AddNode(node))
		}

		dist := rebalance.LoadDistribution(ring, keys)
		printDistribution(dist)

		// 加入新节点，统计迁移的 key
		before := rebalance.MapKeys(ring, keys)
		logx.Must(ring.AddNode(c.JoinNode))
		after := rebalance.MapKeys(ring, keys)
		moved, err := rebalance.CountMovedKeys(before, after)
		logx.Must(err)

		fmt.Printf("add %s: %d of %d keys moved\n", c.JoinNode, moved, len(keys))
		for transfer, count := range rebalance.Transfers(before, after) {
			fmt.Printf("  %s -> %s: %d\n", transfer.From, transfer.To, count)
		}
		fmt.Println()
	}
}

func newRing(c Config, replicas int) (*source.ConsistentHash, error) {
	if len(c.RedisAddr) == 0 {
		return source.NewConsistentHash(source.WithReplicas(replicas)), nil
	}

	// zset 的 score 只能精确表示 2^53 以内的整数，使用 32 位哈希
	store, err := redis.NewZSetHashRing(fmt.Sprintf("%s:%d", c.RedisKey, replicas), c.RedisAddr, c.RedisPass)
	if err != nil {
		return nil, err
	}

	return source.NewConsistentHash(
		source.WithReplicas(replicas),
		source.WithHashFunc(redis.Hash),
		source.WithMaxPosition(math.MaxUint32),
		source.WithHashRing(store),
	), nil
}

func printDistribution(dist map[string]int) {
	nodes := make([]string, 0, len(dist))
	for node := range dist {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		fmt.Println(node, "→", dist[node])
	}

	s := rebalance.Summarize(dist)
	fmt.Printf("mean %.1f, stddev %.1f, cv %.4f, entropy %.4f\n", s.Mean, s.StdDev, s.CV, s.Entropy)
}
