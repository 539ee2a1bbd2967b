package redis

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func newTestRing(t *testing.T) (*ZSetHashRing, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	z, err := NewZSetHashRing("hashRing", s.Addr(), "")
	if err != nil {
		t.Fatalf("NewZSetHashRing error: %v", err)
	}

	return z, s
}

func TestZSetHashRing_ResetOnCreate(t *testing.T) {
	s := miniredis.RunT(t)
	_, _ = s.ZAdd("hashRing", 1, "stale-1")

	z, err := NewZSetHashRingWithClient("hashRing", redis.NewClient(&redis.Options{Addr: s.Addr()}))
	assert.NoError(t, err)

	size, err := z.Size()
	assert.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestZSetHashRing_AddRemove(t *testing.T) {
	z, _ := newTestRing(t)

	assert.NoError(t, z.AddNode("node-a", 10))
	assert.NoError(t, z.AddNode("node-b", 20))
	assert.True(t, errors.Is(z.AddNode("node-b", 10), ErrOccupied))

	occupied, err := z.ContainsVirtualNode(10)
	assert.NoError(t, err)
	assert.True(t, occupied)

	// 只删除属于 node-b 的 member
	assert.NoError(t, z.RemoveNode("node-b", 10))
	occupied, _ = z.ContainsVirtualNode(10)
	assert.True(t, occupied)

	assert.NoError(t, z.RemoveNode("node-a", 10))
	occupied, _ = z.ContainsVirtualNode(10)
	assert.False(t, occupied)

	size, err := z.Size()
	assert.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestZSetHashRing_GetNode(t *testing.T) {
	z, _ := newTestRing(t)

	_, ok, err := z.GetNode(5)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, z.AddNode("node-a", 10))
	assert.NoError(t, z.AddNode("node-b", 20))

	tests := map[uint64]string{
		0:  "node-a",
		10: "node-a",
		15: "node-b",
		20: "node-b",
		25: "node-a",
	}
	for hash, want := range tests {
		node, ok, err := z.GetNode(hash)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, node)
	}
}

func TestZSetHashRing_OutOfRange(t *testing.T) {
	z, _ := newTestRing(t)

	err := z.AddNode("node", maxScore+1)
	assert.True(t, errors.Is(err, ErrPositionOutOfRange))
}

func TestZSetHashRing_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	z, err := NewZSetHashRing("hashRing", s.Addr(), "")
	assert.NoError(t, err)
	s.Close()

	_, err = z.Size()
	assert.Error(t, err)
	_, _, err = z.GetNode(1)
	assert.Error(t, err)
}

func TestGoogleBreaker(t *testing.T) {
	b := newGoogleBreaker()
	assert.NoError(t, b.do(func() error { return nil }))

	failure := errors.New("failure")
	for i := 0; i < 1000; i++ {
		_ = b.do(func() error { return failure })
	}

	var dropped int
	for i := 0; i < 100; i++ {
		if errors.Is(b.do(func() error { return nil }), ErrStoreUnavailable) {
			dropped++
		}
	}
	assert.Greater(t, dropped, 50)
}

func TestAcceptable(t *testing.T) {
	assert.True(t, acceptable(nil))
	assert.True(t, acceptable(redis.Nil))
	assert.True(t, acceptable(ErrOccupied))
	assert.False(t, acceptable(errors.New("connection refused")))
}

func TestGoogleBreaker_OccupiedNotFailure(t *testing.T) {
	b := newGoogleBreaker()
	for i := 0; i < 1000; i++ {
		err := b.do(func() error { return ErrOccupied })
		assert.True(t, errors.Is(err, ErrOccupied))
	}

	for i := 0; i < 100; i++ {
		assert.NoError(t, b.do(func() error { return nil }))
	}
}
