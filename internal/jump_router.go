package internal

import (
	"hash/fnv"

	"github.com/dgryski/go-jump"
)

// JumpRouter spreads keys with jump consistent hashing. Key ownership
// differs from Ring, so both cannot share a deployment.
type JumpRouter struct {
	nodes []*Node
}

func NewJumpRouter(nodes []*Node) *JumpRouter {
	return &JumpRouter{nodes: nodes}
}

func stringToUint64(s string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(s))
	return hasher.Sum64()
}

func (r *JumpRouter) Route(key string) *Node {
	if len(r.nodes) == 0 {
		return nil
	}
	return r.nodes[jump.Hash(stringToUint64(key), len(r.nodes))]
}

func (r *JumpRouter) Nodes() []*Node {
	return r.nodes
}

func (r *JumpRouter) Close() error {
	return closeNodes(r.nodes)
}
