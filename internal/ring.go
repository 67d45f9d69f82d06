package internal

import (
	"sort"
	"strconv"
)

// ReplicaPoints is the number of ring positions generated per node.
const ReplicaPoints = 100

type replicaPoint struct {
	hash uint32
	node *Node
}

// Ring is the routing table: replica points of all nodes sorted by hash.
// It is built once and never modified.
//
// Replica point 0 of every node and all lookups use the zero-seeded hash,
// the remaining points use the seeded one. Changing that moves keys
// between servers.
type Ring struct {
	nodes  []*Node
	points []replicaPoint
	seeded HashFunction
	zero   HashFunction
}

func NewRing(nodes []*Node, seeded, zero HashFunction) *Ring {
	r := &Ring{
		nodes:  nodes,
		points: make([]replicaPoint, 0, len(nodes)*ReplicaPoints),
		seeded: seeded,
		zero:   zero,
	}
	for _, n := range nodes {
		id := n.Endpoint.String() + "-"
		r.points = append(r.points, replicaPoint{hash: zero.SumString(id + "0"), node: n})
		for i := 1; i < ReplicaPoints; i++ {
			r.points = append(r.points, replicaPoint{hash: seeded.SumString(id + strconv.Itoa(i)), node: n})
		}
	}
	sort.SliceStable(r.points, func(i, j int) bool {
		return r.points[i].hash < r.points[j].hash
	})
	return r
}

func (r *Ring) Route(key string) *Node {
	if len(r.points) == 0 {
		return nil
	}
	return r.points[r.search(r.zero.SumString(key))].node
}

// search finds the first point >= h. Hashes above the last point go to the
// first point; hashes below the first point, unless equal to it, go to the
// last one.
func (r *Ring) search(h uint32) int {
	i := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})
	switch {
	case i == len(r.points):
		return 0
	case i == 0 && r.points[0].hash != h:
		return len(r.points) - 1
	}
	return i
}

func (r *Ring) Nodes() []*Node {
	return r.nodes
}

func (r *Ring) Close() error {
	return closeNodes(r.nodes)
}
