package internal

import "errors"

// Router resolves a key to the node that owns it.
type Router interface {
	Route(key string) *Node
	// Nodes returns every node in configuration order.
	Nodes() []*Node
	Close() error
}

func closeNodes(nodes []*Node) error {
	var errs []error
	for _, n := range nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
