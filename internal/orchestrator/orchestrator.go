// Package orchestrator implements the bring-up and teardown stages. Every
// stage reaches the nodes through an ssh.Runner and reads the immutable
// topology; none of them mutates it.
package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Cluster is what every stage operates on.
type Cluster struct {
	Runner      ssh.Runner
	Topology    *topology.Topology
	Parallelism int // per-node fan-out bound within a stage (default: 4)
}

func (c Cluster) limit() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return defaults.Parallelism
}

// forEach runs fn for every node with bounded parallelism. The first error
// cancels the remaining work and is returned.
func (c Cluster) forEach(ctx context.Context, nodes []topology.Node, fn func(ctx context.Context, n topology.Node) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit())
	for _, n := range nodes {
		g.Go(func() error {
			return fn(ctx, n)
		})
	}
	return g.Wait()
}

// run executes a batch on a node and wraps failures with the node label.
func (c Cluster) run(ctx context.Context, n topology.Node, batch ssh.Batch) (*ssh.Result, error) {
	res, err := c.Runner.Run(ctx, n.PrivateIP, batch)
	if err != nil {
		return res, fmt.Errorf("%s: %w", nodeID(n), err)
	}
	return res, nil
}

func nodeID(n topology.Node) string {
	return fmt.Sprintf("%s (%s)", n.PrivateIP, n.Label())
}

func nodeMsg(n topology.Node, message string) string {
	return logging.FormatNodeMessage("→", n.PrivateIP, n.Label(), message)
}
