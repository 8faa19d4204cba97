// Package clusterstate persists the resolved cluster so that a later
// teardown can reach the same nodes without asking the cloud provider again.
package clusterstate

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ndbctl/internal/config"
	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/topology"
)

const timeLayout = "20060102-150405"

// FileName is the artifact name for a run started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s-%s.yaml", defaults.ArtifactPrefix, t.Format(timeLayout))
}

// Render returns the artifact content: cfg with its node list replaced by the
// resolved topology. The result is a self-hosted config, so loading it never
// needs cloud credentials.
func Render(cfg *config.Config, topo *topology.Topology, runID string, now time.Time) ([]byte, error) {
	resolved := *cfg
	resolved.ClusterType = config.ClusterTypeSelfHosted
	resolved.SSHUsername = topo.SSHUsername()
	resolved.Nodes = topo.NodeConfigs()

	body, err := resolved.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolved cluster: %w", err)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# ndbctl resolved cluster\n")
	fmt.Fprintf(&b, "# run id: %s\n", runID)
	fmt.Fprintf(&b, "# resolved from: %s\n", cfg.ClusterType)
	fmt.Fprintf(&b, "# written at: %s\n", now.UTC().Format(time.RFC3339))
	b.Write(body)
	return b.Bytes(), nil
}

// Write renders the artifact into dir and returns its path. The file is
// written to a temporary name and renamed into place.
func Write(dir string, cfg *config.Config, topo *topology.Topology, runID string, now time.Time) (string, error) {
	if dir == "" {
		return "", errors.New("clusterstate: artifact dir must be set")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	data, err := Render(cfg, topo, runID, now)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName(now))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	logging.L().Infow("persisted resolved cluster", "path", path, "nodes", len(topo.IPs()), "run_id", runID)
	return path, nil
}
