package orchestrator

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
)

// License places the license files in the shared directory through the
// ingress node.
type License struct {
	cluster   Cluster
	path      string
	airgapped string
}

// NewLicense returns the license stage. airgappedPath may be empty.
func NewLicense(c Cluster, licensePath, airgappedPath string) *License {
	return &License{cluster: c, path: licensePath, airgapped: airgappedPath}
}

// Upload copies the license (and the airgapped license, if configured) into
// {shared}/license with group access for the task user.
func (l *License) Upload(ctx context.Context) error {
	log := logging.L().With("component", "orchestrator", "phase", "license")
	ingress := l.cluster.Topology.Ingress()
	dir := path.Join(l.cluster.Topology.SharedDir(), "license")

	files := []struct{ local, name string }{{l.path, defaults.LicenseFileName}}
	if l.airgapped != "" {
		files = append(files, struct{ local, name string }{l.airgapped, filepath.Base(l.airgapped)})
	}

	for _, f := range files {
		staging := path.Join(defaults.RemoteStagingDir, f.name)
		target := path.Join(dir, f.name)

		log.Infow(nodeMsg(ingress, "uploading "+f.name), "local", f.local, "remote", target)
		if err := l.cluster.Runner.Transfer(ctx, ingress.PrivateIP, f.local, staging, ssh.Put); err != nil {
			return fmt.Errorf("failed to upload %s: %w", f.local, err)
		}

		install := fmt.Sprintf("sudo install -D -m 0664 -g %d %s %s", defaults.NFSGroupID, shellescape.Quote(staging), shellescape.Quote(target))
		cleanup := "rm -f " + shellescape.Quote(staging)
		if _, err := l.cluster.run(ctx, ingress, ssh.Join(install, "sudo chmod g+rw "+shellescape.Quote(target), cleanup)); err != nil {
			return fmt.Errorf("failed to install %s: %w", f.name, err)
		}
	}

	log.Infow("✓ license installed", "dir", dir, "files", len(files))
	return nil
}
