package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// SharedStorage prepares the shared directory on the storage host, exports
// it over NFS and mounts it on every other node.
type SharedStorage struct {
	cluster Cluster
}

// NewSharedStorage returns the shared storage stage.
func NewSharedStorage(c Cluster) *SharedStorage {
	return &SharedStorage{cluster: c}
}

// ExportLine is the /etc/exports rule granting one client access.
func ExportLine(dir, clientIP string) string {
	return fmt.Sprintf("%s %s(%s)", dir, clientIP, defaults.ExportOptions)
}

// ExportLines returns one export rule per node other than the storage host,
// in declaration order.
func ExportLines(topo *topology.Topology) []string {
	host := topo.StorageHost()
	var lines []string
	for _, n := range topo.Others(host.PrivateIP) {
		lines = append(lines, ExportLine(host.Storage.SharedDir, n.PrivateIP))
	}
	return lines
}

// FstabEntry is the persistent client mount line.
func FstabEntry(serverIP, dir string) string {
	return fmt.Sprintf("%s:%s %s %s", serverIP, dir, dir, defaults.FstabOptions)
}

// appendOnce appends line to file unless an identical line is present.
func appendOnce(line, file string) string {
	q := shellescape.Quote(line)
	return fmt.Sprintf("grep -qxF -- %s %s || echo %s | sudo tee -a %s > /dev/null", q, file, q, file)
}

// Setup runs the three shared storage steps in order.
func (s *SharedStorage) Setup(ctx context.Context) error {
	log := logging.L().With("component", "orchestrator", "phase", "nfs")
	host := s.cluster.Topology.StorageHost()

	log.Infow(fmt.Sprintf("starting shared storage setup: host=%s dir=%s clients=%d",
		host.PrivateIP, host.Storage.SharedDir, len(s.cluster.Topology.Others(host.PrivateIP))))

	// Phase 1: Shared directory, group and ACLs on the storage host
	log.Infow("phase 1: preparing shared filesystem on storage host")
	if err := s.SetupSharedFilesystem(ctx); err != nil {
		return fmt.Errorf("failed to prepare shared filesystem: %w", err)
	}

	// Phase 2: NFS exports
	if host.Storage.CreateNFSServer {
		log.Infow("phase 2: configuring NFS server exports")
		if err := s.SetupServer(ctx); err != nil {
			return fmt.Errorf("failed to configure NFS server: %w", err)
		}
	} else {
		log.Infow("phase 2: skipped, create_nfs_server is disabled")
	}

	// Phase 3: Client mounts
	log.Infow("phase 3: mounting shared directory on clients")
	if err := s.MountClients(ctx); err != nil {
		return fmt.Errorf("failed to mount NFS clients: %w", err)
	}

	log.Infow("✅ shared storage setup completed successfully")
	return nil
}

// SetupSharedFilesystem creates the NFS group, the shared tree and its
// default ACLs on the storage host.
func (s *SharedStorage) SetupSharedFilesystem(ctx context.Context) error {
	host := s.cluster.Topology.StorageHost()
	dir := shellescape.Quote(host.Storage.SharedDir)
	gid := defaults.NFSGroupID

	cmds := []string{
		"sudo apt -y update",
		fmt.Sprintf("(sudo groupadd -g %d %s || true)", gid, defaults.NFSGroupName),
		fmt.Sprintf("(sudo useradd -u %d -g %d %s || true)", gid, gid, defaults.NFSGroupName),
		fmt.Sprintf("sudo usermod -a -G %d %s", gid, shellescape.Quote(s.cluster.Topology.SSHUsername())),
		"sudo mkdir -p " + dir,
	}
	for _, sub := range defaults.SharedSubdirs {
		cmds = append(cmds, "sudo mkdir -p "+shellescape.Quote(host.Storage.SharedDir+"/"+sub))
	}
	cmds = append(cmds,
		fmt.Sprintf("sudo chown -R :%d %s", gid, dir),
		"sudo chmod -R 774 "+dir,
		"sudo chmod -R g+s "+dir,
		"sudo apt install -y "+defaults.NFSServerService,
		"sudo apt install -y acl",
		"sudo setfacl -d -R -m u::rwx,g::rwx,o::r "+dir,
	)

	logging.L().Infow(nodeMsg(host, "creating shared directory"), "dir", host.Storage.SharedDir)
	if _, err := s.cluster.run(ctx, host, ssh.Join(cmds...)); err != nil {
		return err
	}
	logging.L().Infow(nodeMsg(host, "✓ shared directory ready"))
	return nil
}

// SetupServer adds one export rule per client and (re)starts the NFS server.
// Existing rules are not duplicated.
func (s *SharedStorage) SetupServer(ctx context.Context) error {
	host := s.cluster.Topology.StorageHost()

	lines := ExportLines(s.cluster.Topology)
	var cmds []string
	for _, line := range lines {
		cmds = append(cmds, appendOnce(line, "/etc/exports"))
	}
	svc := defaults.NFSServerService
	cmds = append(cmds,
		"sudo exportfs -ra",
		fmt.Sprintf("if sudo systemctl is-active --quiet %s; then sudo systemctl restart %s; else sudo systemctl start %s; fi", svc, svc, svc),
		"sudo systemctl enable "+svc,
	)

	logging.L().Infow(nodeMsg(host, "configuring NFS exports"), "clients", len(lines))
	if _, err := s.cluster.run(ctx, host, ssh.Join(cmds...)); err != nil {
		return err
	}
	logging.L().Infow(nodeMsg(host, "✓ NFS server running"))
	return nil
}

// MountClients mounts the share on every node other than the storage host.
// Already mounted directories and existing fstab entries are left alone.
func (s *SharedStorage) MountClients(ctx context.Context) error {
	host := s.cluster.Topology.StorageHost()
	dir := host.Storage.SharedDir
	qdir := shellescape.Quote(dir)
	source := shellescape.Quote(host.PrivateIP + ":" + dir)

	cmds := []string{
		"sudo apt -y update",
		"sudo apt-get install -y nfs-common",
		"sudo mkdir -p " + qdir,
		fmt.Sprintf("(mountpoint -q %s || sudo mount -t nfs %s %s)", qdir, source, qdir),
		appendOnce(FstabEntry(host.PrivateIP, dir), "/etc/fstab"),
	}

	clients := s.cluster.Topology.Others(host.PrivateIP)
	return s.cluster.forEach(ctx, clients, func(ctx context.Context, n topology.Node) error {
		logging.L().Infow(nodeMsg(n, "mounting shared directory"), "source", host.PrivateIP+":"+dir)
		if _, err := s.cluster.run(ctx, n, ssh.Join(cmds...)); err != nil {
			return err
		}
		logging.L().Infow(nodeMsg(n, "✓ mounted"))
		return nil
	})
}

// Teardown removes the exports on the storage host and the mounts on the
// clients. Every node is attempted even if one fails.
func (s *SharedStorage) Teardown(ctx context.Context) error {
	host := s.cluster.Topology.StorageHost()
	dir := host.Storage.SharedDir
	pattern := shellescape.Quote(sedAddress(dir))
	var errs []error

	if host.Storage.CreateNFSServer {
		res, err := s.cluster.run(ctx, host, ssh.Sequence(
			"sudo exportfs -ua",
			fmt.Sprintf("sudo sed -i %s /etc/exports", pattern),
			"sudo systemctl restart "+defaults.NFSServerService,
		))
		errs = append(errs, err, res.Err())
	}

	for _, n := range s.cluster.Topology.Others(host.PrivateIP) {
		res, err := s.cluster.run(ctx, n, ssh.Sequence(
			"sudo umount -l "+shellescape.Quote(dir),
			fmt.Sprintf("sudo sed -i %s /etc/fstab", pattern),
		))
		errs = append(errs, err, res.Err())
	}
	return combine(errs...)
}

// sedAddress builds a "/regex/d" sed command matching lines containing dir.
func sedAddress(dir string) string {
	var b strings.Builder
	for _, r := range dir {
		if strings.ContainsRune(`/.[]*^$\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return "/" + b.String() + "/d"
}
