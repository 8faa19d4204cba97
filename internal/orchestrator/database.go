package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Database runs PostgreSQL in a container on the database host and
// publishes its URI for the jobs.
type Database struct {
	cluster     Cluster
	scheduler   *Scheduler
	externalURI string
}

// NewDatabase returns the database stage. A non-empty externalURI skips the
// local deployment.
func NewDatabase(c Cluster, s *Scheduler, externalURI string) *Database {
	return &Database{cluster: c, scheduler: s, externalURI: externalURI}
}

// URI builds the connection string of the local database.
func URI(password, ip string) string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(defaults.DatabaseUser, password),
		Host:   ip + ":" + strconv.Itoa(defaults.DatabasePort),
		Path:   "/" + defaults.DatabaseName,
	}
	return u.String()
}

// InitScript is the entrypoint script granting the docker bridge and every
// other node md5 access.
func InitScript(clientIPs []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n{\n")
	fmt.Fprintf(&b, "    echo 'host  all all %s  md5'\n", defaults.DockerBridgeCIDR)
	for _, ip := range clientIPs {
		fmt.Fprintf(&b, "    echo 'host  all all %s/32  md5'\n", ip)
	}
	b.WriteString("} >> \"$PGDATA/pg_hba.conf\"\n")
	return b.String()
}

// Run deploys (or skips for an external database) and publishes the URI.
func (d *Database) Run(ctx context.Context, mgmt string) (string, error) {
	log := logging.L().With("component", "orchestrator", "phase", "database")

	uri := d.externalURI
	if uri != "" {
		log.Infow("using external database, skipping local deployment")
	} else {
		var err error
		if uri, err = d.Deploy(ctx); err != nil {
			return "", err
		}
	}

	if err := d.PublishURI(ctx, mgmt, uri); err != nil {
		return "", err
	}
	log.Infow("✅ database ready")
	return uri, nil
}

// Deploy recreates the data directories, uploads the init script and
// (re)starts the container. It returns the connection URI.
func (d *Database) Deploy(ctx context.Context) (string, error) {
	host, ok := d.cluster.Topology.DatabaseHost()
	if !ok {
		return "", fmt.Errorf("no database host declared")
	}
	dataDir := host.Database.DataDir
	initDir := path.Join(dataDir, "docker-postgres-init")
	qdata, qinit := shellescape.Quote(path.Join(dataDir, "data")), shellescape.Quote(initDir)

	var clients []string
	for _, n := range d.cluster.Topology.Others(host.PrivateIP) {
		clients = append(clients, n.PrivateIP)
	}

	logging.L().Infow(nodeMsg(host, "preparing database directories"), "dir", dataDir)
	prepare := ssh.Join(
		fmt.Sprintf("sudo rm -rf %s/*", shellescape.Quote(dataDir)),
		"sudo mkdir -p "+qinit,
		"sudo mkdir -p "+qdata,
	)
	if _, err := d.cluster.run(ctx, host, prepare); err != nil {
		return "", fmt.Errorf("failed to prepare database directory: %w", err)
	}

	staging := path.Join(defaults.RemoteStagingDir, "init-db.sh")
	if err := ssh.PutBytes(ctx, d.cluster.Runner, host.PrivateIP, []byte(InitScript(clients)), staging); err != nil {
		return "", fmt.Errorf("failed to upload init script: %w", err)
	}

	container := defaults.DatabaseContainer
	run := fmt.Sprintf("sudo docker run -d --name %s -e POSTGRES_PASSWORD=%s -e POSTGRES_DB=%s -e POSTGRES_USER=%s -v %s:/docker-entrypoint-initdb.d -v %s:/var/lib/postgresql/data -p %d:%d %s",
		container, shellescape.Quote(host.Database.Password), defaults.DatabaseName, defaults.DatabaseUser,
		qinit, qdata, defaults.DatabasePort, defaults.DatabasePort, defaults.DatabaseImage)

	start := ssh.Join(
		fmt.Sprintf("sudo install -m 0755 %s %s", shellescape.Quote(staging), shellescape.Quote(path.Join(initDir, "init-db.sh"))),
		"rm -f "+shellescape.Quote(staging),
		"sudo docker pull "+defaults.DatabaseImage,
		fmt.Sprintf("(sudo docker stop %s || true)", container),
		fmt.Sprintf("(sudo docker rm %s || true)", container),
		run,
	)
	start.Sensitive = true

	logging.L().Infow(nodeMsg(host, "starting postgres container"), "container", container, "clients", len(clients))
	if _, err := d.cluster.run(ctx, host, start); err != nil {
		return "", fmt.Errorf("failed to start database container: %w", err)
	}
	logging.L().Infow(nodeMsg(host, "✓ postgres running"))

	return URI(host.Database.Password, host.PrivateIP), nil
}

// PublishURI stores the URI as sql_uri in the shared job variables.
func (d *Database) PublishURI(ctx context.Context, mgmt, uri string) error {
	if err := d.scheduler.PutVariable(ctx, mgmt, "sql_uri", uri); err != nil {
		return fmt.Errorf("failed to publish database uri: %w", err)
	}
	return nil
}

// Teardown stops the container and wipes the data directory. It does
// nothing for an external database.
func (d *Database) Teardown(ctx context.Context) error {
	host, ok := d.cluster.Topology.DatabaseHost()
	if !ok || d.externalURI != "" {
		return nil
	}
	return teardownDatabase(ctx, d.cluster, host)
}

func teardownDatabase(ctx context.Context, c Cluster, host topology.Node) error {
	container := defaults.DatabaseContainer
	res, err := c.run(ctx, host, ssh.Sequence(
		"sudo docker stop "+container,
		"sudo docker rm "+container,
		fmt.Sprintf("sudo rm -rf %s/*", shellescape.Quote(host.Database.DataDir)),
	))
	if err != nil {
		return err
	}
	// A missing container is not a failure; only the wipe must succeed.
	if len(res.ExitCodes) == 3 && res.ExitCodes[2] != 0 {
		return &ssh.CommandError{Host: host.PrivateIP, Command: res.Commands[2], ExitCode: res.ExitCodes[2], Stderr: res.Stderr[2]}
	}
	return nil
}
