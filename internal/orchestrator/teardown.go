package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"ndbctl/internal/defaults"
	"ndbctl/internal/jobs"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Teardown removes what the bring-up installed. Every step is attempted
// regardless of earlier failures; errors are aggregated.
type Teardown struct {
	cluster    Cluster
	externalDB bool
	scheduler  *Scheduler
	storage    *SharedStorage
	jobIDs     []string
}

// NewTeardown returns the teardown stage.
func NewTeardown(c Cluster, externalDB bool) *Teardown {
	return &Teardown{
		cluster:    c,
		externalDB: externalDB,
		scheduler:  NewScheduler(c, Poll{}),
		storage:    NewSharedStorage(c),
		jobIDs:     defaults.JobIDs,
	}
}

// Run executes every cleanup step in order.
func (t *Teardown) Run(ctx context.Context) error {
	log := logging.L().With("component", "orchestrator", "phase", "teardown")
	log.Infow(fmt.Sprintf("starting teardown of %d nodes", len(t.cluster.Topology.IPs())))

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"jobs", t.DeregisterJobs},
		{"database", t.CleanupDatabase},
		{"nomad", t.CleanupNomad},
		{"nfs", t.storage.Teardown},
	}

	var errs error
	for i, step := range steps {
		log.Infow(fmt.Sprintf("→ Step %d/%d: cleaning up %s", i+1, len(steps), step.name))
		if err := step.fn(ctx); err != nil {
			log.Errorw(fmt.Sprintf("❌ %s cleanup incomplete", step.name), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Infow(fmt.Sprintf("✓ %s cleaned up", step.name))
	}

	log.Infow("cloud resources are not removed; use the provider tooling to delete them")
	if errs != nil {
		return errs
	}
	log.Infow("✅ teardown completed successfully")
	return nil
}

// DeregisterJobs purges the workload jobs through the ingress agent, using
// the management token kept on the server node. Jobs that do not exist are
// skipped.
func (t *Teardown) DeregisterJobs(ctx context.Context) error {
	mgmt, err := t.scheduler.ManagementToken(ctx)
	if err != nil {
		return err
	}

	ingress := t.cluster.Topology.Ingress()
	var errs error
	for _, id := range t.jobIDs {
		batch := ssh.Join(jobs.DeleteCommand(jobs.DeregisterURL(id), mgmt))
		batch.Sensitive = true
		res, err := t.cluster.run(ctx, ingress, batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", id, err))
			continue
		}
		body, status := jobs.SplitStatus(res.Output())
		switch status {
		case 200:
			logging.L().Infow(fmt.Sprintf("✓ job %s deregistered", id))
		case 404:
			logging.L().Infow(fmt.Sprintf("job %s not found, skipping", id))
		default:
			errs = multierr.Append(errs, fmt.Errorf("job %s: nomad returned status %d: %s", id, status, body))
		}
	}
	return errs
}

// CleanupDatabase stops the container and wipes the data directory.
func (t *Teardown) CleanupDatabase(ctx context.Context) error {
	host, ok := t.cluster.Topology.DatabaseHost()
	if !ok || t.externalDB {
		logging.L().Infow("no local database, skipping")
		return nil
	}
	return teardownDatabase(ctx, t.cluster, host)
}

// CleanupNomad stops the agent and removes its state and tokens on every
// node.
func (t *Teardown) CleanupNomad(ctx context.Context) error {
	cmds := []string{
		"sudo systemctl stop nomad",
		"sudo systemctl disable nomad",
		"sudo rm -rf /etc/nomad.d",
		"sudo rm -rf /opt/nomad",
		"sudo rm -rf /var/lib/nomad",
		"sudo rm -rf " + defaults.NomadDataDir,
		"tmux kill-session -t " + defaults.NomadSession,
	}

	var errs error
	for _, n := range t.cluster.Topology.Nodes() {
		logging.L().Infow(nodeMsg(n, "removing nomad"))
		res, err := t.cluster.run(ctx, n, ssh.Sequence(cmds...))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		// The agent runs under tmux, not systemd; only the removals matter.
		errs = multierr.Append(errs, removalErrors(n, res))
	}
	return errs
}

func removalErrors(n topology.Node, res *ssh.Result) error {
	var errs error
	for i, cmd := range res.Commands {
		if res.ExitCodes[i] != 0 && strings.HasPrefix(cmd, "sudo rm ") {
			errs = multierr.Append(errs, &ssh.CommandError{Host: n.PrivateIP, Command: cmd, ExitCode: res.ExitCodes[i], Stderr: res.Stderr[i]})
		}
	}
	return errs
}

func combine(errs ...error) error {
	return multierr.Combine(errs...)
}
