// Package deployer drives the bring-up, teardown and validation runs: it
// resolves the topology, wires the SSH executor and runs the stages in order.
package deployer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ndbctl/internal/clusterstate"
	"ndbctl/internal/config"
	"ndbctl/internal/defaults"
	"ndbctl/internal/jobs"
	"ndbctl/internal/logging"
	"ndbctl/internal/orchestrator"
	"ndbctl/internal/provision"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Stage names, in execution order.
const (
	StageValidate      = "validate"
	StageSharedStorage = "shared-storage"
	StageReadiness     = "readiness"
	StageLicense       = "license"
	StageScheduler     = "scheduler"
	StageDatabase      = "database"
	StageWorkloads     = "workloads"
)

// StageFailure aborts a run. Resources created by earlier stages are left in
// place.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// Options tune a run. The zero value is a normal run against real nodes.
type Options struct {
	MetricsFile string // node_exporter textfile receiving the stage timings
	Strict      bool   // abort when the validator reports failures

	// Resolver and Runner replace the configured provider and the SSH
	// executor.
	Resolver provision.Resolver
	Runner   ssh.Runner

	Poll orchestrator.Poll
	Now  func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Result describes a successful bring-up.
type Result struct {
	RunID           string
	Artifact        string
	IngressPublicIP string
	SQLURI          string
	Validation      orchestrator.Report
}

// session is the wiring shared by every run kind.
type session struct {
	topo    *topology.Topology
	cluster orchestrator.Cluster
	close   func()
}

func open(ctx context.Context, cfg *config.Config, opts Options) (*session, error) {
	resolver := opts.Resolver
	if resolver == nil {
		var err error
		if resolver, err = provision.New(cfg); err != nil {
			return nil, err
		}
	}

	logging.L().Infow(fmt.Sprintf("resolving nodes with the %s provider", resolver.Name()))
	topo, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve nodes: %w", err)
	}

	s := &session{topo: topo, close: func() {}}
	runner := opts.Runner
	if runner == nil {
		exec, err := ssh.NewExecutor(ssh.RouteFor(topo), ssh.Options{
			Identity:         ssh.Identity{PrivateKeyPath: topo.KeyRef()},
			Port:             defaults.SSHPort,
			DialTimeout:      defaults.SSHDialTimeout,
			HandshakeTimeout: defaults.SSHHandshakeTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SSH executor: %w", err)
		}
		runner = exec
		s.close = func() { _ = exec.Close() }
	}

	s.cluster = orchestrator.Cluster{Runner: runner, Topology: topo, Parallelism: cfg.Deployment.Parallelism}
	return s, nil
}

// Deploy brings the cluster up: validate, shared storage, readiness,
// license, scheduler, database, workloads. The first failing stage aborts
// the run with a StageFailure.
func Deploy(ctx context.Context, cfg *config.Config, opts Options) (*Result, error) {
	runID := uuid.NewString()
	log := logging.L().With("component", "deployer", "run_id", runID)
	log.Infow("🚀 Starting cluster deployment", "cluster_type", cfg.ClusterType, "version", cfg.Version)

	sess, err := open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer sess.close()
	topo := sess.topo

	res := &Result{RunID: runID, IngressPublicIP: topo.Ingress().Ingress.PublicIP}
	if res.Artifact, err = clusterstate.Write(cfg.Deployment.ArtifactDir, cfg, topo, runID, opts.now()); err != nil {
		return nil, fmt.Errorf("failed to write resolved cluster: %w", err)
	}
	mirrorArtifact(ctx, cfg, res.Artifact)

	metrics := newStageMetrics()
	if opts.MetricsFile != "" {
		defer func() {
			if err := metrics.write(opts.MetricsFile); err != nil {
				log.Warnw("⚠️ failed to write stage metrics", "path", opts.MetricsFile, "error", err)
			}
		}()
	}

	c := sess.cluster
	scheduler := orchestrator.NewScheduler(c, opts.Poll)
	externalURI, _ := cfg.ExternalSQLURI()
	var tokens orchestrator.Tokens

	stages := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{StageValidate, func(ctx context.Context) error {
			res.Validation = orchestrator.NewValidator(c).Validate(ctx)
			if err := res.Validation.Err(); err != nil {
				if opts.Strict || cfg.Deployment.StrictValidation {
					return err
				}
				log.Warnw("⚠️ validation reported failures, continuing", "failures", len(res.Validation.Failures()))
			}
			return nil
		}},
		{StageSharedStorage, orchestrator.NewSharedStorage(c).Setup},
		{StageReadiness, orchestrator.NewReadiness(c).Check},
		{StageLicense, orchestrator.NewLicense(c, cfg.Security.LicensePath, cfg.Security.AirgappedLicensePath).Upload},
		{StageScheduler, func(ctx context.Context) error {
			var err error
			tokens, err = scheduler.Bootstrap(ctx)
			return err
		}},
		{StageDatabase, func(ctx context.Context) error {
			var err error
			res.SQLURI, err = orchestrator.NewDatabase(c, scheduler, externalURI).Run(ctx, tokens.Management)
			return err
		}},
		{StageWorkloads, func(ctx context.Context) error {
			specs := jobs.DefaultSpecs(jobParams(cfg, topo))
			return orchestrator.NewWorkloads(c, cfg.Deployment.JobsDir, specs).DeployJobs(ctx, tokens.TaskRunner)
		}},
	}

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &StageFailure{Stage: st.name, Err: err}
		}

		log.Infow(fmt.Sprintf("Phase %d/%d: %s", i+1, len(stages), st.name))
		start := time.Now()
		err := st.run(ctx)
		metrics.observe(st.name, start, err)
		if err != nil {
			log.Errorw(fmt.Sprintf("❌ %s failed", st.name), "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil, &StageFailure{Stage: st.name, Err: err}
		}
		log.Infow(fmt.Sprintf("✅ %s complete", st.name), "elapsed", time.Since(start).Round(time.Millisecond))
	}

	log.Infow("🎉 Cluster deployment complete!", "ingress", res.IngressPublicIP, "artifact", res.Artifact)
	return res, nil
}

func mirrorArtifact(ctx context.Context, cfg *config.Config, path string) {
	mirror, err := clusterstate.MirrorFromConfig(ctx, cfg.Deployment)
	if err == nil && mirror != nil {
		_, err = mirror.Upload(ctx, path)
	}
	if err != nil {
		logging.L().Warnw("⚠️ failed to mirror resolved cluster", "bucket", cfg.Deployment.ArtifactBucket, "error", err)
	}
}

func jobParams(cfg *config.Config, topo *topology.Topology) jobs.Params {
	ingress := topo.Ingress()
	return jobs.Params{
		PrivateServerIP:    topo.SchedulerServer().PrivateIP,
		PublicServerIP:     ingress.Ingress.PublicIP,
		NodePool:           topo.NodePool(ingress),
		ShareDir:           topo.SharedDir(),
		JWTSecret:          cfg.Security.JWTSecret,
		AdminUsername:      cfg.Security.Admin.Username,
		AdminMail:          cfg.Security.Admin.Email,
		AdminPassword:      cfg.Security.Admin.Password,
		AutoscalingEnabled: cfg.Autoscaling.Enabled,
		AutoscalerMaxCount: cfg.Autoscaling.MaxCount,
		GenAIKey:           cfg.API.GenAIKey,
		Version:            cfg.Version,
	}
}

// Teardown removes everything the bring-up installed on the nodes described
// by cfg, usually a resolved-cluster artifact. Every step is attempted.
func Teardown(ctx context.Context, cfg *config.Config, opts Options) error {
	log := logging.L().With("component", "deployer")
	log.Infow("🧹 Starting cluster teardown", "cluster_type", cfg.ClusterType)

	sess, err := open(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer sess.close()

	_, external := cfg.ExternalSQLURI()
	if err := orchestrator.NewTeardown(sess.cluster, external).Run(ctx); err != nil {
		return fmt.Errorf("teardown incomplete: %w", err)
	}
	return nil
}

// Validate probes every node and returns the report without changing
// anything.
func Validate(ctx context.Context, cfg *config.Config, opts Options) (orchestrator.Report, error) {
	sess, err := open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	return orchestrator.NewValidator(sess.cluster).Validate(ctx), nil
}
