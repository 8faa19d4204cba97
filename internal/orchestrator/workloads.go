package orchestrator

import (
	"context"
	"fmt"
	"path"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/jobs"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Workloads submits the job templates to Nomad through the HTTP API of the
// ingress node's agent.
type Workloads struct {
	cluster Cluster
	dir     string
	specs   []jobs.Spec
}

// NewWorkloads returns the workload stage reading templates from dir.
func NewWorkloads(c Cluster, dir string, specs []jobs.Spec) *Workloads {
	return &Workloads{cluster: c, dir: dir, specs: specs}
}

// DeployJobs parses and registers every job in order. The first failure
// aborts the stage.
func (w *Workloads) DeployJobs(ctx context.Context, token string) error {
	if token == "" {
		return jobs.ErrMissingToken
	}

	log := logging.L().With("component", "orchestrator", "phase", "jobs")
	ingress := w.cluster.Topology.Ingress()

	for i, spec := range w.specs {
		log.Infow(fmt.Sprintf("→ Step %d/%d: submitting job %s", i+1, len(w.specs), spec.ID), "template", spec.Template)
		resp, err := w.submit(ctx, ingress, spec, token)
		if err != nil {
			return fmt.Errorf("failed to submit job %s: %w", spec.ID, err)
		}
		log.Infow(fmt.Sprintf("✓ job %s registered", spec.ID), "eval_id", resp.EvalID, "modify_index", resp.JobModifyIndex)
		if resp.Warnings != "" {
			log.Warnw(fmt.Sprintf("⚠️ job %s registered with warnings", spec.ID), "warnings", resp.Warnings)
		}
	}

	log.Infow("✅ all jobs submitted", "jobs", len(w.specs))
	return nil
}

func (w *Workloads) submit(ctx context.Context, ingress topology.Node, spec jobs.Spec, token string) (jobs.SubmitResponse, error) {
	hcl, err := jobs.Load(w.dir, spec)
	if err != nil {
		return jobs.SubmitResponse{}, err
	}

	parseBody, err := jobs.ParseRequestBody(hcl)
	if err != nil {
		return jobs.SubmitResponse{}, err
	}
	parsed, err := w.post(ctx, ingress, spec.ID+".parse.json", parseBody, "/v1/jobs/parse", token)
	if err != nil {
		return jobs.SubmitResponse{}, fmt.Errorf("parse: %w", err)
	}
	job, err := jobs.ParsedJob(parsed)
	if err != nil {
		logging.L().Errorw("job parse failed", "job", spec.ID, "body", parsed)
		return jobs.SubmitResponse{}, err
	}

	submitBody, err := jobs.SubmitRequestBody(job)
	if err != nil {
		return jobs.SubmitResponse{}, err
	}
	submitted, err := w.post(ctx, ingress, spec.ID+".submit.json", submitBody, "/v1/jobs", token)
	if err != nil {
		return jobs.SubmitResponse{}, fmt.Errorf("register: %w", err)
	}
	resp, err := jobs.DecodeSubmitResponse(submitted)
	if err != nil {
		logging.L().Errorw("job registration failed", "job", spec.ID, "body", submitted)
		return jobs.SubmitResponse{}, err
	}
	return resp, nil
}

// post uploads body to the ingress node and posts it to the local agent.
// Payloads contain secrets: the same shell command that posts the file
// removes it, whatever curl returns.
func (w *Workloads) post(ctx context.Context, ingress topology.Node, name string, body []byte, apiPath, token string) (string, error) {
	remote := path.Join(defaults.RemoteStagingDir, name)
	if err := ssh.PutBytes(ctx, w.cluster.Runner, ingress.PrivateIP, body, remote); err != nil {
		w.discard(ctx, ingress, remote)
		return "", err
	}

	batch := ssh.Sequence(fmt.Sprintf("%s; rc=$?; rm -f %s; exit $rc",
		jobs.PostCommand(jobs.URL(apiPath), token, remote), shellescape.Quote(remote)))
	batch.Sensitive = true
	res, err := w.cluster.run(ctx, ingress, batch)
	if err != nil {
		w.discard(ctx, ingress, remote)
		return "", err
	}
	if res.ExitCodes[0] != 0 {
		return "", fmt.Errorf("curl exited with status %d: %s", res.ExitCodes[0], res.Stderr[0])
	}

	out, status := jobs.SplitStatus(res.Stdout[0])
	if status != 200 {
		logging.L().Errorw("nomad api request failed", "path", apiPath, "status", status, "body", out)
		return "", fmt.Errorf("nomad api %s returned status %d: %s", apiPath, status, out)
	}
	return out, nil
}

// discard removes a staged payload after a failed post. It is best effort.
func (w *Workloads) discard(ctx context.Context, ingress topology.Node, remote string) {
	if _, err := w.cluster.run(context.WithoutCancel(ctx), ingress, ssh.Sequence("rm -f "+shellescape.Quote(remote))); err != nil {
		logging.L().Warnw(nodeMsg(ingress, "⚠️ failed to remove staged payload"), "path", remote, "error", err)
	}
}
