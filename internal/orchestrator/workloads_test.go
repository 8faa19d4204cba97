package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndbctl/internal/jobs"
	"ndbctl/internal/ssh/sshtest"
	"ndbctl/internal/topology/topotest"
)

func jobTemplates(t *testing.T) (string, []jobs.Spec) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "traefik.hcl"),
		[]byte(`job "traefik" { datacenters = ["{{ DC }}"] }`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_bazaar.hcl"),
		[]byte(`job "model-bazaar" { meta { db = "{{ SQL }}" } }`), 0o644))
	return dir, []jobs.Spec{
		{ID: "traefik", Template: "traefik.hcl", Values: map[string]string{"DC": "dc1"}},
		{ID: "model-bazaar", Template: "model_bazaar.hcl", Values: map[string]string{"SQL": "sql_uri"}},
	}
}

func scriptJobsAPI(rec *sshtest.Recorder) *sshtest.Recorder {
	return rec.
		On("/v1/jobs", sshtest.Response{Stdout: `{"EvalID":"e-1","JobModifyIndex":7,"Warnings":""}` + "\n200"}).
		On("/v1/jobs/parse", sshtest.Response{Stdout: `{"ID":"parsed","Name":"parsed"}` + "\n200"})
}

func TestDeployJobsRequiresToken(t *testing.T) {
	rec := sshtest.New()
	dir, specs := jobTemplates(t)
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	err := NewWorkloads(c, dir, specs).DeployJobs(context.Background(), "")

	assert.ErrorIs(t, err, jobs.ErrMissingToken)
	assert.Empty(t, rec.Commands())
	assert.Empty(t, rec.Transfers())
}

func TestDeployJobsParsesThenSubmitsInOrder(t *testing.T) {
	rec := scriptJobsAPI(sshtest.New())
	dir, specs := jobTemplates(t)
	c := Cluster{Runner: rec, Topology: topotest.Spread(t)}

	require.NoError(t, NewWorkloads(c, dir, specs).DeployJobs(context.Background(), "runner-token"))

	order := []string{
		"@/tmp/ndbctl/traefik.parse.json",
		"@/tmp/ndbctl/traefik.submit.json",
		"@/tmp/ndbctl/model-bazaar.parse.json",
		"@/tmp/ndbctl/model-bazaar.submit.json",
	}
	prev := -1
	for _, payload := range order {
		i := rec.Index(payload)
		require.GreaterOrEqual(t, i, 0, payload)
		assert.Greater(t, i, prev, payload)
		prev = i
	}

	for _, cmd := range rec.Commands() {
		assert.Equal(t, "10.0.0.4", cmd.IP, cmd.Text)
	}
	post, ok := rec.Find("curl -sS -X POST")
	require.True(t, ok)
	assert.Contains(t, post.Text, "'X-Nomad-Token: runner-token'")

	body, ok := rec.Uploaded("/tmp/ndbctl/traefik.parse.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"JobHCL":"job \"traefik\" { datacenters = [\"dc1\"] }","Canonicalize":true}`, string(body))

	submitted, ok := rec.Uploaded("/tmp/ndbctl/traefik.submit.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"Job":{"ID":"parsed","Name":"parsed"}}`, string(submitted))
	assert.Equal(t, 4, rec.Count("rm -f /tmp/ndbctl/"))
	assert.Contains(t, post.Text, "; rc=$?; rm -f /tmp/ndbctl/traefik.parse.json; exit $rc")
}

func TestDeployJobsRemovesPayloadAfterTransportFailure(t *testing.T) {
	rec := scriptJobsAPI(sshtest.New()).
		On("-X POST", sshtest.Response{Err: errors.New("connection reset by peer")})
	dir, specs := jobTemplates(t)
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	err := NewWorkloads(c, dir, specs).DeployJobs(context.Background(), "runner-token")

	assert.ErrorContains(t, err, "connection reset by peer")
	cmds := rec.CommandsOn("10.0.0.4")
	require.NotEmpty(t, cmds)
	assert.Equal(t, "rm -f /tmp/ndbctl/traefik.parse.json", cmds[len(cmds)-1])
}

func TestDeployJobsAbortsOnRejectedJob(t *testing.T) {
	rec := scriptJobsAPI(sshtest.New()).
		On("traefik.submit.json", sshtest.Response{Stdout: "1 error occurred: missing datacenters\n400"})
	dir, specs := jobTemplates(t)
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	err := NewWorkloads(c, dir, specs).DeployJobs(context.Background(), "runner-token")

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to submit job traefik")
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, -1, rec.Index("model-bazaar"))
}

func TestDeployJobsMissingTemplate(t *testing.T) {
	rec := scriptJobsAPI(sshtest.New())
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	err := NewWorkloads(c, t.TempDir(), []jobs.Spec{{ID: "traefik", Template: "traefik.hcl"}}).
		DeployJobs(context.Background(), "runner-token")

	assert.ErrorContains(t, err, "failed to read job template traefik.hcl")
	assert.Empty(t, rec.Commands())
}
