package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReplacesOnlyKnownPlaceholders(t *testing.T) {
	tpl := `job "traefik" {
  node_pool = "{{ NODE_POOL }}"
  meta { server = "{{ PRIVATE_SERVER_IP }}" }
  template { data = "{{ with nomadVar \"nomad/jobs\" }}{{ .sql_uri }}{{ end }}" }
  env { UNKNOWN = "{{ NOT_SET }}" }
}`
	out := Render(tpl, map[string]string{"NODE_POOL": "web_ingress", "PRIVATE_SERVER_IP": "10.0.0.4"})

	assert.Contains(t, out, `node_pool = "web_ingress"`)
	assert.Contains(t, out, `server = "10.0.0.4"`)
	assert.Contains(t, out, `{{ with nomadVar \"nomad/jobs\" }}{{ .sql_uri }}{{ end }}`)
	assert.Contains(t, out, `"{{ NOT_SET }}"`)
}

func TestRenderKeepsDollarSigns(t *testing.T) {
	out := Render("secret = \"{{ JWT_SECRET }}\"", map[string]string{"JWT_SECRET": "a$1b${x}"})
	assert.Equal(t, `secret = "a$1b${x}"`, out)
}

func TestDefaultSpecsOrderAndValues(t *testing.T) {
	specs := DefaultSpecs(Params{
		PrivateServerIP:    "10.0.0.4",
		PublicServerIP:     "203.0.113.10",
		NodePool:           "default",
		AutoscalingEnabled: true,
		AutoscalerMaxCount: 3,
		Version:            "v1.2.3",
	})

	require.Len(t, specs, 3)
	assert.Equal(t, "traefik", specs[0].ID)
	assert.Equal(t, "model-bazaar", specs[1].ID)
	assert.Equal(t, "nomad-autoscaler", specs[2].ID)

	assert.Equal(t, "true", specs[1].Values["AUTOSCALING_ENABLED"])
	assert.Equal(t, "3", specs[1].Values["AUTOSCALER_MAX_COUNT"])
	assert.Equal(t, "v1.2.3", specs[1].Values["NDBE_VERSION"])
	assert.Empty(t, specs[2].Values)
}

func TestLoadReadsTemplateFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "traefik_job.hcl.tpl"), []byte(`pool = "{{ NODE_POOL }}"`), 0o644))

	out, err := Load(dir, DefaultSpecs(Params{NodePool: "default"})[0])
	require.NoError(t, err)
	assert.Equal(t, `pool = "default"`, out)

	_, err = Load(dir, DefaultSpecs(Params{})[2])
	require.Error(t, err)
}

func TestPayloads(t *testing.T) {
	body, err := ParseRequestBody("job \"x\" {\n  name = 'quoted'\n}")
	require.NoError(t, err)

	var req ParseRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.True(t, req.Canonicalize)
	assert.Contains(t, req.JobHCL, "'quoted'")

	job, err := ParsedJob(`{"ID":"traefik","Type":"service"}` + "\n")
	require.NoError(t, err)

	submit, err := SubmitRequestBody(job)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Job":{"ID":"traefik","Type":"service"}}`, string(submit))
}

func TestParsedJobRejectsErrors(t *testing.T) {
	_, err := ParsedJob("1 error occurred: invalid HCL")
	require.Error(t, err)

	_, err = ParsedJob(`{"Type":"service"}`)
	require.Error(t, err)
}

func TestDecodeSubmitResponse(t *testing.T) {
	resp, err := DecodeSubmitResponse(`{"EvalID":"e-1","JobModifyIndex":42,"Warnings":""}`)
	require.NoError(t, err)
	assert.Equal(t, "e-1", resp.EvalID)
	assert.EqualValues(t, 42, resp.JobModifyIndex)

	_, err = DecodeSubmitResponse(`Permission denied`)
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	cmd := PostCommand(URL("/v1/jobs"), "tok-123", "/tmp/ndbctl/traefik.submit.json")
	assert.Equal(t,
		`curl -sS -X POST -H 'Content-Type: application/json' -H 'X-Nomad-Token: tok-123' --data-binary @/tmp/ndbctl/traefik.submit.json -w '\n%{http_code}' http://localhost:4646/v1/jobs`,
		cmd)

	assert.Equal(t, "http://localhost:4646/v1/job/traefik?purge=true", DeregisterURL("traefik"))
	assert.Contains(t, DeleteCommand(DeregisterURL("traefik"), "tok"), `-H 'X-Nomad-Token: tok'`)
	assert.Contains(t, DeleteCommand(DeregisterURL("traefik"), "tok"), `'http://localhost:4646/v1/job/traefik?purge=true'`)
}

func TestSplitStatus(t *testing.T) {
	tests := []struct {
		in   string
		body string
		code int
	}{
		{"{\"EvalID\":\"x\"}\n200", `{"EvalID":"x"}`, 200},
		{"job not found\n404\n", "job not found", 404},
		{"200", "", 200},
		{"no status", "no status", 0},
	}
	for _, tt := range tests {
		body, code := SplitStatus(tt.in)
		assert.Equal(t, tt.body, body, tt.in)
		assert.Equal(t, tt.code, code, tt.in)
	}
}
