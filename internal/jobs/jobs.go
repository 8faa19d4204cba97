// Package jobs renders the workload job templates and builds the Nomad HTTP
// API payloads and curl commands used to submit them from a cluster node.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
)

// ErrMissingToken is returned when no task-runner token is available for
// submission.
var ErrMissingToken = errors.New("task runner token cannot be retrieved; nomad ACL bootstrap did not complete")

// Spec is one job to submit: its ID, template file and placeholder values.
type Spec struct {
	ID       string
	Template string
	Values   map[string]string
}

// Params are the cluster facts substituted into the templates.
type Params struct {
	PrivateServerIP    string
	PublicServerIP     string
	NodePool           string
	ShareDir           string
	JWTSecret          string
	AdminUsername      string
	AdminMail          string
	AdminPassword      string
	AutoscalingEnabled bool
	AutoscalerMaxCount int
	GenAIKey           string
	Version            string
}

// DefaultSpecs returns the workloads in submission order.
func DefaultSpecs(p Params) []Spec {
	return []Spec{
		{
			ID:       "traefik",
			Template: "traefik_job.hcl.tpl",
			Values: map[string]string{
				"PRIVATE_SERVER_IP": p.PrivateServerIP,
				"NODE_POOL":         p.NodePool,
			},
		},
		{
			ID:       "model-bazaar",
			Template: "model_bazaar_job.hcl.tpl",
			Values: map[string]string{
				"SHARE_DIR":            p.ShareDir,
				"PUBLIC_SERVER_IP":     p.PublicServerIP,
				"PRIVATE_SERVER_IP":    p.PrivateServerIP,
				"JWT_SECRET":           p.JWTSecret,
				"ADMIN_USERNAME":       p.AdminUsername,
				"ADMIN_MAIL":           p.AdminMail,
				"ADMIN_PASSWORD":       p.AdminPassword,
				"AUTOSCALING_ENABLED":  strconv.FormatBool(p.AutoscalingEnabled),
				"AUTOSCALER_MAX_COUNT": strconv.Itoa(p.AutoscalerMaxCount),
				"GENAI_KEY":            p.GenAIKey,
				"NDBE_VERSION":         p.Version,
			},
		},
		{
			ID:       "nomad-autoscaler",
			Template: "nomad_autoscaler_job.hcl",
		},
	}
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render replaces {{ KEY }} placeholders with known values. Any other
// {{ ... }} expression is left for Nomad's own templating.
func Render(template string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := values[key]; ok {
			return v
		}
		return m
	})
}

// Load reads the spec's template from dir and renders it.
func Load(dir string, spec Spec) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, spec.Template))
	if err != nil {
		return "", fmt.Errorf("failed to read job template %s: %w", spec.Template, err)
	}
	return Render(string(data), spec.Values), nil
}

// ParseRequest is the body of POST /v1/jobs/parse.
type ParseRequest struct {
	JobHCL       string `json:"JobHCL"`
	Canonicalize bool   `json:"Canonicalize"`
}

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Job json.RawMessage `json:"Job"`
}

// SubmitResponse is the decoded reply of POST /v1/jobs.
type SubmitResponse struct {
	EvalID         string `json:"EvalID"`
	JobModifyIndex uint64 `json:"JobModifyIndex"`
	Warnings       string `json:"Warnings"`
}

// ParseRequestBody encodes the HCL for the parse endpoint.
func ParseRequestBody(hcl string) ([]byte, error) {
	return json.Marshal(ParseRequest{JobHCL: hcl, Canonicalize: true})
}

// SubmitRequestBody wraps a parsed job for the register endpoint.
func SubmitRequestBody(job json.RawMessage) ([]byte, error) {
	return json.Marshal(SubmitRequest{Job: job})
}

// ParsedJob validates the parse endpoint's reply: a JSON object carrying
// the job ID.
func ParsedJob(body string) (json.RawMessage, error) {
	var job struct {
		ID string `json:"ID"`
	}
	raw := json.RawMessage(strings.TrimSpace(body))
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("job parse returned invalid JSON: %w", err)
	}
	if job.ID == "" {
		return nil, errors.New("job parse returned a job without an ID")
	}
	return raw, nil
}

// DecodeSubmitResponse decodes the register endpoint's reply.
func DecodeSubmitResponse(body string) (SubmitResponse, error) {
	var resp SubmitResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("job submission returned invalid JSON: %w", err)
	}
	if resp.EvalID == "" {
		return SubmitResponse{}, errors.New("job submission returned no evaluation")
	}
	return resp, nil
}

// URL returns the agent-local API URL for path.
func URL(path string) string {
	return defaults.NomadAPI + path
}

// PostCommand builds a curl invocation posting the file at payloadPath.
// The HTTP status code is appended to the body on its own line.
func PostCommand(url, token, payloadPath string) string {
	return fmt.Sprintf("curl -sS -X POST -H 'Content-Type: application/json' -H %s --data-binary @%s -w '\\n%%{http_code}' %s",
		shellescape.Quote("X-Nomad-Token: "+token), shellescape.Quote(payloadPath), shellescape.Quote(url))
}

// DeleteCommand builds a curl invocation deleting url with token.
func DeleteCommand(url, token string) string {
	return fmt.Sprintf("curl -sS -X DELETE -H %s -w '\\n%%{http_code}' %s",
		shellescape.Quote("X-Nomad-Token: "+token), shellescape.Quote(url))
}

// DeregisterURL is the purge URL of a job.
func DeregisterURL(id string) string {
	return URL("/v1/job/" + id + "?purge=true")
}

// SplitStatus separates the body from the status line appended by the
// commands above.
func SplitStatus(output string) (string, int) {
	output = strings.TrimRight(output, "\n")
	i := strings.LastIndex(output, "\n")
	code, err := strconv.Atoi(strings.TrimSpace(output[i+1:]))
	if err != nil {
		return output, 0
	}
	if i < 0 {
		return "", code
	}
	return output[:i], code
}
