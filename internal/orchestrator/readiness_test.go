package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndbctl/internal/ssh/sshtest"
	"ndbctl/internal/topology/topotest"
)

const statusPath = topotest.SharedDir + "/node_status"

// sharedFile simulates the sentinel file on the NFS share.
type sharedFile struct {
	mu    sync.Mutex
	lines []string
	skip  map[string]bool
}

func (f *sharedFile) script(rec *sshtest.Recorder) *sshtest.Recorder {
	return rec.
		OnFunc("", "| sudo tee -a "+statusPath, func(ip, _ string) sshtest.Response {
			if f.skip[ip] {
				return sshtest.Response{Stderr: "Permission denied", ExitCode: 1}
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.lines = append(f.lines, StatusLine(ip))
			return sshtest.Response{}
		}).
		OnFunc("", "sudo cat "+statusPath, func(string, string) sshtest.Response {
			f.mu.Lock()
			defer f.mu.Unlock()
			return sshtest.Response{Stdout: strings.Join(f.lines, "\n") + "\n"}
		}).
		OnFunc("", "sudo rm -f "+statusPath, func(string, string) sshtest.Response {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.lines = nil
			return sshtest.Response{}
		})
}

func TestReadinessCheckPasses(t *testing.T) {
	f := &sharedFile{}
	rec := f.script(sshtest.New())
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	require.NoError(t, NewReadiness(c).Check(context.Background()))

	assert.Equal(t, 3, rec.Count("| success' | sudo tee -a"))
	assert.Equal(t, 2, rec.Count("sudo rm -f "+statusPath))
	assert.Empty(t, f.lines)
}

func TestReadinessCheckFailsAndStillCleansUp(t *testing.T) {
	f := &sharedFile{skip: map[string]bool{"10.0.0.6": true}}
	rec := f.script(sshtest.New())
	c := Cluster{Runner: rec, Topology: topotest.HeadNode(t)}

	err := NewReadiness(c).Check(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "2/3 ok")
	assert.ErrorContains(t, err, "missing=[10.0.0.6]")
	cmds := rec.CommandsOn("10.0.0.4")
	assert.Equal(t, "sudo rm -f "+statusPath, cmds[len(cmds)-1])
}

func TestReadinessVerifiesOnIngress(t *testing.T) {
	f := &sharedFile{}
	rec := f.script(sshtest.New())
	c := Cluster{Runner: rec, Topology: topotest.Spread(t)}

	require.NoError(t, NewReadiness(c).Check(context.Background()))

	read, ok := rec.Find("sudo cat " + statusPath)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.4", read.IP)
}

func TestParseStatus(t *testing.T) {
	ips := []string{"10.0.0.4", "10.0.0.5", "10.0.0.6"}

	tests := []struct {
		name    string
		content string
		ok      bool
		want    Verification
	}{
		{
			name:    "all nodes",
			content: "10.0.0.5 | success\n10.0.0.4 | success\n10.0.0.6 | success\n",
			ok:      true,
			want:    Verification{Expected: 3, Seen: 3},
		},
		{
			name:    "one missing",
			content: "10.0.0.4 | success\n10.0.0.5 | success\n",
			want:    Verification{Expected: 3, Seen: 2, Missing: []string{"10.0.0.6"}},
		},
		{
			name:    "duplicate line",
			content: "10.0.0.4 | success\n10.0.0.5 | success\n10.0.0.5 | success\n10.0.0.6 | success\n",
			want:    Verification{Expected: 3, Seen: 3, Duplicated: []string{"10.0.0.5"}},
		},
		{
			name:    "foreign line",
			content: "10.0.0.4 | success\n10.0.0.5 | success\n10.0.0.6 | success\n10.0.0.9 | success\n",
			want:    Verification{Expected: 3, Seen: 3, Foreign: []string{"10.0.0.9 | success"}},
		},
		{
			name:    "empty file",
			content: "",
			want:    Verification{Expected: 3, Missing: ips},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStatus(tt.content, ips)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
