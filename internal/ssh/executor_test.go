package ssh

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ndbctl/internal/logging"
	"ndbctl/internal/topology/topotest"
)

// shExec runs commands through the local shell, standing in for a remote session.
func shExec(ctx context.Context, command string) (Output, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

func TestJoinedBatchStopsAtFirstFailure(t *testing.T) {
	res, err := runBatch(context.Background(), "10.0.0.5", shExec, Join("true", "false", "echo unreachable"))

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, "true && false && echo unreachable", cmdErr.Command)
	assert.Equal(t, "10.0.0.5", cmdErr.Host)
	assert.NotContains(t, res.Output(), "unreachable")
	assert.Len(t, res.ExitCodes, 1)
}

func TestSequentialBatchContinuesAfterFailure(t *testing.T) {
	res, err := runBatch(context.Background(), "10.0.0.5", shExec, Sequence("echo a", "false", "echo b"))
	require.NoError(t, err)

	assert.Equal(t, "a\nb\n", res.Output())
	assert.Equal(t, []int{0, 1, 0}, res.ExitCodes)

	var cmdErr *CommandError
	require.ErrorAs(t, res.Err(), &cmdErr)
	assert.Equal(t, "false", cmdErr.Command)
}

func TestSequentialResultAggregatesEveryFailure(t *testing.T) {
	res, err := runBatch(context.Background(), "10.0.0.6", shExec, Sequence("exit 2", "echo ok", "exit 3"))
	require.NoError(t, err)

	errs := res.Err()
	require.Error(t, errs)
	assert.Contains(t, errs.Error(), "status 2")
	assert.Contains(t, errs.Error(), "status 3")
}

func TestEmptyBatchRunsNothing(t *testing.T) {
	called := false
	res, err := runBatch(context.Background(), "10.0.0.5", func(context.Context, string) (Output, error) {
		called = true
		return Output{}, nil
	}, Join())
	require.NoError(t, err)
	assert.False(t, called)
	assert.NoError(t, res.Err())
}

func TestTransportFailureAbortsBatch(t *testing.T) {
	var ran []string
	boom := errors.New("channel closed")
	res, err := runBatch(context.Background(), "10.0.0.5", func(_ context.Context, cmd string) (Output, error) {
		ran = append(ran, cmd)
		if cmd == "second" {
			return Output{}, boom
		}
		return Output{}, nil
	}, Sequence("first", "second", "third"))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Len(t, res.ExitCodes, 1)
}

func TestStderrWarningUnlessExpected(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := logging.Replace(zap.New(core))
	defer restore()

	_, err := runBatch(context.Background(), "10.0.0.5", shExec, Join("echo noisy >&2"))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("command wrote to stderr").Len())

	batch := Join("echo 'Connection to 10.0.0.6 22 port [tcp/ssh] succeeded!' >&2")
	batch.ExpectStderr = true
	res, err := runBatch(context.Background(), "10.0.0.5", shExec, batch)
	require.NoError(t, err)
	assert.Contains(t, res.Stderr[0], "succeeded")
	assert.Equal(t, 1, logs.FilterMessage("command wrote to stderr").Len())
}

func TestRouteUseJump(t *testing.T) {
	route := Route{IngressPublicIP: "203.0.113.10", IngressPrivateIP: "10.0.0.4", IngressUser: "admin", NodeUser: "ubuntu"}
	assert.False(t, route.UseJump("10.0.0.4"))
	assert.True(t, route.UseJump("10.0.0.5"))
	assert.True(t, route.UseJump("203.0.113.10"))
}

func TestRouteForJumpsOnlyToNonIngressNodes(t *testing.T) {
	topo := topotest.RemoteServer(t)
	route := RouteFor(topo)

	assert.Equal(t, Route{IngressPublicIP: "203.0.113.10", IngressPrivateIP: "10.0.0.4", IngressUser: "admin", NodeUser: "ubuntu"}, route)
	for _, ip := range topo.IPs() {
		assert.Equal(t, ip != "10.0.0.4", route.UseJump(ip), ip)
	}
}
