package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndbctl/internal/orchestrator"
)

func TestRoot_HasSubcommands(t *testing.T) {
	cmd := Root()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "validate", "version"}, names)
}

func TestConfigFlagIsRequired(t *testing.T) {
	for _, name := range []string{"up", "down", "validate"} {
		t.Run(name, func(t *testing.T) {
			cmd := Root()
			cmd.SetArgs([]string{name})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), `required flag(s) "config" not set`)
		})
	}
}

func TestUpFlags(t *testing.T) {
	cmd := Up()

	require.NotNil(t, cmd.Flags().Lookup("metrics-file"))
	require.NotNil(t, cmd.Flags().Lookup("strict"))
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
}

func TestUpMissingConfigFile(t *testing.T) {
	cmd := Root()
	cmd.SetArgs([]string{"up", "-c", "/nonexistent/cluster.yaml"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestVersion_Output(t *testing.T) {
	origVersion, origBuilt := version, buildTime
	defer SetVersionInfo(origVersion, origBuilt)
	SetVersionInfo("2026-03-14-0926", "2026-03-14T09:26:53Z")

	var out bytes.Buffer
	cmd := Version()
	cmd.SetArgs([]string{})
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "ndbctl 2026-03-14-0926 (built 2026-03-14T09:26:53Z)\n", out.String())
}

func TestPrintReport(t *testing.T) {
	report := orchestrator.Report{
		"10.0.0.5": {SSHAndPrivilege: true, Internet: true, ResourcesOK: true, OSVersionOK: false, Ports: map[int]bool{22: true, 80: false}},
		"10.0.0.4": {SSHAndPrivilege: true, Internet: true, ResourcesOK: true, OSVersionOK: true, Ports: map[int]bool{22: true}},
	}

	var out bytes.Buffer
	printReport(&out, report)

	assert.Equal(t, "✓ 10.0.0.4        all checks passed\n✗ 10.0.0.5        os_version, port_80\n", out.String())
}
