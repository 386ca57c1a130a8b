package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/boletin-cli/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "status", "runs", "schedule", "serve", "export"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "boletin-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("force")
	require.NotNil(t, flag, "run command should have --force flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestScheduleCommand_Flags(t *testing.T) {
	require.NotNil(t, scheduleCmd.Flags().Lookup("at"))
	require.NotNil(t, scheduleCmd.Flags().Lookup("now"))
}

func TestExportCommand_Flags(t *testing.T) {
	require.NotNil(t, exportCmd.Flags().Lookup("date"))
	require.NotNil(t, exportCmd.Flags().Lookup("out"))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestApplyGlobalFlags(t *testing.T) {
	t.Cleanup(func() { dataDirFlag, logLevelFlag = "", "" })

	c := &config.Config{}
	c.Storage.DataDir = "data"
	c.Log.Level = "info"

	applyGlobalFlags(c)
	assert.Equal(t, "data", c.Storage.DataDir)
	assert.Equal(t, "info", c.Log.Level)

	dataDirFlag, logLevelFlag = "/var/lib/boletin", "debug"
	applyGlobalFlags(c)
	assert.Equal(t, "/var/lib/boletin", c.Storage.DataDir)
	assert.Equal(t, "debug", c.Log.Level)
}
