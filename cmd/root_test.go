package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"serve", "identify", "migrate", "catalog", "submissions", "stats"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "teardown", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestIdentifyCommand_Flags(t *testing.T) {
	for _, name := range []string{"hint", "provider", "user"} {
		assert.NotNil(t, identifyCmd.Flags().Lookup(name), "identify should have --%s flag", name)
	}
	assert.Error(t, identifyCmd.Args(identifyCmd, nil), "identify requires at least one image")
	assert.NoError(t, identifyCmd.Args(identifyCmd, []string{"a.jpg", "b.jpg"}))
}

func TestCatalogCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range catalogCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"import", "list", "show"} {
		assert.True(t, names[name], "catalog should have subcommand %q", name)
	}

	flag := catalogListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}

func TestSubmissionsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range submissionsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "approve", "reject", "request-info"} {
		assert.True(t, names[name], "submissions should have subcommand %q", name)
	}

	status := submissionsListCmd.Flags().Lookup("status")
	require.NotNil(t, status)
	assert.Equal(t, "pending", status.DefValue)

	for _, c := range []string{"approve", "reject", "request-info"} {
		sub, _, err := submissionsCmd.Find([]string{c})
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup("reviewer"), "%s should have --reviewer flag", c)
	}
}

func TestStatsCommand_Flags(t *testing.T) {
	bucket := statsCmd.Flags().Lookup("bucket")
	require.NotNil(t, bucket)
	assert.Equal(t, "hour", bucket.DefValue)

	since := statsCmd.Flags().Lookup("since")
	require.NotNil(t, since)
	assert.Equal(t, "24h0m0s", since.DefValue)

	assert.NotNil(t, statsCmd.Flags().Lookup("xlsx"))
}
