package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jessegoodier/kdebug/internal/debug"
)

func TestRootCmdProperties(t *testing.T) {
	assert.Equal(t, "kdebug", rootCmd.Use)
	assert.True(t, strings.Contains(rootCmd.Long, "ephemeral debug container"))
	assert.True(t, strings.Contains(rootCmd.Long, "/proc/1/root"))
	assert.True(t, rootCmd.SilenceUsage)
}

func TestSetVersion(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() {
		rootCmd.Version = originalVersion
	}()

	testVersion := "v1.2.3-test"
	SetVersion(testVersion)

	assert.Equal(t, testVersion, rootCmd.Version)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	var foundCommands []string
	for _, cmd := range rootCmd.Commands() {
		foundCommands = append(foundCommands, cmd.Use)
	}

	assert.Contains(t, foundCommands, "version")
}

func TestRootCommandFlags(t *testing.T) {
	flags := rootCmd.Flags()

	for _, name := range []string{
		"pod", "controller", "controller-name", "namespace", "container",
		"debug-image", "cmd", "cd-into", "as-root", "timeout",
		"backup", "compress",
		"kubeconfig", "context", "in-cluster", "qps-limit", "burst-limit",
		"debug",
	} {
		assert.NotNil(t, flags.Lookup(name), "flag %q should be registered", name)
	}

	assert.Equal(t, debug.DefaultImage, flags.Lookup("debug-image").DefValue)
	assert.Equal(t, "n", flags.Lookup("namespace").Shorthand)
}
