package main

import (
	"bytes"
	"testing"

	"github.com/leochame/lavis/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestRootCmd_RegistersExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "skills", "scheduler", "config"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestConfigPathCmd_PrintsResolvedPath(t *testing.T) {
	configPath = "/tmp/lavis-test-config.yaml"

	var buf bytes.Buffer
	configPathCmd.SetOut(&buf)

	err := configPathCmd.RunE(configPathCmd, nil)
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/lavis-test-config.yaml\n", buf.String())
}

func TestConfigShowCmd_MarshalsLoadedConfig(t *testing.T) {
	cfg = config.Default()
	err := runConfigShow()
	assert.NoError(t, err)
}
