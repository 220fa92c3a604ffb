package main

import (
	"testing"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApp(t *testing.T) {
	app := buildApp()
	names := []string{}
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"service", "admin"}, names)

	service := app.Command("service")
	require.NotNil(t, service)
	assert.Equal(t, "web", service.Subcommands[0].Name)
}

func TestLoggingSetup(t *testing.T) {
	defer func() { require.NoError(t, loggingSetup("tracker", "info")) }()

	require.NoError(t, loggingSetup("tracker-test", "debug"))
	assert.Equal(t, "tracker-test", grip.Name())
	assert.Equal(t, level.Debug, grip.GetSender().Level().Threshold)
}
