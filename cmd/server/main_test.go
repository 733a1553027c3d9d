package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tonyb8121/Inventory-Management-System/internal/config"
)

func TestValidateSecurityConfig(t *testing.T) {
	strong := "0123456789abcdef0123456789abcdef"

	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strong}))
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strong, AllowedOrigins: []string{"*"}}))

	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strong, AppEnv: "production", AllowedOrigins: []string{"*"}}))
	assert.NoError(t, validateSecurityConfig(config.Config{
		AuthSecret: strong, AppEnv: "production", AllowedOrigins: []string{"https://till.example.com"},
	}))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := newLogger(config.Config{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(config.Config{LogLevel: "bogus", AppEnv: "production"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, 2)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate"}, names)
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--env-file", ""})
	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestServeRejectsWeakSecretBeforeStarting(t *testing.T) {
	t.Setenv("AUTH_SECRET", "too-short")
	t.Setenv("DATABASE_URL", "")

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--env-file", "", "--port", "0"})
	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SECRET")
}
