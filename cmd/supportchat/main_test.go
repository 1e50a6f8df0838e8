package main

import (
	"context"
	"path/filepath"
	"testing"

	"supportchat/internal/dispatcher"
	"supportchat/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithInvalidConfig(t *testing.T) {
	old := *configPath
	*configPath = filepath.Join(t.TempDir(), "missing.json")
	defer func() { *configPath = old }()

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestApplyLogLevel(t *testing.T) {
	logger := logrus.New()

	applyLogLevel(logger, "warn")
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	applyLogLevel(logger, "nonsense")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	old := *verbose
	*verbose = true
	defer func() { *verbose = old }()
	applyLogLevel(logger, "error")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestTracingConfig(t *testing.T) {
	tc := tracingConfig(&models.Config{})
	assert.Equal(t, "supportchat", tc.ServiceName)
	assert.Equal(t, Version, tc.ServiceVersion)
	assert.False(t, tc.Enabled)

	tc = tracingConfig(&models.Config{Tracing: models.TracingConfig{
		ServiceName:  "chat-edge",
		OTLPEndpoint: "otel:4318",
		SampleRate:   0.5,
		Enabled:      true,
	}})
	assert.Equal(t, "chat-edge", tc.ServiceName)
	assert.Equal(t, "otel:4318", tc.OTLPEndpoint)
	assert.Equal(t, 0.5, tc.SampleRate)
	assert.True(t, tc.Enabled)
}

func TestNewSender(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	sender, err := newSender(&models.Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &dispatcher.LogSender{}, sender)

	cfg := &models.Config{Notifications: models.NotificationConfig{
		WebhookURL:    "https://alerts.example.com/hook",
		SigningSecret: "alert-secret",
		TimeoutSec:    5,
	}}
	sender, err = newSender(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &dispatcher.WebhookSender{}, sender)
}
