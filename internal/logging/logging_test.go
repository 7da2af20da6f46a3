package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uniassist/internal/config"
	"uniassist/internal/errkind"
)

func TestNewDefaultsToInfoJSON(t *testing.T) {
	log, err := New(config.LoggingConfig{})
	require.NoError(t, err)
	defer log.Sync()

	require.False(t, log.Core().Enabled(zap.DebugLevel))
	require.True(t, log.Core().Enabled(zap.InfoLevel))
}

func TestNewHonorsLevelAndFormat(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	defer log.Sync()

	require.True(t, log.Core().Enabled(zap.DebugLevel))
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uniassist.log")
	log, err := New(config.LoggingConfig{File: path})
	require.NoError(t, err)

	log.Info("hello")
	require.NoError(t, log.Sync())
	require.FileExists(t, path)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	require.Equal(t, errkind.InvalidInput, errkind.KindOf(err))

	_, err = New(config.LoggingConfig{Format: "xml"})
	require.Equal(t, errkind.InvalidInput, errkind.KindOf(err))
}
