package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("ConnPool", logrus.InfoLevel, &buf)

	logger.Info("warmed up")

	line := buf.String()
	assert.Contains(t, line, "ConnPool: warmed up")
	assert.Contains(t, line, "INFO")
}

func TestNewSuppressesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("ConnPool", logrus.InfoLevel, &buf)

	logger.Debug("should not appear")

	assert.Empty(t, buf.String())
}

func TestParseLevelKnownNames(t *testing.T) {
	for _, tc := range []struct {
		name string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"critical", logrus.FatalLevel},
	} {
		lvl, err := ParseLevel(tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.want, lvl)
	}
}

func TestParseLevelUnknown(t *testing.T) {
	_, err := ParseLevel("not-a-level")
	require.Error(t, err)
}
