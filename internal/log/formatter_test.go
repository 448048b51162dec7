package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatterWithoutColors(t *testing.T) {
	logger := logrus.New()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetFormatter(NewFormatter(true))

	logger.WithField("remote", "template").Info("Fetched upstream")

	out := buf.String()
	assert.Contains(t, out, "Fetched upstream")
	assert.Contains(t, out, "remote=template")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes expected when colors are disabled")
}

func TestNewFormatterType(t *testing.T) {
	f, ok := NewFormatter(false).(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, f.FullTimestamp)
	assert.True(t, f.ForceColors)
}
