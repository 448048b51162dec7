package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLogWrite(t *testing.T) {
	root := t.TempDir()
	l := NewErrorLog("run-1")
	l.now = func() time.Time { return date("2024-05-01T10:00:00Z") }

	written, err := l.Write(root, ".error.log")
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoFileExists(t, filepath.Join(root, ".error.log"))

	l.Add(Entry{Round: 0, FailingPaths: []string{"a.ts"}, Exclusions: []string{"docs", "a.ts"}})
	l.Add(Entry{Round: 1, Message: "fatal: corrupt patch"})

	written, err = l.Write(root, ".error.log")
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(filepath.Join(root, ".error.log"))
	require.NoError(t, err)

	var entries []Entry
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "run-1", entries[0].Run)
	assert.Equal(t, []string{"a.ts"}, entries[0].FailingPaths)
	assert.Empty(t, entries[1].FailingPaths)
	assert.Equal(t, "fatal: corrupt patch", entries[1].Message)
	assert.True(t, entries[0].Time.Equal(date("2024-05-01T10:00:00Z")))
}
