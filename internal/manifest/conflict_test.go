package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitConflict(t *testing.T) {
	input := `{
  "name": "app",
<<<<<<< ours
  "version": "1.0.0",
||||||| base
  "version": "0.9.0",
=======
  "version": "1.1.0",
>>>>>>> theirs
  "private": true
}
`
	ours, theirs, conflicted, err := SplitConflict([]byte(input))
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Equal(t, "{\n  \"name\": \"app\",\n  \"version\": \"1.0.0\",\n  \"private\": true\n}\n", string(ours))
	assert.Equal(t, "{\n  \"name\": \"app\",\n  \"version\": \"1.1.0\",\n  \"private\": true\n}\n", string(theirs))
}

func TestSplitConflictClean(t *testing.T) {
	input := []byte("{\"a\": 1}\n")
	ours, theirs, conflicted, err := SplitConflict(input)
	require.NoError(t, err)
	assert.False(t, conflicted)
	assert.Equal(t, input, ours)
	assert.Equal(t, input, theirs)
}

func TestSplitConflictMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated", "<<<<<<< ours\na\n=======\nb\n"},
		{"end without start", "a\n>>>>>>> theirs\n"},
		{"nested start", "<<<<<<< ours\n<<<<<<< ours\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := SplitConflict([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedConflict)
		})
	}
}
