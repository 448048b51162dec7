package manifest

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMalformedConflict is returned when conflict markers are unbalanced.
var ErrMalformedConflict = errors.New("malformed conflict markers")

var (
	markerOurs   = []byte("<<<<<<<")
	markerBase   = []byte("|||||||")
	markerSplit  = []byte("=======")
	markerTheirs = []byte(">>>>>>>")
)

type splitState int

const (
	stateCommon splitState = iota
	stateOurs
	stateBase
	stateTheirs
)

// SplitConflict rebuilds the two documents that a three-way merge left
// interleaved in data. conflicted is false when data carries no markers.
func SplitConflict(data []byte) (ours, theirs []byte, conflicted bool, err error) {
	var o, t bytes.Buffer
	state := stateCommon

	for lineNo, line := range bytes.SplitAfter(data, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, markerOurs):
			if state != stateCommon {
				return nil, nil, false, fmt.Errorf("%w: nested start marker on line %d", ErrMalformedConflict, lineNo+1)
			}
			state = stateOurs
			conflicted = true
		case bytes.HasPrefix(line, markerBase) && state == stateOurs:
			state = stateBase
		case bytes.HasPrefix(line, markerSplit) && (state == stateOurs || state == stateBase):
			state = stateTheirs
		case bytes.HasPrefix(line, markerTheirs):
			if state != stateTheirs {
				return nil, nil, false, fmt.Errorf("%w: unexpected end marker on line %d", ErrMalformedConflict, lineNo+1)
			}
			state = stateCommon
		default:
			switch state {
			case stateCommon:
				o.Write(line)
				t.Write(line)
			case stateOurs:
				o.Write(line)
			case stateTheirs:
				t.Write(line)
			}
		}
	}

	if state != stateCommon {
		return nil, nil, false, fmt.Errorf("%w: unterminated conflict", ErrMalformedConflict)
	}
	return o.Bytes(), t.Bytes(), conflicted, nil
}
