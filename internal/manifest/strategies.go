package manifest

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Built-in strategy names
const (
	StrategyMerge     = "merge"
	StrategyOurs      = "ours"
	StrategyTheirs    = "theirs"
	StrategyDrop      = "drop"
	StrategySemverMax = "semver-max"
)

// Conflict is one key path whose two sides differ. Either side is nil when the
// key exists on one side only.
type Conflict struct {
	Root   string
	File   string
	Path   []string
	Ours   *Node
	Theirs *Node
}

// Key is the last path segment, or "" for the document root.
func (c Conflict) Key() string {
	if len(c.Path) == 0 {
		return ""
	}
	return c.Path[len(c.Path)-1]
}

// StrategyFunc decides a Conflict. A resolved result with a nil value drops the
// key. When resolved is false the next strategy in line is tried. ctx is the
// context passed to Resolve.
type StrategyFunc func(ctx context.Context, c Conflict) (value *Node, resolved bool)

var builtins = map[string]StrategyFunc{
	StrategyOurs:      preferOurs,
	StrategyTheirs:    preferTheirs,
	StrategyDrop:      dropKey,
	StrategySemverMax: semverMax,
}

func preferOurs(_ context.Context, c Conflict) (*Node, bool)   { return c.Ours, true }
func preferTheirs(_ context.Context, c Conflict) (*Node, bool) { return c.Theirs, true }
func dropKey(context.Context, Conflict) (*Node, bool)          { return nil, true }

// semverMax keeps the side carrying the highest valid semantic version. A side
// that is missing or not a version string loses to one that is.
func semverMax(_ context.Context, c Conflict) (*Node, bool) {
	ov := versionOf(c.Ours)
	tv := versionOf(c.Theirs)
	switch {
	case ov != nil && tv != nil:
		if ov.GreaterThan(tv) {
			return c.Ours, true
		}
		return c.Theirs, true
	case ov != nil:
		return c.Ours, true
	case tv != nil:
		return c.Theirs, true
	}
	return nil, false
}

// versionOf parses the lower bound of a dependency range such as "^1.2.3" or
// ">=2.0". It returns nil for tags, workspace links and other non-versions.
func versionOf(n *Node) *semver.Version {
	if n == nil || n.Kind != String {
		return nil
	}
	v := strings.TrimLeft(strings.TrimSpace(n.Value), "^~>=<")
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil
	}
	return parsed
}

// matchPath reports whether a dot separated rule pattern matches path. A "*"
// inside a segment matches any run of characters, including "/" and "@" which
// are common in scoped package names.
func matchPath(pattern string, path []string) bool {
	segs := strings.Split(pattern, ".")
	if len(segs) != len(path) {
		return false
	}
	for i, seg := range segs {
		if !matchSegment(seg, path[i]) {
			return false
		}
	}
	return true
}

func matchSegment(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, i
			p++
		case p < len(pattern) && pattern[p] == s[i]:
			p++
			i++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
