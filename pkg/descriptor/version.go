package descriptor

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// VersionUndefined is the version token reported by backends whose payload
// is not versioned (path and dev descriptors).
const VersionUndefined = "Undefined"

// constraintPattern validates a version constraint: a dotted form of at
// least three segments where each segment is a number or the wildcard "x".
var constraintPattern = regexp.MustCompile(`^v([0-9]+|x)(\.([0-9]+|x)){2,}$`)

// FindLatestVersion selects the best match among the given version strings.
//
// With an empty pattern it returns the newest version under segment-wise
// ordering, tolerating non-numeric tags by pairwise comparison. With a
// pattern (e.g. "v1.x.x") it filters candidates whose fixed prefix segments
// match exactly, then greedily picks the maximum value at each wildcard
// position, descending through any deeper fork segments by maximum value.
//
// Returns "" with a nil error when a pattern is supplied and nothing
// matches. Pure and deterministic: no transport or network state involved.
func FindLatestVersion(versions []string, pattern string) (string, error) {
	if len(versions) == 0 {
		return "", NewResolutionError("no versions supplied to match against", nil)
	}
	if pattern == "" {
		return latestByComparison(versions), nil
	}
	return latestByPattern(versions, pattern)
}

// IsVersionNewer reports whether version a is newer than version b.
// Segments are compared left to right as integers where both parse, falling
// back to string comparison otherwise. A version that extends the other
// with additional segments is considered newer (fork semantics):
// v1.2.3.1 > v1.2.3.
func IsVersionNewer(a, b string) bool {
	return compareVersions(a, b) > 0
}

func compareVersions(a, b string) int {
	segsA := strings.Split(strings.TrimPrefix(a, "v"), ".")
	segsB := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := len(segsA)
	if len(segsB) < n {
		n = len(segsB)
	}
	for i := 0; i < n; i++ {
		ia, errA := strconv.Atoi(segsA[i])
		ib, errB := strconv.Atoi(segsB[i])
		switch {
		case errA == nil && errB == nil:
			if ia != ib {
				if ia > ib {
					return 1
				}
				return -1
			}
		default:
			if segsA[i] != segsB[i] {
				if segsA[i] > segsB[i] {
					return 1
				}
				return -1
			}
		}
	}
	// Prefix-extension: the longer version is the newer fork.
	switch {
	case len(segsA) > len(segsB):
		return 1
	case len(segsA) < len(segsB):
		return -1
	default:
		return 0
	}
}

func latestByComparison(versions []string) string {
	latest := versions[0]
	for _, v := range versions[1:] {
		if IsVersionNewer(v, latest) {
			latest = v
		}
	}
	return latest
}

// versionNode is one level of the trie keyed by integer version segments.
type versionNode map[int]versionNode

func latestByPattern(versions []string, pattern string) (string, error) {
	if err := validateConstraint(pattern); err != nil {
		return "", err
	}

	// Build the trie from every candidate that parses as a dotted integer
	// sequence. Unparseable tags are silently ignored in pattern mode.
	root := versionNode{}
	for _, v := range versions {
		segments, ok := parseSegments(v)
		if !ok {
			continue
		}
		node := root
		for _, seg := range segments {
			child, exists := node[seg]
			if !exists {
				child = versionNode{}
				node[seg] = child
			}
			node = child
		}
	}

	// Walk the trie consuming pattern segments, substituting the maximum
	// available child at each wildcard.
	patternSegments := strings.Split(strings.TrimPrefix(pattern, "v"), ".")
	node := root
	var resolved []int
	for _, seg := range patternSegments {
		if len(node) == 0 {
			return "", nil
		}
		if seg == "x" {
			key := maxChild(node)
			resolved = append(resolved, key)
			node = node[key]
			continue
		}
		fixed, err := strconv.Atoi(seg)
		if err != nil {
			return "", NewSpecError(fmt.Sprintf("invalid constraint pattern %q", pattern), err)
		}
		child, exists := node[fixed]
		if !exists {
			return "", nil
		}
		resolved = append(resolved, fixed)
		node = child
	}

	// Descend through any deeper fork levels, always choosing the maximum,
	// to surface the most specific matching fork.
	for len(node) > 0 {
		key := maxChild(node)
		resolved = append(resolved, key)
		node = node[key]
	}

	parts := make([]string, len(resolved))
	for i, seg := range resolved {
		parts[i] = strconv.Itoa(seg)
	}
	return "v" + strings.Join(parts, "."), nil
}

func validateConstraint(pattern string) error {
	if !constraintPattern.MatchString(pattern) {
		return NewSpecError(fmt.Sprintf("invalid version constraint pattern %q: expected dotted form such as v1.2.x", pattern), nil)
	}
	// A digit segment may never follow a wildcard.
	seenWildcard := false
	for _, seg := range strings.Split(strings.TrimPrefix(pattern, "v"), ".") {
		if seg == "x" {
			seenWildcard = true
		} else if seenWildcard {
			return NewSpecError(fmt.Sprintf("invalid version constraint pattern %q: a number may not follow a wildcard", pattern), nil)
		}
	}
	return nil
}

// parseSegments parses a dotted integer version of at least three segments.
func parseSegments(version string) ([]int, bool) {
	trimmed := strings.TrimPrefix(version, "v")
	raw := strings.Split(trimmed, ".")
	if len(raw) < 3 {
		return nil, false
	}
	segments := make([]int, len(raw))
	for i, seg := range raw {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return nil, false
		}
		segments[i] = n
	}
	return segments, true
}

func maxChild(node versionNode) int {
	keys := make([]int, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys[len(keys)-1]
}
