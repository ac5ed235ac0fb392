package descriptor

import (
	"testing"
)

func TestIsVersionNewer(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"v1.2.3", "v1.2.2", true},
		{"v1.2.2", "v1.2.3", false},
		{"v1.2.3", "v1.2.3", false},
		{"v2.0.0", "v1.9.9", true},
		{"v1.10.0", "v1.9.0", true},
		// Fork semantics: the deeper version extends and supersedes.
		{"v1.2.3.1", "v1.2.3", true},
		{"v1.2.3", "v1.2.3.1", false},
		{"v1.2.3.2", "v1.2.3.1", true},
		// Non-numeric segments fall back to string comparison.
		{"v1.2.b", "v1.2.a", true},
	}

	for _, tc := range cases {
		if got := IsVersionNewer(tc.a, tc.b); got != tc.want {
			t.Errorf("IsVersionNewer(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFindLatestVersionNoPattern(t *testing.T) {
	versions := []string{"v1.2.3", "v2.0.1", "v1.9.9", "v2.0.0"}
	got, err := FindLatestVersion(versions, "")
	if err != nil {
		t.Fatalf("FindLatestVersion failed: %v", err)
	}
	if got != "v2.0.1" {
		t.Errorf("FindLatestVersion = %q, want v2.0.1", got)
	}
}

func TestFindLatestVersionEmptyInput(t *testing.T) {
	if _, err := FindLatestVersion(nil, ""); err == nil {
		t.Fatal("expected error for empty version list")
	}
}

func TestFindLatestVersionWithPattern(t *testing.T) {
	cases := []struct {
		name     string
		versions []string
		pattern  string
		want     string
	}{
		{
			name:     "wildcard stays within fixed major",
			versions: []string{"v1.2.3", "v1.2.9", "v2.0.0"},
			pattern:  "v1.x.x",
			want:     "v1.2.9",
		},
		{
			name:     "fixed prefix selects branch",
			versions: []string{"v1.1.9", "v1.2.0", "v1.2.5"},
			pattern:  "v1.2.x",
			want:     "v1.2.5",
		},
		{
			name:     "fork level is descended to the max",
			versions: []string{"v1.2.3", "v1.2.3.1", "v1.2.3.2"},
			pattern:  "v1.2.x",
			want:     "v1.2.3.2",
		},
		{
			name:     "no candidate matches the fixed prefix",
			versions: []string{"v2.0.0", "v3.1.4"},
			pattern:  "v1.x.x",
			want:     "",
		},
		{
			name:     "unparseable tags are ignored in pattern mode",
			versions: []string{"nightly", "v1.0.0", "v1.0.2"},
			pattern:  "v1.0.x",
			want:     "v1.0.2",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindLatestVersion(tc.versions, tc.pattern)
			if err != nil {
				t.Fatalf("FindLatestVersion failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("FindLatestVersion = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFindLatestVersionRejectsBadConstraints(t *testing.T) {
	versions := []string{"v1.0.0"}
	cases := []string{
		"1.x.x",    // missing v prefix
		"v1.x",     // fewer than three segments
		"v1.x.2",   // number after wildcard
		"vx.x.1",   // number after wildcard, leading x
		"v1.2.3a",  // malformed segment
		"latest",   // not a dotted form at all
	}

	for _, pattern := range cases {
		if _, err := FindLatestVersion(versions, pattern); err == nil {
			t.Errorf("FindLatestVersion accepted invalid constraint %q", pattern)
		} else if !IsKind(err, ErrorKindSpec) {
			t.Errorf("constraint %q: error kind = %v, want spec", pattern, err)
		}
	}
}

// TestFindLatestVersionWildcardAll checks the all-wildcard constraint that
// effectively means "newest parseable version".
func TestFindLatestVersionWildcardAll(t *testing.T) {
	got, err := FindLatestVersion([]string{"v1.2.3", "v10.0.0", "v9.9.9"}, "vx.x.x")
	if err != nil {
		t.Fatalf("FindLatestVersion failed: %v", err)
	}
	if got != "v10.0.0" {
		t.Errorf("FindLatestVersion = %q, want v10.0.0", got)
	}
}
