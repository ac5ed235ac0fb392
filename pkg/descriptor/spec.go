package descriptor

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Backend type discriminators. These are also the cache-layout folder tags,
// except for TypePath and TypeDev which are never cached.
const (
	TypeAppStore  = "app_store"
	TypeGit       = "git"
	TypeGitBranch = "git_branch"
	TypePath      = "path"
	TypeDev       = "dev"
	TypeUpload    = "shotgun"
	TypeManual    = "manual"

	// TypeInstalledPath and TypeBaked are configuration-only specifier
	// types handled by the resolver dispatch rather than by a transport:
	// a validated pre-existing installation root, and a prebaked scaffold
	// located among the fallback cache roots.
	TypeInstalledPath = "installed"
	TypeBaked         = "baked"
)

// Reserved backend tags present in the cache-layout namespace but not backed
// by a transport in this toolkit. The factory rejects them as unimplemented
// rather than unknown.
var reservedTypes = map[string]bool{
	"github":          true,
	"perforce":        true,
	"perforce_change": true,
	"perforce_label":  true,
}

// uriScheme and uriToken form the fixed prefix of the URI representation:
// sgtk:descriptor:<type>?key=value&...
const (
	uriScheme = "sgtk"
	uriToken  = "descriptor"
)

// Spec is a location specifier: a flat string mapping with a required "type"
// discriminator plus backend-specific keys. A Spec is treated as immutable
// once constructed; operations that change it return a copy.
type Spec map[string]string

// requiredKeys lists the backend-specific keys a well-formed specifier of
// each type must carry. Path-like types are validated separately because
// they accept either a generic path or per-OS path keys.
var requiredKeys = map[string][]string{
	TypeAppStore:  {"name", "version"},
	TypeGit:       {"path", "version"},
	TypeGitBranch: {"path", "branch", "version"},
	TypeUpload:    {"entity_type", "field", "version"},
	TypeManual:    {"name", "version"},
	TypeBaked:     {"name", "version"},
}

// Type returns the backend discriminator, or "" if absent.
func (s Spec) Type() string {
	return s["type"]
}

// Clone returns an independent copy of the specifier.
func (s Spec) Clone() Spec {
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Equal reports whether two specifiers carry exactly the same keys and
// values. Used for the on-disk stamp comparison during status checks.
func (s Spec) Equal(other Spec) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Validate checks that the specifier carries a known type discriminator and
// the keys that type requires.
func (s Spec) Validate() error {
	typ := s.Type()
	if typ == "" {
		return NewSpecError("location specifier is missing the type key", nil).WithDescriptor(s.URI())
	}
	if reservedTypes[typ] {
		return NewSpecError(fmt.Sprintf("descriptor type %q is reserved but not implemented", typ), nil).WithDescriptor(s.URI())
	}
	switch typ {
	case TypePath, TypeDev, TypeInstalledPath:
		if s["path"] == "" && s["linux_path"] == "" && s["mac_path"] == "" && s["windows_path"] == "" {
			return NewSpecError(fmt.Sprintf("%s specifier requires a path or per-OS path key", typ), nil).WithDescriptor(s.URI())
		}
		return nil
	case TypeAppStore, TypeGit, TypeGitBranch, TypeUpload, TypeManual, TypeBaked:
		for _, key := range requiredKeys[typ] {
			if s[key] == "" {
				return NewSpecError(fmt.Sprintf("%s specifier is missing required key %q", typ, key), nil).WithDescriptor(s.URI())
			}
		}
		if typ == TypeUpload && s["id"] == "" && s["name"] == "" {
			return NewSpecError("shotgun specifier requires an id or name key", nil).WithDescriptor(s.URI())
		}
		return nil
	default:
		return NewSpecError(fmt.Sprintf("unknown descriptor type %q", typ), nil).WithDescriptor(s.URI())
	}
}

// URI serializes the specifier to its canonical string form with keys
// emitted in sorted order. The type key becomes part of the URI prefix
// rather than a query parameter.
func (s Spec) URI() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		if k == "type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(uriScheme)
	b.WriteByte(':')
	b.WriteString(uriToken)
	b.WriteByte(':')
	b.WriteString(s.Type())
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(s[k]))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s Spec) String() string {
	return s.URI()
}

// ParseURI parses the canonical URI form back into a specifier. The
// round-trip law holds: ParseURI(s.URI()) equals s for any valid s, and
// parsing then serializing a canonically-sorted URI reproduces it exactly.
func ParseURI(uri string) (Spec, error) {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 || parts[0] != uriScheme || parts[1] != uriToken {
		return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: expected %s:%s:<type> prefix", uri, uriScheme, uriToken), nil)
	}

	rest := parts[2]
	typ := rest
	query := ""
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		typ = rest[:idx]
		query = rest[idx+1:]
	}
	if typ == "" {
		return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: empty type", uri), nil)
	}

	spec := Spec{"type": typ}
	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 || kv[0] == "" {
				return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: malformed parameter %q", uri, pair), nil)
			}
			key, err := url.QueryUnescape(kv[0])
			if err != nil {
				return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: bad key encoding", uri), err)
			}
			value, err := url.QueryUnescape(kv[1])
			if err != nil {
				return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: bad value encoding", uri), err)
			}
			if _, exists := spec[key]; exists {
				return nil, NewSpecError(fmt.Sprintf("invalid descriptor URI %q: duplicate key %q", uri, key), nil)
			}
			spec[key] = value
		}
	}
	return spec, nil
}
