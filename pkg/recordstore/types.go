package recordstore

import (
	"context"
	"time"
)

// Entity is a typed record returned by the store: a flat field map.
type Entity map[string]any

// Int returns the named field as an int, tolerating the numeric types the
// underlying decoders produce.
func (e Entity) Int(field string) (int, bool) {
	switch v := e[field].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Str returns the named field as a string, or "" if absent or not a string.
func (e Entity) Str(field string) string {
	if v, ok := e[field].(string); ok {
		return v
	}
	return ""
}

// ID returns the record id, or 0 if absent.
func (e Entity) ID() int {
	id, _ := e.Int("id")
	return id
}

// Filter is one condition in a query filter list.
type Filter struct {
	// Field is the entity field the condition applies to.
	Field string

	// Op is the relation: "is", "is_not", "in", "not_in", "contains".
	Op string

	// Value is the comparison operand. For "in"/"not_in" it is a slice.
	Value any
}

// SortKey orders query results by one field.
type SortKey struct {
	Field string

	// Direction is "asc" or "desc".
	Direction string
}

// Session carries the connection identity for a record-store client: base
// URL, optional HTTP proxy, and the current user.
type Session struct {
	// BaseURL is the service URL (e.g. "https://mysite.example.com").
	BaseURL string

	// Proxy is an optional HTTP proxy in host:port form.
	Proxy string

	// UserLogin is the login of the current user, used for sandbox
	// restriction matching during configuration resolution.
	UserLogin string

	// UserID is the record id of the current user, 0 if unknown.
	UserID int

	// Timeout bounds individual requests. Zero means the client default.
	Timeout time.Duration
}

// Client is the record-store contract the toolkit consumes. Implementations
// include the production HTTP client (out of scope here) and the local
// SQLite mirror in this package.
type Client interface {
	// FindOne returns the first entity of the given type matching all
	// filters, with the requested fields populated. Returns (nil, nil)
	// when nothing matches.
	FindOne(ctx context.Context, entityType string, filters []Filter, fields []string) (Entity, error)

	// Find returns all entities of the given type matching all filters,
	// ordered by the given sort keys.
	Find(ctx context.Context, entityType string, filters []Filter, fields []string, order []SortKey) ([]Entity, error)

	// Create inserts a new entity and returns it with its id populated.
	Create(ctx context.Context, entityType string, data Entity) (Entity, error)

	// Update modifies fields of an existing entity.
	Update(ctx context.Context, entityType string, id int, data Entity) (Entity, error)

	// DownloadAttachment materializes the binary payload of the given
	// attachment id into the destination directory, extracting archive
	// contents where applicable.
	DownloadAttachment(ctx context.Context, attachmentID int, dest string) error

	// Ping is a cheap connectivity probe.
	Ping(ctx context.Context) error
}
