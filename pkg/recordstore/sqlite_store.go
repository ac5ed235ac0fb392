package recordstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/pipelinekit/pipelinekit/pkg/fsutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is a local mirror of the record store backed by SQLite.
// Entities are stored as JSON payloads keyed by type; filters and ordering
// are evaluated in Go after a type-scoped scan, which is ample for the
// record volumes a configuration mirror holds. Attachment payloads are
// folders or files on local disk referenced by the attachments table.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration. The connection pool fields
// default to 25 open, 5 idle and a 5 minute lifetime when zero.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new local mirror store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := s.cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := s.cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := s.cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// FindOne implements Client.
func (s *SQLiteStore) FindOne(ctx context.Context, entityType string, filters []Filter, fields []string) (Entity, error) {
	entities, err := s.Find(ctx, entityType, filters, fields, nil)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// Find implements Client.
func (s *SQLiteStore) Find(ctx context.Context, entityType string, filters []Filter, fields []string, order []SortKey) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload, created_at FROM entities WHERE entity_type = ? ORDER BY id ASC", entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var matches []Entity
	for rows.Next() {
		var id int
		var payload string
		var createdAt time.Time
		if err := rows.Scan(&id, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		entity := Entity{}
		if err := json.Unmarshal([]byte(payload), &entity); err != nil {
			return nil, fmt.Errorf("entity %d has a corrupt payload: %w", id, err)
		}
		entity["id"] = id
		entity["created_at"] = createdAt
		if matchesFilters(entity, filters) {
			matches = append(matches, projectFields(entity, fields))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entity scan failed: %w", err)
	}

	sortEntities(matches, order)
	return matches, nil
}

// Create implements Client.
func (s *SQLiteStore) Create(ctx context.Context, entityType string, data Entity) (Entity, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize entity: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO entities (entity_type, payload) VALUES (?, ?)", entityType, string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to insert entity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted entity id: %w", err)
	}
	created := Entity{}
	for k, v := range data {
		created[k] = v
	}
	created["id"] = int(id)
	return created, nil
}

// Update implements Client.
func (s *SQLiteStore) Update(ctx context.Context, entityType string, id int, data Entity) (Entity, error) {
	existing, err := s.FindOne(ctx, entityType,
		[]Filter{{Field: "id", Op: "is", Value: id}}, nil)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("entity %s %d not found", entityType, id)
	}
	for k, v := range data {
		existing[k] = v
	}

	// id and created_at live in table columns, not in the payload.
	payload := Entity{}
	for k, v := range existing {
		if k == "id" || k == "created_at" {
			continue
		}
		payload[k] = v
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize entity: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE entities SET payload = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND entity_type = ?",
		string(serialized), id, entityType); err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	return existing, nil
}

// DownloadAttachment implements Client: the mirror resolves the attachment
// to a local folder or file and copies it into dest.
func (s *SQLiteStore) DownloadAttachment(ctx context.Context, attachmentID int, dest string) error {
	var filePath string
	err := s.db.QueryRowContext(ctx,
		"SELECT file_path FROM attachments WHERE id = ?", attachmentID).Scan(&filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attachment %d not found", attachmentID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up attachment %d: %w", attachmentID, err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("attachment %d payload is missing at %s: %w", attachmentID, filePath, err)
	}
	if info.IsDir() {
		return fsutil.CopyTree(filePath, dest, nil)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read attachment %d: %w", attachmentID, err)
	}
	if err := fsutil.EnsureFolder(dest); err != nil {
		return err
	}
	return os.WriteFile(dest+"/"+info.Name(), data, 0o664)
}

// AddAttachment registers a local payload path as an attachment and
// returns its id. Mirror-only helper, not part of the Client contract.
func (s *SQLiteStore) AddAttachment(ctx context.Context, entityID int, filePath string) (int, error) {
	var owner any
	if entityID != 0 {
		owner = entityID
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO attachments (entity_id, file_path) VALUES (?, ?)", owner, filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted attachment id: %w", err)
	}
	return int(id), nil
}

// Ping implements Client.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// matchesFilters evaluates the filter list against an entity; all filters
// must hold.
func matchesFilters(entity Entity, filters []Filter) bool {
	for _, filter := range filters {
		if !matchesFilter(entity, filter) {
			return false
		}
	}
	return true
}

func matchesFilter(entity Entity, filter Filter) bool {
	value := entity[filter.Field]
	switch filter.Op {
	case "is":
		return looseEqual(value, filter.Value)
	case "is_not":
		return !looseEqual(value, filter.Value)
	case "in":
		for _, candidate := range toSlice(filter.Value) {
			if looseEqual(value, candidate) {
				return true
			}
		}
		return false
	case "not_in":
		for _, candidate := range toSlice(filter.Value) {
			if looseEqual(value, candidate) {
				return false
			}
		}
		return true
	case "contains":
		for _, item := range toSlice(value) {
			if looseEqual(item, filter.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// looseEqual compares values across the numeric representations JSON
// decoding produces.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toSlice(v any) []any {
	if items, ok := v.([]any); ok {
		return items
	}
	return nil
}

// projectFields restricts an entity to the requested fields; id is always
// included. A nil field list returns the entity unrestricted.
func projectFields(entity Entity, fields []string) Entity {
	if fields == nil {
		return entity
	}
	projected := Entity{"id": entity["id"]}
	for _, field := range fields {
		if value, ok := entity[field]; ok {
			projected[field] = value
		}
	}
	return projected
}

func sortEntities(entities []Entity, order []SortKey) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(entities, func(i, j int) bool {
		for _, key := range order {
			cmp := compareValues(entities[i][key.Field], entities[j][key.Field])
			if cmp == 0 {
				continue
			}
			if key.Direction == "desc" {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
