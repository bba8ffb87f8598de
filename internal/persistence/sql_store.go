package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

// Dialect captures the SQL differences between the database/sql backends.
type Dialect struct {
	Name    string
	schema  string
	upsert  string
	lockRow string
}

var (
	MySQL = Dialect{
		Name: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS documents (
            collection VARCHAR(191) NOT NULL,
            id VARCHAR(191) NOT NULL,
            data JSON NOT NULL,
            PRIMARY KEY (collection, id)
        )`,
		upsert:  "INSERT INTO documents (collection, id, data) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data)",
		lockRow: " FOR UPDATE",
	}
	SQLite = Dialect{
		Name: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            data TEXT NOT NULL,
            PRIMARY KEY (collection, id)
        )`,
		upsert: "INSERT INTO documents (collection, id, data) VALUES (?, ?, ?) " +
			"ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data",
	}
)

// SQLStore keeps every collection in one table of JSON documents.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewSQLStore(db *sql.DB, dialect Dialect, log *slog.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, log: log}
}

// OpenSQLite opens (or creates) a SQLite database file and applies the schema.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := NewSQLStore(db, SQLite, log)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE collection = ? AND id = ?", collection, id).
		Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Data: data}, nil
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	stmt, args, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection, id, err)
		}
		out = append(out, Document{ID: id, Data: data})
	}
	return out, rows.Err()
}

func (s *SQLStore) field(name string) string {
	if name == "" {
		return "id"
	}
	// name is validated against fieldRe before it reaches here
	return "JSON_EXTRACT(data, '$." + name + "')"
}

var sqlOps = map[Operator]string{OpEq: "=", OpNe: "<>", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">="}

func (s *SQLStore) buildQuery(q Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	sb.WriteString("SELECT id, data FROM documents WHERE collection = ?")

	for _, f := range q.Filters {
		expr := s.field(f.Field)
		switch {
		case f.Value == nil && f.Op == OpEq:
			sb.WriteString(" AND " + expr + " IS NULL")
		case f.Value == nil && f.Op == OpNe:
			sb.WriteString(" AND " + expr + " IS NOT NULL")
		case f.Value == nil:
			return "", nil, fmt.Errorf("%w: operator %s needs a value", ErrInvalidQuery, f.Op)
		case f.Op == OpNe:
			sb.WriteString(" AND (" + expr + " IS NULL OR " + expr + " <> ?)")
			args = append(args, f.Value)
		default:
			sb.WriteString(" AND " + expr + " " + sqlOps[f.Op] + " ?")
			args = append(args, f.Value)
		}
	}

	key := s.field(q.OrderBy)
	dir, cmpOp := "ASC", ">"
	if q.Direction == Desc {
		dir, cmpOp = "DESC", "<"
	}
	if c := q.After; c != nil {
		switch {
		case c.Value == nil && q.Direction == Asc:
			sb.WriteString(" AND (" + key + " IS NOT NULL OR id > ?)")
			args = append(args, c.ID)
		case c.Value == nil:
			sb.WriteString(" AND " + key + " IS NULL AND id < ?")
			args = append(args, c.ID)
		default:
			cond := " AND (" + key + " " + cmpOp + " ? OR (" + key + " = ? AND id " + cmpOp + " ?)"
			if q.Direction == Desc {
				cond += " OR " + key + " IS NULL"
			}
			sb.WriteString(cond + ")")
			args = append(args, c.Value, c.Value, c.ID)
		}
	}

	sb.WriteString(" ORDER BY " + key + " " + dir)
	if q.OrderBy != "" {
		sb.WriteString(", id " + dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return sb.String(), args, nil
}

func (s *SQLStore) Commit(ctx context.Context, mutations []Mutation) error {
	if err := validateMutations(mutations); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range mutations {
		if err := s.apply(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %d mutations: %w", len(mutations), err)
	}
	s.log.Debug("documents committed.", slog.Int("mutations", len(mutations)))
	return nil
}

func (s *SQLStore) apply(ctx context.Context, tx *sql.Tx, m Mutation) error {
	switch m.Kind {
	case MutationSet:
		raw, err := jsoniter.Marshal(nonNil(m.Data))
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsert, m.Collection, m.ID, raw); err != nil {
			return fmt.Errorf("set %s/%s: %w", m.Collection, m.ID, err)
		}
	case MutationUpdate:
		var raw []byte
		err := tx.QueryRowContext(ctx, "SELECT data FROM documents WHERE collection = ? AND id = ?"+s.dialect.lockRow,
			m.Collection, m.ID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, err)
		}
		current, err := decodeData(raw)
		if err != nil {
			return fmt.Errorf("decode %s/%s: %w", m.Collection, m.ID, err)
		}
		maps.Copy(current, m.Data)
		merged, err := jsoniter.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE documents SET data = ? WHERE collection = ? AND id = ?",
			merged, m.Collection, m.ID); err != nil {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, err)
		}
	case MutationDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?",
			m.Collection, m.ID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, err)
		}
	default:
		return fmt.Errorf("%w: unknown mutation kind %d", ErrInvalidQuery, m.Kind)
	}
	return nil
}

func (s *SQLStore) Close() error {
	s.log.Info("closing database connection.")
	return s.db.Close()
}

func decodeData(raw []byte) (map[string]any, error) {
	data := make(map[string]any)
	if err := jsoniter.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func nonNil(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
