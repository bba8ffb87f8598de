package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    PRIMARY KEY (collection, id)
)`

// PostgresStore keeps documents as jsonb. Missing fields compare as JSON null.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func OpenPostgres(ctx context.Context, dsn string, maxConns int32, log *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM documents WHERE collection = $1 AND id = $2", collection, id).
		Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

type pgArgs []any

func (a *pgArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// jsonArg binds v as a jsonb parameter.
func (a *pgArgs) jsonArg(v any) (string, error) {
	raw, err := jsoniter.MarshalToString(v)
	if err != nil {
		return "", err
	}
	return a.add(raw) + "::jsonb", nil
}

func pgField(name string) string {
	if name == "" {
		return "id"
	}
	return "COALESCE(data->'" + name + "', 'null'::jsonb)"
}

func (s *PostgresStore) buildQuery(q Query) (string, []any, error) {
	var args pgArgs
	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE collection = " + args.add(q.Collection))

	for _, f := range q.Filters {
		p, err := args.jsonArg(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		sb.WriteString(" AND " + pgField(f.Field) + " " + sqlOps[f.Op] + " " + p)
	}

	key := pgField(q.OrderBy)
	dir, cmpOp := "ASC", ">"
	if q.Direction == Desc {
		dir, cmpOp = "DESC", "<"
	}
	if c := q.After; c != nil {
		var p string
		if q.OrderBy == "" {
			p = args.add(c.ID)
		} else {
			var err error
			if p, err = args.jsonArg(c.Value); err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
			}
		}
		id := args.add(c.ID)
		sb.WriteString(" AND (" + key + " " + cmpOp + " " + p + " OR (" + key + " = " + p + " AND id " + cmpOp + " " + id + "))")
	}

	sb.WriteString(" ORDER BY " + key + " " + dir)
	if q.OrderBy != "" {
		sb.WriteString(", id " + dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + args.add(q.Limit))
	}
	return sb.String(), args, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	stmt, args, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, stmt, args...)
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

func (s *PostgresStore) Commit(ctx context.Context, mutations []Mutation) error {
	if err := validateMutations(mutations); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range mutations {
		if err := s.apply(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %d mutations: %w", len(mutations), err)
	}
	s.log.Debug("documents committed.", slog.Int("mutations", len(mutations)))
	return nil
}

func (s *PostgresStore) apply(ctx context.Context, tx pgx.Tx, m Mutation) error {
	switch m.Kind {
	case MutationSet:
		raw, err := jsoniter.Marshal(nonNil(m.Data))
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
		}
		_, err = tx.Exec(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
            ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`, m.Collection, m.ID, string(raw))
		if err != nil {
			return fmt.Errorf("set %s/%s: %w", m.Collection, m.ID, err)
		}
	case MutationUpdate:
		raw, err := jsoniter.Marshal(nonNil(m.Data))
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", m.Collection, m.ID, err)
		}
		tag, err := tx.Exec(ctx, "UPDATE documents SET data = data || $3::jsonb WHERE collection = $1 AND id = $2",
			m.Collection, m.ID, string(raw))
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update %s/%s: %w", m.Collection, m.ID, ErrNotFound)
		}
	case MutationDelete:
		if _, err := tx.Exec(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", m.Collection, m.ID); err != nil {
			return fmt.Errorf("delete %s/%s: %w", m.Collection, m.ID, err)
		}
	default:
		return fmt.Errorf("%w: unknown mutation kind %d", ErrInvalidQuery, m.Kind)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.log.Info("closing postgres pool.")
	s.pool.Close()
	return nil
}
