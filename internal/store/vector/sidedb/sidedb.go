package sidedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/kaizen/internal/kschema"
)

// Store tracks namespace existence/uniqueness for the vector backend.
type Store struct {
	db    *sql.DB
	goqu  *goqu.Database
	table exp.IdentifierExpression
}

const DefaultTablePrefix = "kaizen_"

// Open connects to the side database, runs migrations, and returns a Store.
// driver is "sqlite" (default) or "postgres".
func Open(ctx context.Context, driver, datasource, tablePrefix string, migrateValues map[string]string) (*Store, error) {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}

	sqlDriver := "sqlite"
	dialect := "sqlite3"
	if driver == "postgres" {
		sqlDriver = "pgx"
		dialect = "postgres"
	}

	db, err := sql.Open(sqlDriver, datasource)
	if err != nil {
		return nil, fmt.Errorf("open side db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping side db: %w", err)
	}

	values := migrateValues
	if values == nil {
		values = map[string]string{}
	}
	values["TABLE_PREFIX"] = tablePrefix

	if err := Migrate(ctx, db, MigrateConfig{
		Driver: driver, Datasource: datasource, Table: tablePrefix + "schema_migrations", Values: values,
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:    db,
		goqu:  goqu.New(dialect, db),
		table: goqu.T(tablePrefix + "namespaces"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a namespace row. It returns a *kschema.NamespaceAlreadyExistsError
// when id already exists, detected via a primary-key constraint violation.
func (s *Store) Create(ctx context.Context, id string, createdAt time.Time) error {
	query, args, err := s.goqu.Insert(s.table).
		Rows(goqu.Record{"id": id, "created_at": createdAt}).
		ToSQL()
	if err != nil {
		return kschema.NewStoreError("build insert namespace", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return &kschema.NamespaceAlreadyExistsError{Namespace: id}
		}
		return kschema.NewStoreError("insert namespace", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*kschema.Namespace, error) {
	query, args, err := s.goqu.From(s.table).
		Select("id", "created_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, kschema.NewStoreError("build get namespace", err)
	}

	var ns kschema.Namespace
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&ns.ID, &ns.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &kschema.NamespaceNotFoundError{Namespace: id}
	}
	if err != nil {
		return nil, kschema.NewStoreError("get namespace", err)
	}
	ns.Name = ns.ID

	return &ns, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]kschema.Namespace, error) {
	sel := s.goqu.From(s.table).
		Select("id", "created_at").
		Order(goqu.I("created_at").Asc())
	if limit > 0 {
		sel = sel.Limit(uint(limit))
	}
	query, args, err := sel.ToSQL()
	if err != nil {
		return nil, kschema.NewStoreError("build list namespaces", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kschema.NewStoreError("list namespaces", err)
	}
	defer rows.Close()

	var out []kschema.Namespace
	for rows.Next() {
		var ns kschema.Namespace
		if err := rows.Scan(&ns.ID, &ns.CreatedAt); err != nil {
			return nil, kschema.NewStoreError("scan namespace row", err)
		}
		ns.Name = ns.ID
		out = append(out, ns)
	}

	return out, rows.Err()
}

// Delete removes a namespace row. Deleting an already-absent row is treated
// as success by the caller (vector.Backend.DeleteNamespace), not here.
func (s *Store) Delete(ctx context.Context, id string) error {
	query, args, err := s.goqu.Delete(s.table).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return kschema.NewStoreError("build delete namespace", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return kschema.NewStoreError("delete namespace", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "PRIMARY KEY must be unique")
}
