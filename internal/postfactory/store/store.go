// Package store implements the durable side of C7's staging pipeline: one
// row per yEnc-encoded chunk, across either embedded SQLite (the default)
// or Postgres, selected by the DSN scheme.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Engine selects the database/sql driver backing a Store.
type Engine string

const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
)

// Store is the durable staged-article table set for one PostFactory run.
type Store struct {
	db     *sql.DB
	engine Engine
}

// Open parses dsn's scheme to pick sqlite ("sqlite://path" or a bare file
// path) or postgres ("postgres://...") and runs pending migrations.
func Open(dsn string) (*Store, error) {
	engine := EngineSQLite
	driverName := "sqlite"
	connStr := dsn

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		engine = EnginePostgres
		driverName = "pgx"
	case strings.HasPrefix(dsn, "sqlite://"):
		connStr = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("postfactory/store: open %s: %w", engine, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postfactory/store: ping %s: %w", engine, err)
	}

	s := &Store{db: db, engine: engine}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	var mdriver migrate.Database

	switch s.engine {
	case EnginePostgres:
		mdriver, err = postgres.WithInstance(s.db, &postgres.Config{})
	default:
		mdriver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	}
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, string(s.engine), mdriver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("postfactory/store: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert persists a newly staged article and its groups/headers.
func (s *Store) Insert(ctx context.Context, a *StagedArticle) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	d := fromDomain(a)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO staged_articles
			(source_path, filename, sort_no, sequence_no, total_parts, sha1, size, body_path, message_id, posted_date, verified_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.SourcePath, d.Filename, d.SortNo, d.SequenceNo, d.TotalParts, d.SHA1, d.Size, d.BodyPath, d.MessageID, d.PostedDate, d.VerifiedDate)
	if err != nil {
		return 0, fmt.Errorf("postfactory/store: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, g := range a.Groups {
		if _, err := tx.ExecContext(ctx, `INSERT INTO staged_article_groups (staged_article_id, group_name) VALUES (?, ?)`, id, g); err != nil {
			return 0, err
		}
	}
	for k, v := range a.Header {
		if _, err := tx.ExecContext(ctx, `INSERT INTO staged_article_headers (staged_article_id, header_key, header_value) VALUES (?, ?, ?)`, id, k, v); err != nil {
			return 0, err
		}
	}

	return id, tx.Commit()
}

// ListOrdered returns every staged article in (sort_no, sequence_no) order,
// the order upload() and verify() must process them in.
func (s *Store) ListOrdered(ctx context.Context) ([]*StagedArticle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, filename, sort_no, sequence_no, total_parts, sha1, size, body_path, message_id, posted_date, verified_date
		FROM staged_articles
		ORDER BY sort_no ASC, sequence_no ASC`)
	if err != nil {
		return nil, fmt.Errorf("postfactory/store: list: %w", err)
	}
	defer rows.Close()

	var out []*StagedArticle
	for rows.Next() {
		var d stagedArticleDBO
		if err := rows.Scan(&d.ID, &d.SourcePath, &d.Filename, &d.SortNo, &d.SequenceNo, &d.TotalParts, &d.SHA1, &d.Size, &d.BodyPath, &d.MessageID, &d.PostedDate, &d.VerifiedDate); err != nil {
			return nil, err
		}
		a := d.toDomain()
		a.Groups, err = s.groupsFor(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) groupsFor(ctx context.Context, articleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_name FROM staged_article_groups WHERE staged_article_id = ?`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// MarkPosted sets posted_date and, when the Message-ID was regenerated
// after a collision, updates message_id too.
func (s *Store) MarkPosted(ctx context.Context, id int64, messageID string, postedDate sql.NullTime) error {
	_, err := s.db.ExecContext(ctx, `UPDATE staged_articles SET message_id = ?, posted_date = ? WHERE id = ?`, messageID, postedDate, id)
	return err
}

// MarkVerified sets verified_date for one staged article.
func (s *Store) MarkVerified(ctx context.Context, id int64, verifiedDate sql.NullTime) error {
	_, err := s.db.ExecContext(ctx, `UPDATE staged_articles SET verified_date = ? WHERE id = ?`, verifiedDate, id)
	return err
}

// PendingUpload returns rows needing upload (posted_date IS NULL); rows
// needing verification (posted, not yet verified) come from PendingVerify.
func (s *Store) PendingUpload(ctx context.Context) ([]*StagedArticle, error) {
	return s.filterOrdered(ctx, func(a *StagedArticle) bool { return !a.Posted() })
}

func (s *Store) PendingVerify(ctx context.Context) ([]*StagedArticle, error) {
	return s.filterOrdered(ctx, func(a *StagedArticle) bool { return a.Posted() && !a.Verified() })
}

func (s *Store) filterOrdered(ctx context.Context, keep func(*StagedArticle) bool) ([]*StagedArticle, error) {
	all, err := s.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}
