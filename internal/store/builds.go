package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Build is one successful component build.
type Build struct {
	// Fingerprint identifies the build instructions (repo, rev, workdir, steps).
	Fingerprint string
	Component   string
	Repo        string
	Rev         string
	// Commit is the resolved commit hash of the checkout.
	Commit  string
	WorkDir string
	BuiltAt time.Time
}

// RecordBuild stores a successful build, replacing any earlier record with
// the same fingerprint.
func (s *Store) RecordBuild(ctx context.Context, b Build) error {
	if b.Fingerprint == "" {
		return fmt.Errorf("record build: empty fingerprint")
	}
	if b.BuiltAt.IsZero() {
		b.BuiltAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds
		(fingerprint, component, repo, rev, commit_hash, workdir, built_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM builds))
		ON CONFLICT(fingerprint) DO UPDATE SET
			component = excluded.component,
			commit_hash = excluded.commit_hash,
			built_at = excluded.built_at,
			seq = excluded.seq
	`,
		b.Fingerprint,
		b.Component,
		b.Repo,
		b.Rev,
		b.Commit,
		b.WorkDir,
		b.BuiltAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	return nil
}

// LookupBuild returns the build recorded for a fingerprint.
func (s *Store) LookupBuild(ctx context.Context, fingerprint string) (Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, component, repo, rev, commit_hash, workdir, built_at
		FROM builds
		WHERE fingerprint = ?
	`, fingerprint)
	return scanOne(row, "lookup build")
}

// LatestCheckout returns the most recent build made from a repository.
// The build orchestrator never re-syncs a checkout, so this describes the
// revision currently on disk.
func (s *Store) LatestCheckout(ctx context.Context, repo string) (Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, component, repo, rev, commit_hash, workdir, built_at
		FROM builds
		WHERE repo = ?
		ORDER BY seq DESC
		LIMIT 1
	`, repo)
	return scanOne(row, "latest checkout")
}

// Builds returns every recorded build, oldest first.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) Builds(ctx context.Context) ([]Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, component, repo, rev, commit_hash, workdir, built_at
		FROM builds
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (Build, error) {
	var (
		b       Build
		builtAt int64
	)
	if err := row.Scan(&b.Fingerprint, &b.Component, &b.Repo, &b.Rev, &b.Commit, &b.WorkDir, &builtAt); err != nil {
		return Build{}, err
	}
	b.BuiltAt = time.UnixMilli(builtAt)
	return b, nil
}

func scanOne(row *sql.Row, op string) (Build, bool, error) {
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, false, nil
	}
	if err != nil {
		return Build{}, false, fmt.Errorf("%s: %w", op, err)
	}
	return b, true, nil
}
