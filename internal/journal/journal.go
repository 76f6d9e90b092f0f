// Package journal persists finished voice cycles to sqlite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kina/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	origin TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL,
	failed_at TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	audio TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	action TEXT,
	response TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	stages TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS cycles_started_at ON cycles(started_at);
`

type Journal struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// journals written before captures were kept lack the audio column
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info('cycles') WHERE name = 'audio'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.ExecContext(ctx, `ALTER TABLE cycles ADD COLUMN audio TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Record(ctx context.Context, r session.Report) error {
	if r.ID == "" {
		return errors.New("report has no id")
	}

	var act any
	if r.Action != nil {
		b, err := json.Marshal(r.Action)
		if err != nil {
			return fmt.Errorf("encode action: %w", err)
		}
		act = string(b)
	}
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO cycles(id, origin, started_at, finished_at, outcome, failed_at, transcript, audio, decision, source, action, response, error, stages)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Origin, ts(r.Started), ts(r.Finished), string(r.Outcome), r.FailedAt,
		r.Transcript, r.Audio, r.Decision, r.Source, act, r.Response, r.Error, string(stages))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]session.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, origin, started_at, finished_at, outcome, failed_at, transcript, audio, decision, source, action, response, error, stages
FROM cycles ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []session.Report
	for rows.Next() {
		var (
			r                 session.Report
			started, finished string
			outcome, stages   string
			act               sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Origin, &started, &finished, &outcome, &r.FailedAt,
			&r.Transcript, &r.Audio, &r.Decision, &r.Source, &act, &r.Response, &r.Error, &stages); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		r.Outcome = session.Outcome(outcome)
		if r.Started, err = parseTS(started); err != nil {
			return nil, err
		}
		if r.Finished, err = parseTS(finished); err != nil {
			return nil, err
		}
		if act.Valid {
			if err := json.Unmarshal([]byte(act.String), &r.Action); err != nil {
				return nil, fmt.Errorf("decode action: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(stages), &r.Stages); err != nil {
			return nil, fmt.Errorf("decode stages: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Observer records every finished cycle. Write failures are logged only.
func (j *Journal) Observer() session.Observer { return observer{j: j} }

type observer struct {
	session.NopObserver
	j *Journal
}

func (o observer) CycleDone(r session.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.j.Record(ctx, r); err != nil {
		log.Error("Failed to journal cycle", "cycle", r.ID, "err", err)
	}
}

// fixed width so stored timestamps sort as text
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
