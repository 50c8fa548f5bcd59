package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"evotrader/internal/models"
)

// Archive is a durable SQLite backing for the in-memory store. It keeps
// every experience ever written, so evicted records remain queryable for
// offline analysis.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the archive database at dbPath.
func OpenArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		episode_id TEXT,
		timestamp DATETIME NOT NULL,
		market_state TEXT NOT NULL,
		market_regime TEXT,
		action INTEGER NOT NULL,
		confidence REAL,
		reward REAL NOT NULL,
		next_state TEXT,
		pnl REAL NOT NULL,
		holding_time INTEGER NOT NULL,
		was_profitable INTEGER NOT NULL,
		lesson_tags TEXT,
		priority REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_experiences_regime ON experiences(market_regime);
	CREATE INDEX IF NOT EXISTS idx_experiences_profitable ON experiences(was_profitable);
	CREATE INDEX IF NOT EXISTS idx_experiences_episode ON experiences(episode_id);
	CREATE INDEX IF NOT EXISTS idx_experiences_timestamp ON experiences(timestamp);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// WriteBatch persists a batch of experiences. Records already archived are
// overwritten, so re-archiving after a restore is harmless.
func (a *Archive) WriteBatch(ctx context.Context, batch []*Experience) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO experiences (id, episode_id, timestamp, market_state, market_regime, action, confidence, reward, next_state, pnl, holding_time, was_profitable, lesson_tags, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, exp := range batch {
		state, _ := json.Marshal(exp.MarketState)
		next, _ := json.Marshal(exp.NextState)
		tags, _ := json.Marshal(exp.LessonTags)
		profitable := 0
		if exp.WasProfitable {
			profitable = 1
		}
		_, err := stmt.ExecContext(ctx, exp.ID, exp.EpisodeID, exp.Timestamp, string(state), exp.MarketRegime,
			int(exp.Action), exp.Confidence, exp.Reward, string(next), exp.PnL, exp.HoldingTime, profitable, string(tags), exp.Priority)
		if err != nil {
			return fmt.Errorf("failed to insert experience: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReadByRegime retrieves archived experiences for a regime, newest first.
func (a *Archive) ReadByRegime(ctx context.Context, regime string, limit int) ([]*Experience, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, episode_id, timestamp, market_state, market_regime, action, confidence, reward, next_state, pnl, holding_time, was_profitable, lesson_tags, priority
		FROM experiences
		WHERE market_regime = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, regime, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	return scanExperiences(rows)
}

// ReadAll retrieves every archived experience, oldest first.
func (a *Archive) ReadAll(ctx context.Context) ([]*Experience, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, episode_id, timestamp, market_state, market_regime, action, confidence, reward, next_state, pnl, holding_time, was_profitable, lesson_tags, priority
		FROM experiences
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	return scanExperiences(rows)
}

// Count returns the number of archived experiences.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiences`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count experiences: %w", err)
	}
	return n, nil
}

func scanExperiences(rows *sql.Rows) ([]*Experience, error) {
	var out []*Experience
	for rows.Next() {
		var (
			exp        Experience
			action     int
			profitable int
			state      string
			next       string
			tags       string
		)
		if err := rows.Scan(&exp.ID, &exp.EpisodeID, &exp.Timestamp, &state, &exp.MarketRegime,
			&action, &exp.Confidence, &exp.Reward, &next, &exp.PnL, &exp.HoldingTime, &profitable, &tags, &exp.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan experience: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &exp.MarketState); err != nil {
			return nil, fmt.Errorf("failed to decode market state: %w", err)
		}
		if next != "" {
			if err := json.Unmarshal([]byte(next), &exp.NextState); err != nil {
				return nil, fmt.Errorf("failed to decode next state: %w", err)
			}
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &exp.LessonTags); err != nil {
				return nil, fmt.Errorf("failed to decode lesson tags: %w", err)
			}
		}
		exp.Action = models.Action(action)
		exp.WasProfitable = profitable != 0
		out = append(out, &exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiences: %w", err)
	}
	return out, nil
}
