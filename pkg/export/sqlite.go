// Package export contains out-of-band consumers of pipeline notifications:
// a SQLite session store and an optional NATS publisher. Nothing here runs
// on the hot path; every consumer hangs off a subscription.
package export

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/sightline-labs/sightline/pkg/domain"
	"github.com/sightline-labs/sightline/pkg/pipeline"
)

// Store persists events, correlations and insights for session review.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenStore opens (and migrates) the session database.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  id           TEXT    PRIMARY KEY,
	  ts_us        INTEGER NOT NULL,
	  source_kind  TEXT    NOT NULL CHECK (source_kind IN ('focus','interaction','audio','structure')),
	  origin_ts_us INTEGER NOT NULL,
	  uncertainty  INTEGER NOT NULL,
	  payload_json TEXT    NOT NULL CHECK (json_valid(payload_json))
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts   ON events(ts_us);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(source_kind);

	CREATE TABLE IF NOT EXISTS correlations(
	  id          TEXT    PRIMARY KEY,
	  rule_id     TEXT    NOT NULL,
	  detected_us INTEGER NOT NULL,
	  strength    REAL    NOT NULL,
	  confidence  REAL    NOT NULL,
	  corr_type   TEXT    NOT NULL,
	  record_json TEXT    NOT NULL CHECK (json_valid(record_json))
	);
	CREATE INDEX IF NOT EXISTS idx_correlations_ts ON correlations(detected_us);

	CREATE TABLE IF NOT EXISTS insights(
	  id           TEXT    PRIMARY KEY,
	  created_us   INTEGER NOT NULL,
	  insight_type TEXT    NOT NULL,
	  severity     TEXT    NOT NULL,
	  insight_json TEXT    NOT NULL CHECK (json_valid(insight_json))
	);
	CREATE INDEX IF NOT EXISTS idx_insights_severity ON insights(severity);
	`)
	if err != nil {
		return fmt.Errorf("failed to create session tables: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvent persists one timeline event.
func (s *Store) InsertEvent(event domain.TimestampedEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if event.Payload == nil {
		payload = []byte("{}")
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO events(id, ts_us, source_kind, origin_ts_us, uncertainty, payload_json)
		 VALUES(?,?,?,?,?,json(?))`,
		event.ID, event.Timestamp, string(event.SourceKind),
		event.OriginTimestamp, event.Uncertainty, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertCorrelation persists one correlation record.
func (s *Store) InsertCorrelation(rec domain.CorrelationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal correlation: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO correlations(id, rule_id, detected_us, strength, confidence, corr_type, record_json)
		 VALUES(?,?,?,?,?,?,json(?))`,
		rec.ID, rec.RuleID, rec.DetectedAt, rec.Strength, rec.Confidence, string(rec.Type), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert correlation: %w", err)
	}
	return nil
}

// InsertInsight persists one accessibility insight.
func (s *Store) InsertInsight(ins domain.AccessibilityInsight) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO insights(id, created_us, insight_type, severity, insight_json)
		 VALUES(?,?,?,?,json(?))`,
		ins.ID, ins.CreatedAt, ins.Type, string(ins.Severity), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}
	return nil
}

// SaveSnapshot persists a full export snapshot in one transaction.
func (s *Store) SaveSnapshot(snap pipeline.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, event := range snap.Events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		if event.Payload == nil {
			payload = []byte("{}")
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO events(id, ts_us, source_kind, origin_ts_us, uncertainty, payload_json)
			 VALUES(?,?,?,?,?,json(?))`,
			event.ID, event.Timestamp, string(event.SourceKind),
			event.OriginTimestamp, event.Uncertainty, string(payload),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	for _, rec := range snap.Correlations {
		data, err := json.Marshal(rec)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal correlation: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO correlations(id, rule_id, detected_us, strength, confidence, corr_type, record_json)
			 VALUES(?,?,?,?,?,?,json(?))`,
			rec.ID, rec.RuleID, rec.DetectedAt, rec.Strength, rec.Confidence, string(rec.Type), string(data),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert correlation: %w", err)
		}
	}
	for _, ins := range snap.Insights {
		data, err := json.Marshal(ins)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal insight: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO insights(id, created_us, insight_type, severity, insight_json)
			 VALUES(?,?,?,?,json(?))`,
			ins.ID, ins.CreatedAt, ins.Type, string(ins.Severity), string(data),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	s.logger.Info("snapshot persisted",
		zap.Int("events", len(snap.Events)),
		zap.Int("correlations", len(snap.Correlations)),
		zap.Int("insights", len(snap.Insights)),
	)
	return nil
}

// CountEvents returns the number of persisted events, for status output.
func (s *Store) CountEvents() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
