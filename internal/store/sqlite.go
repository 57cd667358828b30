package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/extract-trainer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS examples (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	source_url    TEXT NOT NULL,
	document_path TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	record_index  INTEGER NOT NULL,
	record        TEXT NOT NULL,
	confidences   TEXT NOT NULL,
	confidence    REAL NOT NULL,
	errors        TEXT NOT NULL,
	warnings      TEXT NOT NULL,
	raw_response  TEXT NOT NULL DEFAULT '',
	iteration     INTEGER NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS validations (
	example_id   TEXT PRIMARY KEY REFERENCES examples(id),
	ground_truth TEXT NOT NULL,
	validated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS iterations (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	number     INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, number)
);

CREATE TABLE IF NOT EXISTS metrics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot    TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tags       TEXT NOT NULL,
	document   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	report     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_examples_iteration ON examples(iteration);
CREATE INDEX IF NOT EXISTS idx_examples_document ON examples(document_path, record_index);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return storageErr(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int) (*model.Example, error) {
	ex := newExample(src, scored, rawResponse, iteration)
	if err := insertSQLiteExample(ctx, s.db, ex, scored); err != nil {
		return nil, err
	}
	return ex, nil
}

// CreateValidatedExample inserts an example and its ground truth in one
// transaction.
func (s *SQLiteStore) CreateValidatedExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int, groundTruth model.Record) (*model.Example, error) {
	gt, err := json.Marshal(groundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ground truth")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "sqlite: begin create validated example")
	}
	defer tx.Rollback() //nolint:errcheck

	ex := newExample(src, scored, rawResponse, iteration)
	if err := insertSQLiteExample(ctx, tx, ex, scored); err != nil {
		return nil, err
	}
	validatedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO validations (example_id, ground_truth, validated_at) VALUES (?, ?, ?)`,
		ex.ID, string(gt), validatedAt,
	); err != nil {
		return nil, storageErrf(err, "sqlite: insert validation %s", ex.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "sqlite: commit create validated example")
	}

	ex.GroundTruth = &groundTruth
	ex.ValidatedAt = &validatedAt
	return ex, nil
}

type sqliteExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteExample(ctx context.Context, db sqliteExecer, ex *model.Example, scored model.ScoredRecord) error {
	record, conf, errs, warns, err := marshalExample(scored)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal example")
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO examples (id, source_url, document_path, page_index, record_index,
			record, confidences, confidence, errors, warnings, raw_response, iteration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.Source.SourceURL, ex.Source.DocumentPath, ex.Source.PageIndex, ex.Source.RecordIndex,
		string(record), string(conf), scored.Confidence.Overall(), string(errs), string(warns),
		ex.RawResponse, ex.Iteration, ex.CreatedAt,
	)
	return storageErr(err, "sqlite: insert example")
}

func (s *SQLiteStore) GetExample(ctx context.Context, id string) (*model.Example, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exampleColumns+`
		 FROM examples e LEFT JOIN validations v ON v.example_id = e.id
		 WHERE e.id = ?`, id)
	ex, err := scanSQLiteExample(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Entity: "example", ID: id}
	}
	return ex, err
}

func (s *SQLiteStore) AttachValidation(ctx context.Context, id string, groundTruth model.Record) (*model.Example, error) {
	gt, err := json.Marshal(groundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ground truth")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "sqlite: begin attach validation")
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM examples WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Entity: "example", ID: id}
	}
	if err != nil {
		return nil, storageErrf(err, "sqlite: lookup example %s", id)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO validations (example_id, ground_truth, validated_at) VALUES (?, ?, ?)
		 ON CONFLICT(example_id) DO UPDATE SET ground_truth = excluded.ground_truth, validated_at = excluded.validated_at`,
		id, string(gt), time.Now().UTC(),
	)
	if err != nil {
		return nil, storageErrf(err, "sqlite: upsert validation %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "sqlite: commit attach validation")
	}
	return s.GetExample(ctx, id)
}

func (s *SQLiteStore) ListUnvalidated(ctx context.Context) ([]model.Example, error) {
	return s.listExamples(ctx,
		`SELECT `+exampleColumns+`
		 FROM examples e LEFT JOIN validations v ON v.example_id = e.id
		 WHERE v.example_id IS NULL
		 ORDER BY e.seq ASC`)
}

func (s *SQLiteStore) ListValidated(ctx context.Context, iteration *int) ([]model.Example, error) {
	query := `SELECT ` + exampleColumns + `
		 FROM examples e JOIN validations v ON v.example_id = e.id`
	var args []any
	if iteration != nil {
		query += ` WHERE e.iteration = ?`
		args = append(args, *iteration)
	}
	query += ` ORDER BY e.iteration ASC, e.seq ASC`
	return s.listExamples(ctx, query, args...)
}

func (s *SQLiteStore) listExamples(ctx context.Context, query string, args ...any) ([]model.Example, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "sqlite: list examples")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Example
	for rows.Next() {
		ex, err := scanSQLiteExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ex)
	}
	return out, storageErr(rows.Err(), "sqlite: list examples iterate")
}

func (s *SQLiteStore) StartSession(ctx context.Context) (*model.Session, error) {
	sess := &model.Session{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)`, sess.ID, sess.StartedAt)
	if err != nil {
		return nil, storageErr(err, "sqlite: insert session")
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at FROM sessions WHERE id = ?`, id).Scan(&sess.ID, &sess.StartedAt)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Entity: "session", ID: id}
	}
	if err != nil {
		return nil, storageErrf(err, "sqlite: get session %s", id)
	}
	its, err := s.iterations(ctx, `WHERE session_id = ?`, id)
	if err != nil {
		return nil, err
	}
	sess.Iterations = its[id]
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at FROM sessions ORDER BY seq ASC`)
	if err != nil {
		return nil, storageErr(err, "sqlite: list sessions")
	}
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt); err != nil {
			rows.Close() //nolint:errcheck
			return nil, storageErr(err, "sqlite: scan session")
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Close(); err != nil {
		return nil, storageErr(err, "sqlite: close sessions")
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "sqlite: list sessions iterate")
	}

	its, err := s.iterations(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Iterations = its[sessions[i].ID]
	}
	return sessions, nil
}

// iterations loads iteration rows grouped by session id, ordered by number.
func (s *SQLiteStore) iterations(ctx context.Context, where string, args ...any) (map[string][]model.Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, data FROM iterations `+where+` ORDER BY session_id, number ASC`, args...)
	if err != nil {
		return nil, storageErr(err, "sqlite: list iterations")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string][]model.Iteration)
	for rows.Next() {
		var sessionID, data string
		if err := rows.Scan(&sessionID, &data); err != nil {
			return nil, storageErr(err, "sqlite: scan iteration")
		}
		var it model.Iteration
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, &model.StorageError{Op: "decode iteration of session " + sessionID, Err: err}
		}
		out[sessionID] = append(out[sessionID], it)
	}
	return out, storageErr(rows.Err(), "sqlite: list iterations iterate")
}

func (s *SQLiteStore) AppendIteration(ctx context.Context, sessionID string, it model.Iteration) (*model.Session, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(it)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal iteration")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "sqlite: begin append iteration")
	}
	defer tx.Rollback() //nolint:errcheck

	var last sql.NullInt64
	var found int
	err = tx.QueryRowContext(ctx,
		`SELECT 1, (SELECT MAX(number) FROM iterations WHERE session_id = ?) FROM sessions WHERE id = ?`,
		sessionID, sessionID,
	).Scan(&found, &last)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Entity: "session", ID: sessionID}
	}
	if err != nil {
		return nil, storageErrf(err, "sqlite: lookup session %s", sessionID)
	}
	if err := checkIterationNumber(it.Number, last.Int64); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO iterations (session_id, number, data, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, it.Number, string(data), it.CreatedAt,
	)
	if err != nil {
		return nil, storageErrf(err, "sqlite: insert iteration %d", it.Number)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "sqlite: commit append iteration")
	}
	return s.GetSession(ctx, sessionID)
}

func (s *SQLiteStore) RecordMetrics(ctx context.Context, snap model.MetricsSnapshot) error {
	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "sqlite: begin record metrics")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metrics (snapshot, recorded_at) VALUES (?, ?)`, string(data), snap.RecordedAt,
	); err != nil {
		return storageErr(err, "sqlite: insert metrics")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM metrics WHERE id NOT IN (SELECT id FROM metrics ORDER BY id DESC LIMIT ?)`,
		MetricsHistoryCap,
	); err != nil {
		return storageErr(err, "sqlite: trim metrics")
	}
	return storageErr(tx.Commit(), "sqlite: commit record metrics")
}

func (s *SQLiteStore) LatestMetrics(ctx context.Context) (*model.MetricsSnapshot, error) {
	history, err := s.MetricsHistory(ctx, 1)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return &history[0], nil
}

// MetricsHistory returns up to limit snapshots, newest first.
func (s *SQLiteStore) MetricsHistory(ctx context.Context, limit int) ([]model.MetricsSnapshot, error) {
	if limit <= 0 {
		limit = MetricsHistoryCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM metrics ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr(err, "sqlite: list metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MetricsSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(err, "sqlite: scan metrics")
		}
		var snap model.MetricsSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, &model.StorageError{Op: "decode metrics snapshot", Err: err}
		}
		out = append(out, snap)
	}
	return out, storageErr(rows.Err(), "sqlite: list metrics iterate")
}

func (s *SQLiteStore) SaveInstructions(ctx context.Context, ins Instructions) error {
	tags, err := json.Marshal(nonNil(ins.Tags))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal instruction tags")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instructions (tags, document, created_at) VALUES (?, ?, ?)`,
		string(tags), ins.Document, time.Now().UTC(),
	)
	return storageErr(err, "sqlite: insert instructions")
}

// LatestInstructions returns the most recently saved instructions, or nil.
func (s *SQLiteStore) LatestInstructions(ctx context.Context) (*Instructions, error) {
	var tags, doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT tags, document FROM instructions ORDER BY id DESC LIMIT 1`).Scan(&tags, &doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "sqlite: get instructions")
	}
	ins := &Instructions{Document: doc}
	if err := json.Unmarshal([]byte(tags), &ins.Tags); err != nil {
		return nil, &model.StorageError{Op: "decode instruction tags", Err: err}
	}
	return ins, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, report, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at`,
		string(report), time.Now().UTC(),
	)
	return storageErr(err, "sqlite: save report")
}

// LatestReport returns the current report snapshot, or nil if none was saved.
func (s *SQLiteStore) LatestReport(ctx context.Context) ([]byte, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM reports WHERE id = 1`).Scan(&report)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "sqlite: get report")
	}
	return []byte(report), nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteExample(row scannable) (*model.Example, error) {
	var ex model.Example
	var record, conf, errs, warns string
	var groundTruth sql.NullString
	var validatedAt sql.NullTime

	err := row.Scan(
		&ex.ID, &ex.Source.SourceURL, &ex.Source.DocumentPath, &ex.Source.PageIndex, &ex.Source.RecordIndex,
		&record, &conf, &errs, &warns, &ex.RawResponse, &ex.Iteration, &ex.CreatedAt,
		&groundTruth, &validatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err, "sqlite: scan example")
	}

	var gt []byte
	if groundTruth.Valid {
		gt = []byte(groundTruth.String)
	}
	if err := decodeExample(&ex, []byte(record), []byte(conf), []byte(errs), []byte(warns), gt); err != nil {
		return nil, err
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		ex.ValidatedAt = &t
	}
	return &ex, nil
}

func checkIterationNumber(number int, last int64) error {
	if number < 1 {
		return eris.Errorf("store: iteration number must be positive (got %d)", number)
	}
	if int64(number) <= last {
		return eris.Errorf("store: iteration number %d does not follow %d", number, last)
	}
	return nil
}
