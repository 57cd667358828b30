package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-trainer/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS examples (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	source_url    TEXT NOT NULL,
	document_path TEXT NOT NULL,
	page_index    INTEGER NOT NULL,
	record_index  INTEGER NOT NULL,
	record        JSONB NOT NULL,
	confidences   JSONB NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	errors        JSONB NOT NULL,
	warnings      JSONB NOT NULL,
	raw_response  TEXT NOT NULL DEFAULT '',
	iteration     INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS validations (
	example_id   TEXT PRIMARY KEY REFERENCES examples(id),
	ground_truth JSONB NOT NULL,
	validated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS iterations (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	number     INTEGER NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, number)
);

CREATE TABLE IF NOT EXISTS metrics (
	id          BIGSERIAL PRIMARY KEY,
	snapshot    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS instructions (
	id         BIGSERIAL PRIMARY KEY,
	tags       JSONB NOT NULL,
	document   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	report     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_examples_iteration ON examples(iteration);
CREATE INDEX IF NOT EXISTS idx_examples_document ON examples(document_path, record_index);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return storageErr(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int) (*model.Example, error) {
	ex := newExample(src, scored, rawResponse, iteration)
	if err := insertPostgresExample(ctx, s.pool, ex, scored); err != nil {
		return nil, err
	}
	return ex, nil
}

// CreateValidatedExample inserts an example and its ground truth in one
// transaction.
func (s *PostgresStore) CreateValidatedExample(ctx context.Context, src model.Source, scored model.ScoredRecord, rawResponse string, iteration int, groundTruth model.Record) (*model.Example, error) {
	gt, err := json.Marshal(groundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ground truth")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr(err, "postgres: begin create validated example")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ex := newExample(src, scored, rawResponse, iteration)
	if err := insertPostgresExample(ctx, tx, ex, scored); err != nil {
		return nil, err
	}
	validatedAt := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO validations (example_id, ground_truth, validated_at) VALUES ($1, $2, $3)`,
		ex.ID, gt, validatedAt,
	); err != nil {
		return nil, storageErrf(err, "postgres: insert validation %s", ex.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr(err, "postgres: commit create validated example")
	}

	ex.GroundTruth = &groundTruth
	ex.ValidatedAt = &validatedAt
	return ex, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPostgresExample(ctx context.Context, db pgExecer, ex *model.Example, scored model.ScoredRecord) error {
	record, conf, errs, warns, err := marshalExample(scored)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal example")
	}

	_, err = db.Exec(ctx,
		`INSERT INTO examples (id, source_url, document_path, page_index, record_index,
			record, confidences, confidence, errors, warnings, raw_response, iteration, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ex.ID, ex.Source.SourceURL, ex.Source.DocumentPath, ex.Source.PageIndex, ex.Source.RecordIndex,
		record, conf, scored.Confidence.Overall(), errs, warns, ex.RawResponse, ex.Iteration, ex.CreatedAt,
	)
	return storageErr(err, "postgres: insert example")
}

func (s *PostgresStore) GetExample(ctx context.Context, id string) (*model.Example, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+exampleColumns+`
		 FROM examples e LEFT JOIN validations v ON v.example_id = e.id
		 WHERE e.id = $1`, id)
	ex, err := scanPostgresExample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "example", ID: id}
	}
	return ex, err
}

func (s *PostgresStore) AttachValidation(ctx context.Context, id string, groundTruth model.Record) (*model.Example, error) {
	gt, err := json.Marshal(groundTruth)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ground truth")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO validations (example_id, ground_truth, validated_at)
		 SELECT id, $2, $3 FROM examples WHERE id = $1
		 ON CONFLICT (example_id) DO UPDATE SET ground_truth = EXCLUDED.ground_truth, validated_at = EXCLUDED.validated_at`,
		id, gt, time.Now().UTC(),
	)
	if err != nil {
		return nil, storageErrf(err, "postgres: upsert validation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, &model.NotFoundError{Entity: "example", ID: id}
	}
	return s.GetExample(ctx, id)
}

func (s *PostgresStore) ListUnvalidated(ctx context.Context) ([]model.Example, error) {
	return s.listExamples(ctx,
		`SELECT `+exampleColumns+`
		 FROM examples e LEFT JOIN validations v ON v.example_id = e.id
		 WHERE v.example_id IS NULL
		 ORDER BY e.seq ASC`)
}

func (s *PostgresStore) ListValidated(ctx context.Context, iteration *int) ([]model.Example, error) {
	query := `SELECT ` + exampleColumns + `
		 FROM examples e JOIN validations v ON v.example_id = e.id`
	var args []any
	if iteration != nil {
		query += ` WHERE e.iteration = $1`
		args = append(args, *iteration)
	}
	query += ` ORDER BY e.iteration ASC, e.seq ASC`
	return s.listExamples(ctx, query, args...)
}

func (s *PostgresStore) listExamples(ctx context.Context, query string, args ...any) ([]model.Example, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "postgres: list examples")
	}
	defer rows.Close()

	var out []model.Example
	for rows.Next() {
		ex, err := scanPostgresExample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ex)
	}
	return out, storageErr(rows.Err(), "postgres: list examples iterate")
}

func (s *PostgresStore) StartSession(ctx context.Context) (*model.Session, error) {
	sess := &model.Session{ID: uuid.New().String(), StartedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, started_at) VALUES ($1, $2)`, sess.ID, sess.StartedAt)
	if err != nil {
		return nil, storageErr(err, "postgres: insert session")
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at FROM sessions WHERE id = $1`, id).Scan(&sess.ID, &sess.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "session", ID: id}
	}
	if err != nil {
		return nil, storageErrf(err, "postgres: get session %s", id)
	}
	its, err := s.iterations(ctx, `WHERE session_id = $1`, id)
	if err != nil {
		return nil, err
	}
	sess.Iterations = its[id]
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, started_at FROM sessions ORDER BY seq ASC`)
	if err != nil {
		return nil, storageErr(err, "postgres: list sessions")
	}
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.StartedAt); err != nil {
			rows.Close()
			return nil, storageErr(err, "postgres: scan session")
		}
		sessions = append(sessions, sess)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "postgres: list sessions iterate")
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

func (s *PostgresStore) iterations(ctx context.Context, where string, args ...any) (map[string][]model.Iteration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, data FROM iterations `+where+` ORDER BY session_id, number ASC`, args...)
	if err != nil {
		return nil, storageErr(err, "postgres: list iterations")
	}
	defer rows.Close()

	out := make(map[string][]model.Iteration)
	for rows.Next() {
		var sessionID string
		var data []byte
		if err := rows.Scan(&sessionID, &data); err != nil {
			return nil, storageErr(err, "postgres: scan iteration")
		}
		var it model.Iteration
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, &model.StorageError{Op: "decode iteration of session " + sessionID, Err: err}
		}
		out[sessionID] = append(out[sessionID], it)
	}
	return out, storageErr(rows.Err(), "postgres: list iterations iterate")
}

func (s *PostgresStore) AppendIteration(ctx context.Context, sessionID string, it model.Iteration) (*model.Session, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(it)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal iteration")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr(err, "postgres: begin append iteration")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var last *int64
	err = tx.QueryRow(ctx,
		`SELECT (SELECT MAX(number) FROM iterations WHERE session_id = $1)::BIGINT FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Entity: "session", ID: sessionID}
	}
	if err != nil {
		return nil, storageErrf(err, "postgres: lookup session %s", sessionID)
	}
	var prev int64
	if last != nil {
		prev = *last
	}
	if err := checkIterationNumber(it.Number, prev); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO iterations (session_id, number, data, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID, it.Number, data, it.CreatedAt,
	); err != nil {
		return nil, storageErrf(err, "postgres: insert iteration %d", it.Number)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr(err, "postgres: commit append iteration")
	}
	return s.GetSession(ctx, sessionID)
}

func (s *PostgresStore) RecordMetrics(ctx context.Context, snap model.MetricsSnapshot) error {
	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr(err, "postgres: begin record metrics")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO metrics (snapshot, recorded_at) VALUES ($1, $2)`, data, snap.RecordedAt,
	); err != nil {
		return storageErr(err, "postgres: insert metrics")
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM metrics WHERE id NOT IN (SELECT id FROM metrics ORDER BY id DESC LIMIT $1)`,
		MetricsHistoryCap,
	); err != nil {
		return storageErr(err, "postgres: trim metrics")
	}
	return storageErr(tx.Commit(ctx), "postgres: commit record metrics")
}

func (s *PostgresStore) LatestMetrics(ctx context.Context) (*model.MetricsSnapshot, error) {
	history, err := s.MetricsHistory(ctx, 1)
	if err != nil || len(history) == 0 {
		return nil, err
	}
	return &history[0], nil
}

func (s *PostgresStore) MetricsHistory(ctx context.Context, limit int) ([]model.MetricsSnapshot, error) {
	if limit <= 0 {
		limit = MetricsHistoryCap
	}
	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM metrics ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storageErr(err, "postgres: list metrics")
	}
	defer rows.Close()

	var out []model.MetricsSnapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(err, "postgres: scan metrics")
		}
		var snap model.MetricsSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, &model.StorageError{Op: "decode metrics snapshot", Err: err}
		}
		out = append(out, snap)
	}
	return out, storageErr(rows.Err(), "postgres: list metrics iterate")
}

func (s *PostgresStore) SaveInstructions(ctx context.Context, ins Instructions) error {
	tags, err := json.Marshal(nonNil(ins.Tags))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal instruction tags")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO instructions (tags, document, created_at) VALUES ($1, $2, $3)`,
		tags, ins.Document, time.Now().UTC(),
	)
	return storageErr(err, "postgres: insert instructions")
}

func (s *PostgresStore) LatestInstructions(ctx context.Context) (*Instructions, error) {
	var tags []byte
	var doc string
	err := s.pool.QueryRow(ctx,
		`SELECT tags, document FROM instructions ORDER BY id DESC LIMIT 1`).Scan(&tags, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "postgres: get instructions")
	}
	ins := &Instructions{Document: doc}
	if err := json.Unmarshal(tags, &ins.Tags); err != nil {
		return nil, &model.StorageError{Op: "decode instruction tags", Err: err}
	}
	return ins, nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, report []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, report, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET report = EXCLUDED.report, updated_at = EXCLUDED.updated_at`,
		report, time.Now().UTC(),
	)
	return storageErr(err, "postgres: save report")
}

func (s *PostgresStore) LatestReport(ctx context.Context) ([]byte, error) {
	var report []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM reports WHERE id = 1`).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "postgres: get report")
	}
	return report, nil
}

func scanPostgresExample(row pgx.Row) (*model.Example, error) {
	var ex model.Example
	var record, conf, errs, warns, groundTruth []byte
	var validatedAt *time.Time

	err := row.Scan(
		&ex.ID, &ex.Source.SourceURL, &ex.Source.DocumentPath, &ex.Source.PageIndex, &ex.Source.RecordIndex,
		&record, &conf, &errs, &warns, &ex.RawResponse, &ex.Iteration, &ex.CreatedAt,
		&groundTruth, &validatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err, "postgres: scan example")
	}
	if err := decodeExample(&ex, record, conf, errs, warns, groundTruth); err != nil {
		return nil, err
	}
	ex.ValidatedAt = validatedAt
	return &ex, nil
}
