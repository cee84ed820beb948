package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/textnorm"
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
	// foreign_keys is per-connection; a single connection keeps it in force.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint TEXT PRIMARY KEY,
	result      TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_cache (
	stage      TEXT NOT NULL,
	cache_key  TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (stage, cache_key)
);

CREATE TABLE IF NOT EXISTS catalog_devices (
	id               TEXT PRIMARY KEY,
	device_name      TEXT NOT NULL,
	brand            TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	brand_key        TEXT NOT NULL DEFAULT '',
	model_key        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	aliases          TEXT NOT NULL DEFAULT '[]',
	difficulty       TEXT NOT NULL DEFAULT 'Medium',
	tools_needed     TEXT NOT NULL DEFAULT '[]',
	verified         INTEGER NOT NULL DEFAULT 0,
	scan_count       INTEGER NOT NULL DEFAULT 0,
	confidence_score REAL NOT NULL DEFAULT 0,
	search_text      TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_devices_identity
	ON catalog_devices(brand_key, model_key) WHERE model_key <> '';
CREATE INDEX IF NOT EXISTS idx_catalog_devices_brand ON catalog_devices(brand_key);

CREATE TABLE IF NOT EXISTS catalog_components (
	id                    TEXT PRIMARY KEY,
	device_id             TEXT NOT NULL REFERENCES catalog_devices(id) ON DELETE CASCADE,
	name                  TEXT NOT NULL,
	category              TEXT NOT NULL,
	specifications        TEXT NOT NULL DEFAULT '{}',
	reusability_score     INTEGER NOT NULL DEFAULT 5,
	market_value_low      REAL NOT NULL DEFAULT 0,
	market_value_high     REAL NOT NULL DEFAULT 0,
	extraction_difficulty TEXT NOT NULL DEFAULT 'Medium',
	description           TEXT NOT NULL DEFAULT '',
	common_uses           TEXT NOT NULL DEFAULT '[]',
	quantity              INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_catalog_components_device ON catalog_components(device_id);

CREATE TABLE IF NOT EXISTS submissions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	submission_type TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	fingerprint     TEXT NOT NULL DEFAULT '',
	brand_hint      TEXT NOT NULL DEFAULT '',
	model_hint      TEXT NOT NULL DEFAULT '',
	category_hint   TEXT NOT NULL DEFAULT '',
	raw_result      TEXT NOT NULL,
	reviewer_id     TEXT NOT NULL DEFAULT '',
	reviewer_notes  TEXT NOT NULL DEFAULT '',
	device_id       TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	reviewed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

CREATE TABLE IF NOT EXISTS scan_logs (
	id            TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	tier          TEXT NOT NULL,
	fingerprint   TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	stage_timings TEXT NOT NULL DEFAULT '{}',
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0 CHECK (cost_usd >= 0),
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_logs_created_at ON scan_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_scan_logs_user ON scan_logs(user_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Result cache ---

func (s *SQLiteStore) GetCachedResult(ctx context.Context, fingerprint string) (*model.Result, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM result_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached result")
	}
	var r model.Result
	if err := unmarshalJSON([]byte(raw), &r, "cached result"); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) PutCachedResult(ctx context.Context, fingerprint string, result model.Result) (bool, error) {
	b, err := marshalJSON(result, "cached result")
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO result_cache (fingerprint, result, created_at) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		fingerprint, string(b), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: put cached result")
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// --- Stage cache ---

func (s *SQLiteStore) GetStage(ctx context.Context, stage model.Stage, key string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM stage_cache WHERE stage = ? AND cache_key = ?`, string(stage), key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get stage %s", stage)
	}
	return []byte(raw), nil
}

func (s *SQLiteStore) PutStage(ctx context.Context, stage model.Stage, key string, payload []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_cache (stage, cache_key, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		string(stage), key, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: put stage %s", stage)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// --- Catalog ---

const sqliteDeviceCols = `id, device_name, brand, model, category, aliases, difficulty, tools_needed, verified, scan_count, confidence_score, created_at, updated_at`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) CreateDevice(ctx context.Context, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin create device")
	}
	defer tx.Rollback() //nolint:errcheck

	dev, created, err := sqliteInsertDevice(ctx, tx, d)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit create device")
	}
	return dev, created, nil
}

// sqliteInsertDevice inserts the device unless one with the same normalized
// brand and model exists, in which case the existing row is returned and no
// components are added.
func sqliteInsertDevice(ctx context.Context, tx execer, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error) {
	dev := d.Device
	dev.ID = uuid.New().String()
	now := time.Now().UTC()
	dev.CreatedAt, dev.UpdatedAt = now, now
	if dev.Difficulty == "" {
		dev.Difficulty = model.DifficultyMedium
	}

	aliases, err := marshalJSON(nonNilStrings(dev.Aliases), "aliases")
	if err != nil {
		return nil, false, err
	}
	tools, err := marshalJSON(nonNilStrings(dev.ToolsNeeded), "tools")
	if err != nil {
		return nil, false, err
	}

	var id string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO catalog_devices (id, device_name, brand, model, brand_key, model_key, category, aliases,
			difficulty, tools_needed, verified, scan_count, confidence_score, search_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING RETURNING id`,
		dev.ID, dev.DeviceName, dev.Brand, dev.Model, textnorm.Key(dev.Brand), textnorm.Key(dev.Model),
		dev.Category, string(aliases), string(dev.Difficulty), string(tools), dev.Verified,
		dev.ConfidenceScore, searchText(dev), now, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := scanDevice(tx.QueryRowContext(ctx,
			`SELECT `+sqliteDeviceCols+` FROM catalog_devices WHERE brand_key = ? AND model_key = ?`,
			textnorm.Key(dev.Brand), textnorm.Key(dev.Model),
		))
		if err != nil {
			return nil, false, eris.Wrap(err, "sqlite: load existing device")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert device")
	}

	for _, c := range d.Components {
		if err := sqliteInsertComponent(ctx, tx, dev.ID, c); err != nil {
			return nil, false, err
		}
	}
	return &dev, true, nil
}

func sqliteInsertComponent(ctx context.Context, tx execer, deviceID string, c model.CatalogComponent) error {
	specs, err := marshalJSON(specsOrEmpty(c.Specifications), "specifications")
	if err != nil {
		return err
	}
	uses, err := marshalJSON(nonNilStrings(c.CommonUses), "common uses")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO catalog_components (id, device_id, name, category, specifications, reusability_score,
			market_value_low, market_value_high, extraction_difficulty, description, common_uses, quantity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), deviceID, c.Name, string(c.Category), string(specs), c.ReusabilityScore,
		c.MarketValueLow, c.MarketValueHigh, string(c.ExtractionDifficulty), c.Description, string(uses), max(c.Quantity, 1),
	)
	return eris.Wrapf(err, "sqlite: insert component %s", c.Name)
}

func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*model.CatalogDevice, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDeviceCols+` FROM catalog_devices WHERE id = ?`, id,
	))
	return d, eris.Wrapf(err, "sqlite: get device %s", id)
}

func (s *SQLiteStore) FindDevice(ctx context.Context, brand, modelNumber string) (*model.CatalogDevice, error) {
	mk := textnorm.Key(modelNumber)
	if mk == "" {
		return nil, nil
	}
	d, err := scanDevice(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDeviceCols+` FROM catalog_devices WHERE brand_key = ? AND model_key = ?`,
		textnorm.Key(brand), mk,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, eris.Wrap(err, "sqlite: find device")
}

func (s *SQLiteStore) SearchDevices(ctx context.Context, q DeviceQuery) ([]model.CatalogDevice, error) {
	brandKey := textnorm.Key(q.Brand)
	if brandKey == "" && len(q.Tokens) == 0 {
		return nil, nil
	}

	query := `SELECT ` + sqliteDeviceCols + ` FROM catalog_devices WHERE 1=1`
	var args []any
	if brandKey != "" {
		query += ` AND brand_key = ?`
		args = append(args, brandKey)
	}
	if len(q.Tokens) > 0 {
		clauses := make([]string, 0, len(q.Tokens))
		for _, tok := range q.Tokens {
			clauses = append(clauses, `(' ' || search_text || ' ') LIKE ?`)
			args = append(args, "% "+tok+" %")
		}
		query += ` AND (` + strings.Join(clauses, ` OR `) + `)`
	}
	query += ` ORDER BY scan_count DESC LIMIT ?`
	args = append(args, defaultLimit(q.Limit, 20))

	return s.queryDevices(ctx, query, args...)
}

func (s *SQLiteStore) ListDevices(ctx context.Context, limit, offset int) ([]model.CatalogDevice, error) {
	return s.queryDevices(ctx,
		`SELECT `+sqliteDeviceCols+` FROM catalog_devices ORDER BY scan_count DESC, device_name LIMIT ? OFFSET ?`,
		defaultLimit(limit, 100), max(offset, 0),
	)
}

func (s *SQLiteStore) queryDevices(ctx context.Context, query string, args ...any) ([]model.CatalogDevice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query devices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CatalogDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query devices iterate")
}

func (s *SQLiteStore) ListComponents(ctx context.Context, deviceID string) ([]model.CatalogComponent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, name, category, specifications, reusability_score, market_value_low,
			market_value_high, extraction_difficulty, description, common_uses, quantity
		 FROM catalog_components WHERE device_id = ? ORDER BY reusability_score DESC, name`,
		deviceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list components %s", deviceID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CatalogComponent
	for rows.Next() {
		var c model.CatalogComponent
		var specs, uses string
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Name, &c.Category, &specs, &c.ReusabilityScore,
			&c.MarketValueLow, &c.MarketValueHigh, &c.ExtractionDifficulty, &c.Description, &uses, &c.Quantity); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan component")
		}
		if err := unmarshalJSON([]byte(specs), &c.Specifications, "specifications"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON([]byte(uses), &c.CommonUses, "common uses"); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list components iterate")
}

func (s *SQLiteStore) IncrementScanCount(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_devices SET scan_count = scan_count + 1 WHERE id = ?`, deviceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment scan count %s", deviceID)
	}
	return checkRowsAffected(res, "device", deviceID)
}

func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_devices WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete device %s", id)
	}
	return checkRowsAffected(res, "device", id)
}

// --- Submissions ---

const sqliteSubmissionCols = `id, user_id, submission_type, status, fingerprint, brand_hint, model_hint, category_hint, raw_result, reviewer_id, reviewer_notes, device_id, created_at, updated_at, reviewed_at`

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	raw, err := marshalJSON(sub.Raw, "submission result")
	if err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	if sub.Status == "" {
		sub.Status = model.SubmissionPending
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, user_id, submission_type, status, fingerprint, brand_hint, model_hint,
			category_hint, raw_result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, string(sub.Type), string(sub.Status), sub.Fingerprint, sub.BrandHint, sub.ModelHint,
		sub.CategoryHint, string(raw), now, now,
	)
	return eris.Wrap(err, "sqlite: insert submission")
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSubmissionCols+` FROM submissions WHERE id = ?`, id,
	))
	return sub, eris.Wrapf(err, "sqlite: get submission %s", id)
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + sqliteSubmissionCols + ` FROM submissions WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, defaultLimit(filter.Limit, 100), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) UpdateSubmission(ctx context.Context, id string, mutate func(sub *model.Submission) error) (*model.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin update submission")
	}
	defer tx.Rollback() //nolint:errcheck

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+sqliteSubmissionCols+` FROM submissions WHERE id = ?`, id,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load submission %s", id)
	}
	if err := mutate(sub); err != nil {
		return nil, err
	}
	if err := sqliteSaveSubmission(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit update submission")
	}
	return sub, nil
}

func (s *SQLiteStore) ApproveSubmission(ctx context.Context, id string, p Promotion) (*model.Submission, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin approve")
	}
	defer tx.Rollback() //nolint:errcheck

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+sqliteSubmissionCols+` FROM submissions WHERE id = ?`, id,
	))
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: load submission %s", id)
	}
	next, err := sub.Status.Approve()
	if err != nil {
		return nil, false, err
	}

	entry, err := p.Build(*sub)
	if err != nil {
		return nil, false, err
	}
	entry.Device.Verified = p.Verified
	dev, created, err := sqliteInsertDevice(ctx, tx, entry)
	if err != nil {
		return nil, false, err
	}
	if !created && p.Verified && !dev.Verified {
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_devices SET verified = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), dev.ID,
		); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: mark device verified")
		}
	}

	now := time.Now().UTC()
	sub.Status = next
	sub.ReviewerID = p.Reviewer
	sub.ReviewerNotes = p.Notes
	sub.DeviceID = dev.ID
	sub.ReviewedAt = &now
	if err := sqliteSaveSubmission(ctx, tx, sub); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit approve")
	}
	return sub, created, nil
}

func sqliteSaveSubmission(ctx context.Context, tx execer, sub *model.Submission) error {
	raw, err := marshalJSON(sub.Raw, "submission result")
	if err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET status = ?, raw_result = ?, reviewer_id = ?, reviewer_notes = ?, device_id = ?,
			brand_hint = ?, model_hint = ?, updated_at = ?, reviewed_at = ?
		 WHERE id = ?`,
		string(sub.Status), string(raw), sub.ReviewerID, sub.ReviewerNotes, sub.DeviceID,
		sub.BrandHint, sub.ModelHint, sub.UpdatedAt, sub.ReviewedAt, sub.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update submission %s", sub.ID)
	}
	return checkRowsAffected(res, "submission", sub.ID)
}

// --- Scan logs ---

func (s *SQLiteStore) InsertScanLog(ctx context.Context, log *model.ScanLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	timings, err := marshalJSON(log.StageTimings, "stage timings")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_logs (id, stage, tier, fingerprint, user_id, stage_timings, latency_ms, success,
			error_kind, provider, model, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, string(log.Stage), string(log.Tier), log.Fingerprint, log.UserID, string(timings), log.LatencyMS,
		log.Success, string(log.ErrorKind), string(log.Provider), log.Model, log.InputTokens, log.OutputTokens,
		log.CostUSD, log.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert scan log")
}

func (s *SQLiteStore) ListScanLogs(ctx context.Context, filter ScanLogFilter) ([]model.ScanLog, error) {
	query := `SELECT id, stage, tier, fingerprint, user_id, stage_timings, latency_ms, success, error_kind,
		provider, model, input_tokens, output_tokens, cost_usd, created_at FROM scan_logs WHERE 1=1`
	var args []any
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.Until.UTC())
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(filter.Provider))
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, defaultLimit(filter.Limit, 100000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scan logs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScanLog
	for rows.Next() {
		var l model.ScanLog
		var timings string
		if err := rows.Scan(&l.ID, &l.Stage, &l.Tier, &l.Fingerprint, &l.UserID, &timings, &l.LatencyMS,
			&l.Success, &l.ErrorKind, &l.Provider, &l.Model, &l.InputTokens, &l.OutputTokens, &l.CostUSD,
			&l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log row")
		}
		if err := unmarshalJSON([]byte(timings), &l.StageTimings, "stage timings"); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scan logs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDevice(row scannable) (*model.CatalogDevice, error) {
	var d model.CatalogDevice
	var aliases, tools string
	err := row.Scan(&d.ID, &d.DeviceName, &d.Brand, &d.Model, &d.Category, &aliases, &d.Difficulty, &tools,
		&d.Verified, &d.ScanCount, &d.ConfidenceScore, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan device")
	}
	if err := unmarshalJSON([]byte(aliases), &d.Aliases, "aliases"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON([]byte(tools), &d.ToolsNeeded, "tools"); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanSubmission(row scannable) (*model.Submission, error) {
	var sub model.Submission
	var raw string
	var reviewedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Type, &sub.Status, &sub.Fingerprint, &sub.BrandHint, &sub.ModelHint,
		&sub.CategoryHint, &raw, &sub.ReviewerID, &sub.ReviewerNotes, &sub.DeviceID, &sub.CreatedAt, &sub.UpdatedAt, &reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan submission")
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	if err := unmarshalJSON([]byte(raw), &sub.Raw, "submission result"); err != nil {
		return nil, err
	}
	return &sub, nil
}

func specsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
