package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/teardown/internal/db"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/textnorm"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
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

	maxConns := int32(10)
	minConns := int32(2)
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
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS result_cache (
	fingerprint TEXT PRIMARY KEY,
	result      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_cache (
	stage      TEXT NOT NULL,
	cache_key  TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stage, cache_key)
);

CREATE TABLE IF NOT EXISTS catalog_devices (
	id               UUID PRIMARY KEY,
	device_name      TEXT NOT NULL,
	brand            TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	brand_key        TEXT NOT NULL DEFAULT '',
	model_key        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	aliases          JSONB NOT NULL DEFAULT '[]',
	difficulty       TEXT NOT NULL DEFAULT 'Medium',
	tools_needed     JSONB NOT NULL DEFAULT '[]',
	verified         BOOLEAN NOT NULL DEFAULT false,
	scan_count       BIGINT NOT NULL DEFAULT 0,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	search_text      TEXT NOT NULL DEFAULT '',
	search_tsv       TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', search_text)) STORED,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_catalog_devices_identity
	ON catalog_devices(brand_key, model_key) WHERE model_key <> '';
CREATE INDEX IF NOT EXISTS idx_catalog_devices_brand ON catalog_devices(brand_key);
CREATE INDEX IF NOT EXISTS idx_catalog_devices_search ON catalog_devices USING GIN (search_tsv);

CREATE TABLE IF NOT EXISTS catalog_components (
	id                    UUID PRIMARY KEY,
	device_id             UUID NOT NULL REFERENCES catalog_devices(id) ON DELETE CASCADE,
	name                  TEXT NOT NULL,
	category              TEXT NOT NULL,
	specifications        JSONB NOT NULL DEFAULT '{}',
	reusability_score     INTEGER NOT NULL DEFAULT 5 CHECK (reusability_score BETWEEN 1 AND 10),
	market_value_low      DOUBLE PRECISION NOT NULL DEFAULT 0,
	market_value_high     DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_difficulty TEXT NOT NULL DEFAULT 'Medium',
	description           TEXT NOT NULL DEFAULT '',
	common_uses           JSONB NOT NULL DEFAULT '[]',
	quantity              INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 1)
);

CREATE INDEX IF NOT EXISTS idx_catalog_components_device ON catalog_components(device_id);

CREATE TABLE IF NOT EXISTS submissions (
	id              UUID PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	submission_type TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	fingerprint     TEXT NOT NULL DEFAULT '',
	brand_hint      TEXT NOT NULL DEFAULT '',
	model_hint      TEXT NOT NULL DEFAULT '',
	category_hint   TEXT NOT NULL DEFAULT '',
	raw_result      JSONB NOT NULL,
	reviewer_id     TEXT NOT NULL DEFAULT '',
	reviewer_notes  TEXT NOT NULL DEFAULT '',
	device_id       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	reviewed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status, created_at DESC);

CREATE TABLE IF NOT EXISTS scan_logs (
	id            UUID PRIMARY KEY,
	stage         TEXT NOT NULL,
	tier          TEXT NOT NULL,
	fingerprint   TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	stage_timings JSONB NOT NULL DEFAULT '{}',
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (cost_usd >= 0),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scan_logs_created_at ON scan_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_scan_logs_user ON scan_logs(user_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Result cache ---

func (s *PostgresStore) GetCachedResult(ctx context.Context, fingerprint string) (*model.Result, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM result_cache WHERE fingerprint = $1`, fingerprint,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached result")
	}
	var r model.Result
	if err := unmarshalJSON(raw, &r, "cached result"); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) PutCachedResult(ctx context.Context, fingerprint string, result model.Result) (bool, error) {
	b, err := marshalJSON(result, "cached result")
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO result_cache (fingerprint, result, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		fingerprint, b, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: put cached result")
	}
	return tag.RowsAffected() > 0, nil
}

// --- Stage cache ---

func (s *PostgresStore) GetStage(ctx context.Context, stage model.Stage, key string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM stage_cache WHERE stage = $1 AND cache_key = $2`, string(stage), key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get stage %s", stage)
	}
	return raw, nil
}

func (s *PostgresStore) PutStage(ctx context.Context, stage model.Stage, key string, payload []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO stage_cache (stage, cache_key, payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		string(stage), key, payload, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: put stage %s", stage)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Catalog ---

const pgDeviceCols = `id::text, device_name, brand, model, category, aliases, difficulty, tools_needed, verified, scan_count, confidence_score, created_at, updated_at`

var componentCopyCols = []string{
	"id", "device_id", "name", "category", "specifications", "reusability_score",
	"market_value_low", "market_value_high", "extraction_difficulty", "description", "common_uses", "quantity",
}

func (s *PostgresStore) CreateDevice(ctx context.Context, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error) {
	var (
		dev     *model.CatalogDevice
		created bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		dev, created, err = pgInsertDevice(ctx, tx, d)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return dev, created, nil
}

// pgInsertDevice inserts the device and bulk-loads its components unless a
// device with the same normalized brand and model already exists.
func pgInsertDevice(ctx context.Context, tx pgx.Tx, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error) {
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
	err = tx.QueryRow(ctx,
		`INSERT INTO catalog_devices (id, device_name, brand, model, brand_key, model_key, category, aliases,
			difficulty, tools_needed, verified, confidence_score, search_text, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT DO NOTHING RETURNING id::text`,
		dev.ID, dev.DeviceName, dev.Brand, dev.Model, textnorm.Key(dev.Brand), textnorm.Key(dev.Model),
		dev.Category, aliases, string(dev.Difficulty), tools, dev.Verified, dev.ConfidenceScore,
		searchText(dev), now, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := pgScanDevice(tx.QueryRow(ctx,
			`SELECT `+pgDeviceCols+` FROM catalog_devices WHERE brand_key = $1 AND model_key = $2`,
			textnorm.Key(dev.Brand), textnorm.Key(dev.Model),
		))
		if err != nil {
			return nil, false, eris.Wrap(err, "postgres: load existing device")
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert device")
	}

	rows := make([][]any, 0, len(d.Components))
	for _, c := range d.Components {
		specs, err := marshalJSON(specsOrEmpty(c.Specifications), "specifications")
		if err != nil {
			return nil, false, err
		}
		uses, err := marshalJSON(nonNilStrings(c.CommonUses), "common uses")
		if err != nil {
			return nil, false, err
		}
		rows = append(rows, []any{
			uuid.New().String(), dev.ID, c.Name, string(c.Category), specs, c.ReusabilityScore,
			c.MarketValueLow, c.MarketValueHigh, string(c.ExtractionDifficulty), c.Description, uses, max(c.Quantity, 1),
		})
	}
	if _, err := db.CopyRows(ctx, tx, "catalog_components", componentCopyCols, rows); err != nil {
		return nil, false, err
	}
	return &dev, true, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, id string) (*model.CatalogDevice, error) {
	d, err := pgScanDevice(s.pool.QueryRow(ctx,
		`SELECT `+pgDeviceCols+` FROM catalog_devices WHERE id = $1`, id,
	))
	return d, eris.Wrapf(err, "postgres: get device %s", id)
}

func (s *PostgresStore) FindDevice(ctx context.Context, brand, modelNumber string) (*model.CatalogDevice, error) {
	mk := textnorm.Key(modelNumber)
	if mk == "" {
		return nil, nil
	}
	d, err := pgScanDevice(s.pool.QueryRow(ctx,
		`SELECT `+pgDeviceCols+` FROM catalog_devices WHERE brand_key = $1 AND model_key = $2`,
		textnorm.Key(brand), mk,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, eris.Wrap(err, "postgres: find device")
}

func (s *PostgresStore) SearchDevices(ctx context.Context, q DeviceQuery) ([]model.CatalogDevice, error) {
	brandKey := textnorm.Key(q.Brand)
	if brandKey == "" && len(q.Tokens) == 0 {
		return nil, nil
	}

	query := `SELECT ` + pgDeviceCols + ` FROM catalog_devices WHERE ($1 = '' OR brand_key = $1)`
	args := []any{brandKey}
	order := ` ORDER BY scan_count DESC`
	if len(q.Tokens) > 0 {
		args = append(args, strings.Join(q.Tokens, " | "))
		query += ` AND search_tsv @@ to_tsquery('simple', $2)`
		order = ` ORDER BY ts_rank(search_tsv, to_tsquery('simple', $2)) DESC, scan_count DESC`
	}
	args = append(args, defaultLimit(q.Limit, 20))
	query += order + ` LIMIT $` + strconv.Itoa(len(args))

	return s.queryDevices(ctx, query, args...)
}

func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]model.CatalogDevice, error) {
	return s.queryDevices(ctx,
		`SELECT `+pgDeviceCols+` FROM catalog_devices ORDER BY scan_count DESC, device_name LIMIT $1 OFFSET $2`,
		defaultLimit(limit, 100), max(offset, 0),
	)
}

func (s *PostgresStore) queryDevices(ctx context.Context, query string, args ...any) ([]model.CatalogDevice, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query devices")
	}
	defer rows.Close()

	var out []model.CatalogDevice
	for rows.Next() {
		d, err := pgScanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query devices iterate")
}

func (s *PostgresStore) ListComponents(ctx context.Context, deviceID string) ([]model.CatalogComponent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, device_id::text, name, category, specifications, reusability_score, market_value_low,
			market_value_high, extraction_difficulty, description, common_uses, quantity
		 FROM catalog_components WHERE device_id = $1 ORDER BY reusability_score DESC, name`,
		deviceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list components %s", deviceID)
	}
	defer rows.Close()

	var out []model.CatalogComponent
	for rows.Next() {
		var c model.CatalogComponent
		var category, difficulty string
		var specs, uses []byte
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Name, &category, &specs, &c.ReusabilityScore,
			&c.MarketValueLow, &c.MarketValueHigh, &difficulty, &c.Description, &uses, &c.Quantity); err != nil {
			return nil, eris.Wrap(err, "postgres: scan component")
		}
		c.Category = model.Category(category)
		c.ExtractionDifficulty = model.Difficulty(difficulty)
		if err := unmarshalJSON(specs, &c.Specifications, "specifications"); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(uses, &c.CommonUses, "common uses"); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list components iterate")
}

func (s *PostgresStore) IncrementScanCount(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_devices SET scan_count = scan_count + 1 WHERE id = $1`, deviceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment scan count %s", deviceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "device %s", deviceID)
	}
	return nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM catalog_devices WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete device %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "device %s", id)
	}
	return nil
}

// --- Submissions ---

const pgSubmissionCols = `id::text, user_id, submission_type, status, fingerprint, brand_hint, model_hint, category_hint, raw_result, reviewer_id, reviewer_notes, device_id, created_at, updated_at, reviewed_at`

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, user_id, submission_type, status, fingerprint, brand_hint, model_hint,
			category_hint, raw_result, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.UserID, string(sub.Type), string(sub.Status), sub.Fingerprint, sub.BrandHint, sub.ModelHint,
		sub.CategoryHint, raw, now, now,
	)
	return eris.Wrap(err, "postgres: insert submission")
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := pgScanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+pgSubmissionCols+` FROM submissions WHERE id = $1`, id,
	))
	return sub, eris.Wrapf(err, "postgres: get submission %s", id)
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query := `SELECT ` + pgSubmissionCols + ` FROM submissions WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, query,
		string(filter.Status), filter.UserID, defaultLimit(filter.Limit, 100), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var out []model.Submission
	for rows.Next() {
		sub, err := pgScanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, id string, mutate func(sub *model.Submission) error) (*model.Submission, error) {
	var out *model.Submission
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		sub, err := pgLockSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(sub); err != nil {
			return err
		}
		if err := pgSaveSubmission(ctx, tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ApproveSubmission(ctx context.Context, id string, p Promotion) (*model.Submission, bool, error) {
	var (
		out     *model.Submission
		created bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		sub, err := pgLockSubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := sub.Status.Approve()
		if err != nil {
			return err
		}

		entry, err := p.Build(*sub)
		if err != nil {
			return err
		}
		entry.Device.Verified = p.Verified
		dev, isNew, err := pgInsertDevice(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !isNew && p.Verified && !dev.Verified {
			if _, err := tx.Exec(ctx,
				`UPDATE catalog_devices SET verified = true, updated_at = $1 WHERE id = $2`, time.Now().UTC(), dev.ID,
			); err != nil {
				return eris.Wrap(err, "postgres: mark device verified")
			}
		}

		now := time.Now().UTC()
		sub.Status = next
		sub.ReviewerID = p.Reviewer
		sub.ReviewerNotes = p.Notes
		sub.DeviceID = dev.ID
		sub.ReviewedAt = &now
		if err := pgSaveSubmission(ctx, tx, sub); err != nil {
			return err
		}
		out, created = sub, isNew
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// pgLockSubmission reads the submission row and holds it for the rest of the
// transaction so concurrent reviewers serialize.
func pgLockSubmission(ctx context.Context, tx pgx.Tx, id string) (*model.Submission, error) {
	sub, err := pgScanSubmission(tx.QueryRow(ctx,
		`SELECT `+pgSubmissionCols+` FROM submissions WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock submission %s", id)
	}
	return sub, nil
}

func pgSaveSubmission(ctx context.Context, tx pgx.Tx, sub *model.Submission) error {
	raw, err := marshalJSON(sub.Raw, "submission result")
	if err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET status = $1, raw_result = $2, reviewer_id = $3, reviewer_notes = $4, device_id = $5,
			brand_hint = $6, model_hint = $7, updated_at = $8, reviewed_at = $9
		 WHERE id = $10`,
		string(sub.Status), raw, sub.ReviewerID, sub.ReviewerNotes, sub.DeviceID,
		sub.BrandHint, sub.ModelHint, sub.UpdatedAt, sub.ReviewedAt, sub.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update submission %s", sub.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "submission %s", sub.ID)
	}
	return nil
}

// --- Scan logs ---

func (s *PostgresStore) InsertScanLog(ctx context.Context, log *model.ScanLog) error {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scan_logs (id, stage, tier, fingerprint, user_id, stage_timings, latency_ms, success,
			error_kind, provider, model, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		log.ID, string(log.Stage), string(log.Tier), log.Fingerprint, log.UserID, timings, log.LatencyMS,
		log.Success, string(log.ErrorKind), string(log.Provider), log.Model, log.InputTokens, log.OutputTokens,
		log.CostUSD, log.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert scan log")
}

func (s *PostgresStore) ListScanLogs(ctx context.Context, filter ScanLogFilter) ([]model.ScanLog, error) {
	var since, until *time.Time
	if !filter.Since.IsZero() {
		t := filter.Since.UTC()
		since = &t
	}
	if !filter.Until.IsZero() {
		t := filter.Until.UTC()
		until = &t
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, stage, tier, fingerprint, user_id, stage_timings, latency_ms, success, error_kind,
			provider, model, input_tokens, output_tokens, cost_usd, created_at
		 FROM scan_logs
		 WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		   AND ($2::timestamptz IS NULL OR created_at < $2)
		   AND ($3 = '' OR user_id = $3)
		   AND ($4 = '' OR provider = $4)
		   AND ($5 = '' OR stage = $5)
		 ORDER BY created_at LIMIT $6`,
		since, until, filter.UserID, string(filter.Provider), string(filter.Stage), defaultLimit(filter.Limit, 100000),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scan logs")
	}
	defer rows.Close()

	var out []model.ScanLog
	for rows.Next() {
		var l model.ScanLog
		var stage, tier, errorKind, provider string
		var timings []byte
		if err := rows.Scan(&l.ID, &stage, &tier, &l.Fingerprint, &l.UserID, &timings, &l.LatencyMS,
			&l.Success, &errorKind, &provider, &l.Model, &l.InputTokens, &l.OutputTokens, &l.CostUSD,
			&l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log row")
		}
		l.Stage, l.Tier = model.Stage(stage), model.Tier(tier)
		l.ErrorKind, l.Provider = model.ErrorKind(errorKind), model.ProviderName(provider)
		if err := unmarshalJSON(timings, &l.StageTimings, "stage timings"); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scan logs iterate")
}

func pgScanDevice(row pgx.Row) (*model.CatalogDevice, error) {
	var d model.CatalogDevice
	var difficulty string
	var aliases, tools []byte
	err := row.Scan(&d.ID, &d.DeviceName, &d.Brand, &d.Model, &d.Category, &aliases, &difficulty, &tools,
		&d.Verified, &d.ScanCount, &d.ConfidenceScore, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan device")
	}
	d.Difficulty = model.Difficulty(difficulty)
	if err := unmarshalJSON(aliases, &d.Aliases, "aliases"); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tools, &d.ToolsNeeded, "tools"); err != nil {
		return nil, err
	}
	return &d, nil
}

func pgScanSubmission(row pgx.Row) (*model.Submission, error) {
	var sub model.Submission
	var subType, status string
	var raw []byte
	err := row.Scan(&sub.ID, &sub.UserID, &subType, &status, &sub.Fingerprint, &sub.BrandHint, &sub.ModelHint,
		&sub.CategoryHint, &raw, &sub.ReviewerID, &sub.ReviewerNotes, &sub.DeviceID, &sub.CreatedAt, &sub.UpdatedAt, &sub.ReviewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan submission")
	}
	sub.Type, sub.Status = model.SubmissionType(subType), model.SubmissionStatus(status)
	if err := unmarshalJSON(raw, &sub.Raw, "submission result"); err != nil {
		return nil, err
	}
	return &sub, nil
}
