package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/textnorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// DeviceQuery narrows the catalog candidate prefilter.
type DeviceQuery struct {
	Brand  string   `json:"brand,omitempty"`
	Tokens []string `json:"tokens,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	Status model.SubmissionStatus `json:"status,omitempty"`
	UserID string                 `json:"user_id,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// ScanLogFilter specifies criteria for listing scan logs.
type ScanLogFilter struct {
	Since    time.Time          `json:"since,omitempty"`
	Until    time.Time          `json:"until,omitempty"`
	UserID   string             `json:"user_id,omitempty"`
	Provider model.ProviderName `json:"provider,omitempty"`
	Stage    model.Stage        `json:"stage,omitempty"`
	Limit    int                `json:"limit,omitempty"`
}

// Promotion describes how an approved submission becomes a catalog device.
type Promotion struct {
	Reviewer string
	Notes    string
	Verified bool
	// Build derives the catalog entry from the locked submission.
	Build func(sub model.Submission) (model.DeviceWithComponents, error)
}

// Store defines the persistence interface for the resolution engine.
type Store interface {
	// Result cache: one immutable entry per fingerprint, first writer wins.
	GetCachedResult(ctx context.Context, fingerprint string) (*model.Result, error)
	PutCachedResult(ctx context.Context, fingerprint string, result model.Result) (bool, error)

	// Disclosure stage cache: one immutable payload per (stage, key).
	GetStage(ctx context.Context, stage model.Stage, key string) ([]byte, error)
	PutStage(ctx context.Context, stage model.Stage, key string, payload []byte) (bool, error)

	// Catalog
	CreateDevice(ctx context.Context, d model.DeviceWithComponents) (*model.CatalogDevice, bool, error)
	GetDevice(ctx context.Context, id string) (*model.CatalogDevice, error)
	FindDevice(ctx context.Context, brand, modelNumber string) (*model.CatalogDevice, error)
	SearchDevices(ctx context.Context, q DeviceQuery) ([]model.CatalogDevice, error)
	ListDevices(ctx context.Context, limit, offset int) ([]model.CatalogDevice, error)
	ListComponents(ctx context.Context, deviceID string) ([]model.CatalogComponent, error)
	IncrementScanCount(ctx context.Context, deviceID string) error
	DeleteDevice(ctx context.Context, id string) error

	// Submissions
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)
	UpdateSubmission(ctx context.Context, id string, mutate func(sub *model.Submission) error) (*model.Submission, error)
	ApproveSubmission(ctx context.Context, id string, p Promotion) (*model.Submission, bool, error)

	// Scan logs (append-only)
	InsertScanLog(ctx context.Context, log *model.ScanLog) error
	ListScanLogs(ctx context.Context, filter ScanLogFilter) ([]model.ScanLog, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// searchText is the folded token string indexed for catalog search.
func searchText(d model.CatalogDevice) string {
	parts := []string{d.DeviceName, d.Brand, d.Model, d.Category}
	parts = append(parts, d.Aliases...)
	tokens := textnorm.Tokens(strings.Join(parts, " "))
	if k := textnorm.Key(d.Model); k != "" {
		tokens = append(tokens, k)
	}
	return strings.Join(tokens, " ")
}

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", what)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any, what string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return eris.Wrapf(err, "store: unmarshal %s", what)
	}
	return nil
}

func defaultLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
