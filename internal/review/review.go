// Package review moves user submissions through the review state machine and
// promotes approved ones into the catalog.
package review

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/textnorm"
)

// AutoReviewer is recorded as the reviewer of auto-approved submissions.
const AutoReviewer = "auto"

// ErrInvalidSubmission is returned when a submission cannot be accepted.
var ErrInvalidSubmission = eris.New("review: invalid submission")

// Store is the subset of store.Store the workflow needs.
type Store interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
	UpdateSubmission(ctx context.Context, id string, mutate func(sub *model.Submission) error) (*model.Submission, error)
	ApproveSubmission(ctx context.Context, id string, p store.Promotion) (*model.Submission, bool, error)
}

// Policy is the auto-approval rule applied on submit.
type Policy struct {
	Enabled       bool
	Types         []model.SubmissionType
	MinConfidence float64
}

// PolicyFromConfig converts review configuration into a Policy.
func PolicyFromConfig(c config.ReviewConfig) Policy {
	p := Policy{Enabled: c.AutoApprove, MinConfidence: c.AutoApproveMinConfidence}
	for _, t := range c.AutoApproveTypes {
		p.Types = append(p.Types, model.SubmissionType(t))
	}
	return p
}

// Allows reports whether sub qualifies for auto-approval.
func (p Policy) Allows(sub model.Submission) bool {
	if !p.Enabled || !slices.Contains(p.Types, sub.Type) {
		return false
	}
	return len(sub.Raw.Items) > 0 && sub.Raw.AverageConfidence() >= p.MinConfidence
}

// SubmitInput is a new submission from a user.
type SubmitInput struct {
	UserID      string               `json:"user_id,omitempty"`
	Type        model.SubmissionType `json:"submission_type"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	Brand       string               `json:"brand,omitempty"`
	Model       string               `json:"model,omitempty"`
	Category    string               `json:"category,omitempty"`
	Result      model.Result         `json:"raw_result"`
}

// Workflow runs submission transitions against a store.
type Workflow struct {
	st     Store
	policy Policy
	log    *zap.Logger
}

// New creates a Workflow.
func New(st Store, policy Policy) *Workflow {
	return &Workflow{st: st, policy: policy, log: zap.L().With(zap.String("component", "review"))}
}

// Submit validates and persists a pending submission, then applies the
// auto-approval policy. A failed auto-approval leaves the submission pending.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*model.Submission, error) {
	if !in.Type.Valid() {
		return nil, eris.Wrapf(ErrInvalidSubmission, "unknown submission type %q", in.Type)
	}
	res := in.Result
	res.ParentObject = strings.TrimSpace(res.ParentObject)
	if res.ParentObject == "" && strings.TrimSpace(in.Brand) == "" && strings.TrimSpace(in.Model) == "" {
		return nil, eris.Wrap(ErrInvalidSubmission, "result names no device")
	}
	if res.Items == nil {
		res.Items = []model.Item{}
	}
	if res.ToolsNeeded == nil {
		res.ToolsNeeded = []string{}
	}

	sub := &model.Submission{
		UserID:       in.UserID,
		Type:         in.Type,
		Status:       model.SubmissionPending,
		Fingerprint:  in.Fingerprint,
		BrandHint:    strings.TrimSpace(in.Brand),
		ModelHint:    strings.TrimSpace(in.Model),
		CategoryHint: strings.TrimSpace(in.Category),
		Raw:          res,
	}
	if err := w.st.CreateSubmission(ctx, sub); err != nil {
		return nil, eris.Wrap(err, "review: create submission")
	}
	w.log.Info("submission created", zap.String("id", sub.ID), zap.String("type", string(sub.Type)))

	if !w.policy.Allows(*sub) {
		return sub, nil
	}
	approved, _, err := w.approve(ctx, sub.ID, AutoReviewer, "auto-approved by policy", false)
	if err != nil {
		w.log.Warn("auto-approval failed, left pending", zap.String("id", sub.ID), zap.Error(err))
		return sub, nil
	}
	return approved, nil
}

// Approve promotes a pending submission into the catalog as verified. The
// bool reports whether a new catalog device was created.
func (w *Workflow) Approve(ctx context.Context, id, reviewer, notes string) (*model.Submission, bool, error) {
	return w.approve(ctx, id, reviewer, notes, true)
}

func (w *Workflow) approve(ctx context.Context, id, reviewer, notes string, verified bool) (*model.Submission, bool, error) {
	sub, created, err := w.st.ApproveSubmission(ctx, id, store.Promotion{
		Reviewer: reviewer,
		Notes:    notes,
		Verified: verified,
		Build:    DeriveDevice,
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "review: approve %s", id)
	}
	w.log.Info("submission approved",
		zap.String("id", id),
		zap.String("reviewer", reviewer),
		zap.String("device_id", sub.DeviceID),
		zap.Bool("device_created", created),
	)
	return sub, created, nil
}

// Reject closes a pending submission with a reason.
func (w *Workflow) Reject(ctx context.Context, id, reviewer, reason string) (*model.Submission, error) {
	return w.transition(ctx, id, "reject", func(sub *model.Submission) error {
		next, err := sub.Status.Reject()
		if err != nil {
			return err
		}
		sub.Status = next
		sub.ReviewerID = reviewer
		sub.ReviewerNotes = reason
		return nil
	})
}

// RequestInfo asks the submitter for more detail.
func (w *Workflow) RequestInfo(ctx context.Context, id, reviewer, notes string) (*model.Submission, error) {
	return w.transition(ctx, id, "request info", func(sub *model.Submission) error {
		next, err := sub.Status.RequestInfo()
		if err != nil {
			return err
		}
		sub.Status = next
		sub.ReviewerID = reviewer
		sub.ReviewerNotes = notes
		return nil
	})
}

// Resubmit replaces the raw result of a submission awaiting more detail and
// returns it to pending.
func (w *Workflow) Resubmit(ctx context.Context, id string, result model.Result) (*model.Submission, error) {
	if result.Items == nil {
		result.Items = []model.Item{}
	}
	return w.transition(ctx, id, "resubmit", func(sub *model.Submission) error {
		next, err := sub.Status.Resubmit()
		if err != nil {
			return err
		}
		if strings.TrimSpace(result.ParentObject) == "" {
			result.ParentObject = sub.Raw.ParentObject
		}
		sub.Status = next
		sub.Raw = result
		return nil
	})
}

func (w *Workflow) transition(ctx context.Context, id, op string, mutate func(sub *model.Submission) error) (*model.Submission, error) {
	sub, err := w.st.UpdateSubmission(ctx, id, mutate)
	if err != nil {
		return nil, eris.Wrapf(err, "review: %s %s", op, id)
	}
	w.log.Info("submission updated", zap.String("id", id), zap.String("op", op), zap.String("status", string(sub.Status)))
	return sub, nil
}

// Get returns one submission.
func (w *Workflow) Get(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := w.st.GetSubmission(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review: get %s", id)
	}
	return sub, nil
}

// List returns submissions matching filter.
func (w *Workflow) List(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error) {
	subs, err := w.st.ListSubmissions(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "review: list submissions")
	}
	return subs, nil
}

// DeriveDevice builds the catalog entry for a submission from its stored raw
// result. The device category is the one the submitter gave; component
// categories describe parts, not the device, so they never stand in for it.
// The same submission always yields the same entry.
func DeriveDevice(sub model.Submission) (model.DeviceWithComponents, error) {
	res := sub.Raw
	name := strings.TrimSpace(res.ParentObject)
	if name == "" {
		name = strings.TrimSpace(sub.BrandHint + " " + sub.ModelHint)
	}
	if name == "" {
		return model.DeviceWithComponents{}, eris.Wrapf(ErrInvalidSubmission, "submission %s names no device", sub.ID)
	}

	dev := model.CatalogDevice{
		DeviceName:      name,
		Brand:           sub.BrandHint,
		Model:           sub.ModelHint,
		Category:        sub.CategoryHint,
		Difficulty:      res.SalvageDifficulty,
		ToolsNeeded:     append([]string{}, res.ToolsNeeded...),
		ConfidenceScore: res.AverageConfidence(),
	}
	if !dev.Difficulty.Valid() {
		dev.Difficulty = model.DifficultyMedium
	}

	out := model.DeviceWithComponents{Device: dev, Components: []model.CatalogComponent{}}
	seen := map[string]bool{}
	for _, it := range res.Items {
		key := textnorm.Key(it.ComponentName)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.Components = append(out.Components, model.CatalogComponent{
			Name:                 strings.TrimSpace(it.ComponentName),
			Category:             it.Category,
			Specifications:       it.Specifications,
			ReusabilityScore:     it.ReusabilityScore,
			MarketValueLow:       it.MarketValueLow,
			MarketValueHigh:      it.MarketValueHigh,
			ExtractionDifficulty: dev.Difficulty,
			Description:          it.Description,
			CommonUses:           append([]string{}, it.CommonUses...),
			Quantity:             max(it.Quantity, 1),
		})
	}
	return out, nil
}
