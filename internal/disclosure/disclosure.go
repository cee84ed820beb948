// Package disclosure reveals identification detail in three cacheable stages:
// device identity, component names, and the detail of one component.
package disclosure

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/catalog"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/textnorm"
	"github.com/sells-group/teardown/internal/vision"
)

// ErrStageGated is returned when a stage is requested before the stage it
// depends on has produced its output.
var ErrStageGated = eris.New("disclosure: stage not reached")

// StageStore is the immutable per-stage cache.
type StageStore interface {
	GetStage(ctx context.Context, stage model.Stage, key string) ([]byte, error)
	PutStage(ctx context.Context, stage model.Stage, key string, payload []byte) (bool, error)
}

// Catalog looks devices up in the curated catalog. Match has no side
// effects; RecordHit is called once the catalog has answered a stage.
type Catalog interface {
	Match(ctx context.Context, h catalog.Hints) (*catalog.Match, error)
	RecordHit(ctx context.Context, deviceID string) bool
}

// Vision runs the per-stage model calls.
type Vision interface {
	Device(ctx context.Context, images []fingerprint.Normalized, hint string, pref model.ProviderName) (model.DeviceIdentity, vision.Call, error)
	Components(ctx context.Context, id model.DeviceIdentity, pref model.ProviderName) ([]model.ComponentSummary, vision.Call, error)
	Detail(ctx context.Context, id model.DeviceIdentity, component string, pref model.ProviderName) (model.Item, vision.Call, error)
}

// Recorder receives one scan log per stage resolution.
type Recorder interface {
	Record(entry model.ScanLog)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Stages   StageStore
	Catalog  Catalog
	Vision   Vision
	Recorder Recorder
	Limits   fingerprint.Limits
	// AITimeout bounds a model call, including its retry. The call is detached
	// from the caller's cancellation.
	AITimeout time.Duration
	Now       func() time.Time
}

// DeviceStage is the output of stage one.
type DeviceStage struct {
	Fingerprint string               `json:"fingerprint"`
	Identity    model.DeviceIdentity `json:"identity"`
	Tier        model.Tier           `json:"tier"`
	DeviceID    string               `json:"device_id,omitempty"`
	Verified    bool                 `json:"verified"`
}

// ComponentsStage is the output of stage two.
type ComponentsStage struct {
	Identity   model.DeviceIdentity     `json:"identity"`
	Components []model.ComponentSummary `json:"components"`
	Tier       model.Tier               `json:"tier"`
}

// DetailStage is the output of stage three.
type DetailStage struct {
	Identity  model.DeviceIdentity `json:"identity"`
	Component model.Item           `json:"component"`
	Tier      model.Tier           `json:"tier"`
}

// StageRequest identifies the device and caller for stages two and three.
// Fingerprint names the stage-one entry; Identity, when set, must match it.
type StageRequest struct {
	Fingerprint string               `json:"fingerprint"`
	Identity    model.DeviceIdentity `json:"identity"`
	Component   string               `json:"component,omitempty"`
	Provider    model.ProviderName   `json:"provider,omitempty"`
	UserID      string               `json:"user_id,omitempty"`
}

// Controller sequences the three stages.
type Controller struct {
	deps Deps
	log  *zap.Logger
}

// New creates a Controller.
func New(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AITimeout <= 0 {
		deps.AITimeout = 2 * time.Minute
	}
	return &Controller{deps: deps, log: zap.L().With(zap.String("component", "disclosure"))}
}

// IdentityKey is the stage-two cache key for an identity. Brand and model
// win when the model is known; otherwise the device name is used.
func IdentityKey(id model.DeviceIdentity) string {
	if m := textnorm.Key(id.Model); m != "" {
		return textnorm.Key(id.Brand) + "/" + m
	}
	return textnorm.Key(id.Brand) + "/name:" + textnorm.Key(id.DeviceName)
}

func detailKey(id model.DeviceIdentity, component string) string {
	return IdentityKey(id) + "#" + textnorm.Key(component)
}

// IdentifyDevice runs stage one, keyed by the image fingerprint.
func (c *Controller) IdentifyDevice(ctx context.Context, req model.IdentificationRequest) (*DeviceStage, error) {
	timer := model.StartTimer(c.deps.Now())
	images, err := fingerprint.Normalize(ctx, req.Images, c.deps.Limits)
	if err != nil {
		return nil, err
	}
	fp := fingerprint.Generate(images)
	entry := model.ScanLog{Stage: model.StageDevice, Fingerprint: fp, UserID: req.UserID}

	var out DeviceStage
	if c.getStage(ctx, model.StageDevice, fp, &out) {
		timer.Mark("cache", c.deps.Now())
		c.finish(entry, timer, model.TierCache, nil, nil)
		return &out, nil
	}
	timer.Mark("cache", c.deps.Now())

	if h := catalog.ExtractHints(req.Hint); !h.Empty() {
		if m := c.matchCatalog(ctx, h); m != nil {
			timer.Mark("catalog", c.deps.Now())
			c.deps.Catalog.RecordHit(ctx, m.Device.ID)
			out = DeviceStage{
				Fingerprint: fp,
				Identity: model.DeviceIdentity{
					DeviceName: m.Device.DeviceName,
					Brand:      m.Device.Brand,
					Model:      m.Device.Model,
					Category:   m.Device.Category,
					Confidence: m.Score,
				},
				Tier:     model.TierDatabase,
				DeviceID: m.Device.ID,
				Verified: m.Device.Verified,
			}
			out = keepStage(ctx, c, model.StageDevice, fp, out)
			c.finish(entry, timer, model.TierDatabase, nil, nil)
			return &out, nil
		}
	}
	timer.Mark("catalog", c.deps.Now())

	aiCtx, cancel := c.aiContext(ctx)
	defer cancel()
	id, call, err := c.deps.Vision.Device(aiCtx, images, req.Hint, req.Provider)
	timer.Mark("ai", c.deps.Now())
	if err != nil {
		c.finish(entry, timer, model.TierAI, &call, err)
		return nil, err
	}

	out = keepStage(ctx, c, model.StageDevice, fp, DeviceStage{Fingerprint: fp, Identity: id, Tier: model.TierAI})
	c.finish(entry, timer, model.TierAI, &call, nil)
	return &out, nil
}

// ListComponents runs stage two for the device stage one identified from
// req.Fingerprint.
func (c *Controller) ListComponents(ctx context.Context, req StageRequest) (*ComponentsStage, error) {
	id, err := c.identified(ctx, req)
	if err != nil {
		return nil, err
	}
	timer := model.StartTimer(c.deps.Now())
	key := IdentityKey(id)
	entry := model.ScanLog{Stage: model.StageComponents, Fingerprint: req.Fingerprint, UserID: req.UserID}

	var out ComponentsStage
	if c.getStage(ctx, model.StageComponents, key, &out) {
		timer.Mark("cache", c.deps.Now())
		c.finish(entry, timer, model.TierCache, nil, nil)
		return &out, nil
	}
	timer.Mark("cache", c.deps.Now())

	if m := c.matchCatalog(ctx, catalog.HintsFromIdentity(id)); m != nil && len(m.Components) > 0 {
		timer.Mark("catalog", c.deps.Now())
		c.deps.Catalog.RecordHit(ctx, m.Device.ID)
		out = ComponentsStage{Identity: id, Tier: model.TierDatabase, Components: make([]model.ComponentSummary, 0, len(m.Components))}
		for _, comp := range m.Components {
			out.Components = append(out.Components, model.ComponentSummary{Name: comp.Name, Category: comp.Category, Quantity: max(comp.Quantity, 1)})
		}
		out = keepStage(ctx, c, model.StageComponents, key, out)
		c.finish(entry, timer, model.TierDatabase, nil, nil)
		return &out, nil
	}
	timer.Mark("catalog", c.deps.Now())

	aiCtx, cancel := c.aiContext(ctx)
	defer cancel()
	list, call, err := c.deps.Vision.Components(aiCtx, id, req.Provider)
	timer.Mark("ai", c.deps.Now())
	if err != nil {
		c.finish(entry, timer, model.TierAI, &call, err)
		return nil, err
	}

	out = keepStage(ctx, c, model.StageComponents, key, ComponentsStage{Identity: id, Components: list, Tier: model.TierAI})
	c.finish(entry, timer, model.TierAI, &call, nil)
	return &out, nil
}

// ComponentDetail runs stage three for exactly one component named by stage
// two for the same device.
func (c *Controller) ComponentDetail(ctx context.Context, req StageRequest) (*DetailStage, error) {
	if strings.TrimSpace(req.Component) == "" {
		return nil, eris.Wrap(ErrStageGated, "component detail needs a component")
	}
	id, err := c.identified(ctx, req)
	if err != nil {
		return nil, err
	}
	var listed ComponentsStage
	if !c.getStage(ctx, model.StageComponents, IdentityKey(id), &listed) {
		return nil, eris.Wrap(ErrStageGated, "component list has not been produced for this device")
	}
	name, ok := findComponent(listed.Components, req.Component)
	if !ok {
		return nil, eris.Wrapf(ErrStageGated, "component %q is not in the list for this device", req.Component)
	}

	timer := model.StartTimer(c.deps.Now())
	key := detailKey(id, name)
	entry := model.ScanLog{Stage: model.StageDetail, Fingerprint: req.Fingerprint, UserID: req.UserID}

	var out DetailStage
	if c.getStage(ctx, model.StageDetail, key, &out) {
		timer.Mark("cache", c.deps.Now())
		c.finish(entry, timer, model.TierCache, nil, nil)
		return &out, nil
	}
	timer.Mark("cache", c.deps.Now())

	if m := c.matchCatalog(ctx, catalog.HintsFromIdentity(id)); m != nil {
		for _, comp := range m.Components {
			if textnorm.Key(comp.Name) != textnorm.Key(name) {
				continue
			}
			timer.Mark("catalog", c.deps.Now())
			c.deps.Catalog.RecordHit(ctx, m.Device.ID)
			conf := 0.8
			if len(m.Result.Items) > 0 {
				conf = m.Result.Items[0].Confidence
			}
			out = keepStage(ctx, c, model.StageDetail, key,
				DetailStage{Identity: id, Component: catalog.ItemFromComponent(comp, conf), Tier: model.TierDatabase})
			c.finish(entry, timer, model.TierDatabase, nil, nil)
			return &out, nil
		}
	}
	timer.Mark("catalog", c.deps.Now())

	aiCtx, cancel := c.aiContext(ctx)
	defer cancel()
	item, call, err := c.deps.Vision.Detail(aiCtx, id, name, req.Provider)
	timer.Mark("ai", c.deps.Now())
	if err != nil {
		c.finish(entry, timer, model.TierAI, &call, err)
		return nil, err
	}

	out = keepStage(ctx, c, model.StageDetail, key, DetailStage{Identity: id, Component: item, Tier: model.TierAI})
	c.finish(entry, timer, model.TierAI, &call, nil)
	return &out, nil
}

// identified returns the identity stage one stored for req.Fingerprint.
func (c *Controller) identified(ctx context.Context, req StageRequest) (model.DeviceIdentity, error) {
	if req.Fingerprint == "" {
		return model.DeviceIdentity{}, eris.Wrap(ErrStageGated, "request has no stage one fingerprint")
	}
	var dev DeviceStage
	if !c.getStage(ctx, model.StageDevice, req.Fingerprint, &dev) {
		return model.DeviceIdentity{}, eris.Wrap(ErrStageGated, "device has not been identified for this photo")
	}
	if !req.Identity.Empty() && IdentityKey(req.Identity) != IdentityKey(dev.Identity) {
		return model.DeviceIdentity{}, eris.Wrapf(ErrStageGated, "identity %q does not match the identified device", req.Identity.DeviceName)
	}
	return dev.Identity, nil
}

func findComponent(list []model.ComponentSummary, name string) (string, bool) {
	want := textnorm.Key(name)
	for _, c := range list {
		if textnorm.Key(c.Name) == want {
			return c.Name, true
		}
	}
	return "", false
}

func (c *Controller) aiContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.deps.AITimeout)
}

func (c *Controller) matchCatalog(ctx context.Context, h catalog.Hints) *catalog.Match {
	if c.deps.Catalog == nil {
		return nil
	}
	m, err := c.deps.Catalog.Match(ctx, h)
	if err != nil {
		c.log.Warn("catalog lookup failed, falling through", zap.Error(err))
		return nil
	}
	return m
}

func (c *Controller) getStage(ctx context.Context, stage model.Stage, key string, v any) bool {
	raw, err := c.deps.Stages.GetStage(ctx, stage, key)
	if err != nil {
		c.log.Warn("stage cache read failed", zap.String("stage", string(stage)), zap.String("key", key), zap.Error(err))
		return false
	}
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.log.Warn("stage cache entry unreadable", zap.String("stage", string(stage)), zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// keepStage writes v as the entry for (stage, key) and returns what the
// entry holds afterwards. A request that loses the write race gets the
// earlier writer's payload, so later stages gate on what the caller saw.
func keepStage[T any](ctx context.Context, c *Controller, stage model.Stage, key string, v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error("stage cache marshal failed", zap.String("stage", string(stage)), zap.Error(err))
		return v
	}
	// Stored even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	created, err := c.deps.Stages.PutStage(ctx, stage, key, raw)
	if err != nil {
		c.log.Error("stage cache write failed", zap.String("stage", string(stage)), zap.String("key", key), zap.Error(err))
		return v
	}
	if created {
		return v
	}
	var stored T
	if !c.getStage(ctx, stage, key, &stored) {
		return v
	}
	c.log.Debug("stage entry already written, returning stored payload", zap.String("stage", string(stage)), zap.String("key", key))
	return stored
}

func (c *Controller) finish(entry model.ScanLog, timer *model.Timer, tier model.Tier, call *vision.Call, err error) {
	if c.deps.Recorder == nil {
		return
	}
	entry.Tier = tier
	entry.StageTimings = timer.Stages()
	entry.LatencyMS = timer.Total(c.deps.Now())
	entry.Success = err == nil
	if err != nil {
		entry.ErrorKind = vision.KindOf(err)
	}
	if call != nil {
		entry.Provider = call.Provider
		entry.Model = call.Model
		entry.InputTokens = call.Usage.InputTokens
		entry.OutputTokens = call.Usage.OutputTokens
		entry.CostUSD = call.CostUSD
	}
	c.deps.Recorder.Record(entry)
}

// IsGated reports whether err is a stage ordering violation.
func IsGated(err error) bool {
	return errors.Is(err, ErrStageGated)
}
