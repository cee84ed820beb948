package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/textnorm"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleResult(name string) model.Result {
	return model.Result{
		ParentObject: name,
		Items: []model.Item{{
			ComponentName:    "ATmega328P",
			Category:         model.CategoryICs,
			Specifications:   map[string]any{"flash": "32KB"},
			ReusabilityScore: 8,
			MarketValueLow:   1.5,
			MarketValueHigh:  3,
			Condition:        model.ConditionGood,
			Confidence:       0.9,
			Description:      "8-bit AVR",
			CommonUses:       []string{"arduino"},
			Quantity:         1,
		}},
		TotalEstimatedValueLow:  1.5,
		TotalEstimatedValueHigh: 3,
		SalvageDifficulty:       model.DifficultyEasy,
		ToolsNeeded:             []string{"screwdriver"},
	}
}

func sampleDevice(brand, modelNumber string) model.DeviceWithComponents {
	return model.DeviceWithComponents{
		Device: model.CatalogDevice{
			DeviceName:  brand + " " + modelNumber + " Wireless Router",
			Brand:       brand,
			Model:       modelNumber,
			Category:    "Networking",
			Aliases:     []string{"wifi router"},
			Difficulty:  model.DifficultyEasy,
			ToolsNeeded: []string{"T8 driver"},
		},
		Components: []model.CatalogComponent{
			{Name: "Broadcom BCM5352", Category: model.CategoryICs, ReusabilityScore: 6, MarketValueLow: 2, MarketValueHigh: 4, Quantity: 1},
			{Name: "Dipole antenna", Category: model.CategoryConnectors, ReusabilityScore: 9, MarketValueLow: 1, MarketValueHigh: 2, Quantity: 2},
		},
	}
}

// --- Result cache ---

func TestSQLite_ResultCache_PutAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	got, err := st.GetCachedResult(ctx, "fp1")
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := st.PutCachedResult(ctx, "fp1", sampleResult("Arduino Uno"))
	require.NoError(t, err)
	assert.True(t, stored)

	got, err = st.GetCachedResult(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Arduino Uno", got.ParentObject)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "32KB", got.Items[0].Specifications["flash"])
}

func TestSQLite_ResultCache_FirstWriterWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	stored, err := st.PutCachedResult(ctx, "fp1", sampleResult("first"))
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = st.PutCachedResult(ctx, "fp1", sampleResult("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := st.GetCachedResult(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.ParentObject)
}

func TestSQLite_ResultCache_ConcurrentWriters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.PutCachedResult(ctx, "race", sampleResult("x"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

// --- Stage cache ---

func TestSQLite_StageCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	got, err := st.GetStage(ctx, model.StageDevice, "fp1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := st.PutStage(ctx, model.StageDevice, "fp1", []byte(`{"device_name":"Router"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.PutStage(ctx, model.StageDevice, "fp1", []byte(`{"device_name":"Other"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	// Same key under another stage is independent.
	ok, err = st.PutStage(ctx, model.StageComponents, "fp1", []byte(`[]`))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = st.GetStage(ctx, model.StageDevice, "fp1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"device_name":"Router"}`, string(got))
}

// --- Catalog ---

func TestSQLite_CreateDevice_AndComponents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	dev, created, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, dev.ID)

	got, err := st.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Linksys", got.Brand)
	assert.Equal(t, []string{"wifi router"}, got.Aliases)
	assert.Equal(t, model.DifficultyEasy, got.Difficulty)

	comps, err := st.ListComponents(ctx, dev.ID)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "Dipole antenna", comps[0].Name)
	assert.Equal(t, 2, comps[0].Quantity)
}

func TestSQLite_CreateDevice_DuplicateIdentity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, created, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := st.CreateDevice(ctx, sampleDevice("LINKSYS", "wrt-54g"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	comps, err := st.ListComponents(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, comps, 2)
}

func TestSQLite_CreateDevice_NoModelAllowsDuplicates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d := sampleDevice("", "")
	_, created, err := st.CreateDevice(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = st.CreateDevice(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSQLite_FindDevice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	dev, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)

	got, err := st.FindDevice(ctx, "linksys", "WRT 54G")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dev.ID, got.ID)

	got, err = st.FindDevice(ctx, "linksys", "E1200")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = st.FindDevice(ctx, "linksys", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_SearchDevices(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	router, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	printer := model.DeviceWithComponents{Device: model.CatalogDevice{
		DeviceName: "HP LaserJet 1020", Brand: "HP", Model: "1020", Category: "Printer",
	}}
	_, _, err = st.CreateDevice(ctx, printer)
	require.NoError(t, err)

	got, err := st.SearchDevices(ctx, DeviceQuery{Tokens: textnorm.Tokens("wireless router")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, router.ID, got[0].ID)

	got, err = st.SearchDevices(ctx, DeviceQuery{Brand: "HP"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "HP LaserJet 1020", got[0].DeviceName)

	got, err = st.SearchDevices(ctx, DeviceQuery{Brand: "HP", Tokens: []string{"router"}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = st.SearchDevices(ctx, DeviceQuery{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_IncrementScanCount(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	dev, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	require.NoError(t, st.IncrementScanCount(ctx, dev.ID))
	require.NoError(t, st.IncrementScanCount(ctx, dev.ID))

	got, err := st.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ScanCount)

	err = st.IncrementScanCount(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_DeleteDevice_CascadesComponents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	dev, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	require.NoError(t, st.DeleteDevice(ctx, dev.ID))

	comps, err := st.ListComponents(ctx, dev.ID)
	require.NoError(t, err)
	assert.Empty(t, comps)

	_, err = st.GetDevice(ctx, dev.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.DeleteDevice(ctx, dev.ID), ErrNotFound))
}

func TestSQLite_ListDevices(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	_, _, err = st.CreateDevice(ctx, sampleDevice("Netgear", "R7000"))
	require.NoError(t, err)
	require.NoError(t, st.IncrementScanCount(ctx, a.ID))

	got, err := st.ListDevices(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = st.ListDevices(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Netgear", got[0].Brand)
}

// --- Submissions ---

func TestSQLite_Submission_CreateGetList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sub := &model.Submission{UserID: "u1", Type: model.SubmissionNewDevice, Raw: sampleResult("Arduino Uno")}
	require.NoError(t, st.CreateSubmission(ctx, sub))
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, model.SubmissionPending, sub.Status)

	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Arduino Uno", got.Raw.ParentObject)
	assert.Nil(t, got.ReviewedAt)

	other := &model.Submission{UserID: "u2", Type: model.SubmissionCorrection, Raw: sampleResult("x")}
	require.NoError(t, st.CreateSubmission(ctx, other))

	all, err := st.ListSubmissions(ctx, SubmissionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := st.ListSubmissions(ctx, SubmissionFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, sub.ID, mine[0].ID)

	_, err = st.GetSubmission(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateSubmission(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sub := &model.Submission{Type: model.SubmissionNewDevice, Raw: sampleResult("x")}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	got, err := st.UpdateSubmission(ctx, sub.ID, func(s *model.Submission) error {
		next, err := s.Status.Reject()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		s.Status, s.ReviewerID, s.ReviewedAt = next, "rev", &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, got.Status)

	_, err = st.UpdateSubmission(ctx, sub.ID, func(s *model.Submission) error {
		_, err := s.Status.Reject()
		return err
	})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	reloaded, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionRejected, reloaded.Status)
	assert.Equal(t, "rev", reloaded.ReviewerID)
	require.NotNil(t, reloaded.ReviewedAt)

	pending, err := st.ListSubmissions(ctx, SubmissionFilter{Status: model.SubmissionPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func buildFromSubmission(sub model.Submission) (model.DeviceWithComponents, error) {
	d := sampleDevice(sub.BrandHint, sub.ModelHint)
	d.Device.DeviceName = sub.Raw.ParentObject
	return d, nil
}

func TestSQLite_Submission_KeepsCategoryHint(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sub := &model.Submission{Type: model.SubmissionNewDevice, BrandHint: "Linksys", CategoryHint: "Networking", Raw: sampleResult("Linksys router")}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Networking", got.CategoryHint)
}

func TestSQLite_ApproveSubmission_PromotesDevice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sub := &model.Submission{Type: model.SubmissionNewDevice, BrandHint: "Linksys", ModelHint: "WRT54G", Raw: sampleResult("Linksys WRT54G")}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	got, created, err := st.ApproveSubmission(ctx, sub.ID, Promotion{
		Reviewer: "rev", Notes: "looks right", Verified: true, Build: buildFromSubmission,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.SubmissionApproved, got.Status)
	require.NotEmpty(t, got.DeviceID)

	dev, err := st.GetDevice(ctx, got.DeviceID)
	require.NoError(t, err)
	assert.True(t, dev.Verified)
	assert.Equal(t, "Linksys WRT54G", dev.DeviceName)

	// A second approval is an invalid transition and leaves the catalog alone.
	_, _, err = st.ApproveSubmission(ctx, sub.ID, Promotion{Build: buildFromSubmission})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	all, err := st.ListDevices(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_ApproveSubmission_ExistingDeviceMarkedVerified(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	existing, _, err := st.CreateDevice(ctx, sampleDevice("Linksys", "WRT54G"))
	require.NoError(t, err)
	require.False(t, existing.Verified)

	sub := &model.Submission{Type: model.SubmissionNewDevice, BrandHint: "Linksys", ModelHint: "WRT54G", Raw: sampleResult("dup")}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	got, created, err := st.ApproveSubmission(ctx, sub.ID, Promotion{Verified: true, Build: buildFromSubmission})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, got.DeviceID)

	dev, err := st.GetDevice(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, dev.Verified)
}

func TestSQLite_ApproveSubmission_BuildErrorRollsBack(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sub := &model.Submission{Type: model.SubmissionNewDevice, Raw: sampleResult("x")}
	require.NoError(t, st.CreateSubmission(ctx, sub))

	boom := errors.New("boom")
	_, _, err := st.ApproveSubmission(ctx, sub.ID, Promotion{Build: func(model.Submission) (model.DeviceWithComponents, error) {
		return model.DeviceWithComponents{}, boom
	}})
	assert.ErrorIs(t, err, boom)

	got, err := st.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, got.Status)
}

// --- Scan logs ---

func TestSQLite_ScanLogs_InsertAndFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	logs := []model.ScanLog{
		{Stage: model.StageFull, Tier: model.TierAI, UserID: "u1", Success: true, Provider: model.ProviderOpenAI,
			Model: "gpt-4o", InputTokens: 1000, OutputTokens: 200, CostUSD: 0.0045,
			StageTimings: map[string]int64{"ai": 1200}, LatencyMS: 1300, CreatedAt: now.Add(-2 * time.Hour)},
		{Stage: model.StageFull, Tier: model.TierCache, UserID: "u2", Success: true, LatencyMS: 5, CreatedAt: now.Add(-30 * time.Minute)},
		{Stage: model.StageDevice, Tier: model.TierAI, UserID: "u1", Success: false, ErrorKind: model.ErrorTimeout,
			Provider: model.ProviderGemini, CreatedAt: now.Add(-10 * time.Minute)},
	}
	for i := range logs {
		require.NoError(t, st.InsertScanLog(ctx, &logs[i]))
		assert.NotEmpty(t, logs[i].ID)
	}

	all, err := st.ListScanLogs(ctx, ScanLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1200), all[0].StageTimings["ai"])
	assert.InDelta(t, 0.0045, all[0].CostUSD, 1e-9)

	recent, err := st.ListScanLogs(ctx, ScanLogFilter{Since: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	u1, err := st.ListScanLogs(ctx, ScanLogFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, u1, 2)

	gem, err := st.ListScanLogs(ctx, ScanLogFilter{Provider: model.ProviderGemini})
	require.NoError(t, err)
	require.Len(t, gem, 1)
	assert.Equal(t, model.ErrorTimeout, gem[0].ErrorKind)
	assert.False(t, gem[0].Success)

	dev, err := st.ListScanLogs(ctx, ScanLogFilter{Stage: model.StageDevice})
	require.NoError(t, err)
	assert.Len(t, dev, 1)
}

func TestSQLite_ScanLog_RejectsNegativeCost(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.InsertScanLog(context.Background(), &model.ScanLog{Stage: model.StageFull, Tier: model.TierAI, CostUSD: -1})
	assert.Error(t, err)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
