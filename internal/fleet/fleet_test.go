package fleet

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/report"
	"github.com/fleetaudit/fleetd/internal/store"
)

// mockPublisher records published events for assertions.
type mockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{messages: make(map[string][][]byte)}
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[subject] = append(m.messages[subject], data)
	return nil
}

func (m *mockPublisher) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[subject])
}

type testFixture struct {
	store      *store.MemoryStore
	ingestor   *Ingestor
	registry   *Registry
	ledger     *Ledger
	hierarchy  *Hierarchy
	aggregator *Aggregator
	publisher  *mockPublisher
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore(logger)
	parser, err := report.NewParser(logger)
	require.NoError(t, err)
	pub := newMockPublisher()

	registry := NewRegistry(st, logger)
	ledger, err := NewLedger(st, pub, nil, logger)
	require.NoError(t, err)

	return &testFixture{
		store:      st,
		registry:   registry,
		ingestor:   NewIngestor(registry, parser, pub, nil, logger),
		ledger:     ledger,
		hierarchy:  NewHierarchy(st, pub, nil, logger),
		aggregator: NewAggregator(st, logger),
		publisher:  pub,
	}
}

var (
	owner  = model.Identity{UserID: "user-1", TeamID: "team-1", Role: model.RoleOwner}
	member = model.Identity{UserID: "user-2", TeamID: "team-1", Role: model.RoleMember}
)

// tenControlPayload has 8 PASS, 1 FAIL, 1 WARN: score 80, grade B.
const tenControlPayload = `{
	"os": "linux",
	"auditDate": "2025-06-01T10:00:00Z",
	"controls": [
		{"id": "c1", "status": "PASS"}, {"id": "c2", "status": "PASS"},
		{"id": "c3", "status": "PASS"}, {"id": "c4", "status": "PASS"},
		{"id": "c5", "status": "PASS"}, {"id": "c6", "status": "PASS"},
		{"id": "c7", "status": "PASS"}, {"id": "c8", "status": "PASS"},
		{"id": "c9", "status": "FAIL"}, {"id": "c10", "status": "WARN"}
	]
}`

func TestUploadThenCorrectEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	assert.Equal(t, 80, result.Report.Score)
	assert.Equal(t, "B", result.Report.Grade)
	assert.Equal(t, 80, result.Report.OriginalScore)
	assert.Equal(t, 10, result.Report.TotalControls)
	assert.Equal(t, 1, result.Machine.TotalAudits)
	require.NotNil(t, result.Machine.OriginalScore)
	assert.Equal(t, 80, *result.Machine.OriginalScore)
	assert.Equal(t, 1, f.publisher.count("fleet.report.ingested"))

	// Correct the failing control to PASS: 9 of 10 pass, score 90, grade A.
	corrected, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "patched")
	require.NoError(t, err)
	assert.Equal(t, 90, corrected.Score)
	assert.Equal(t, "A", corrected.Grade)
	assert.Equal(t, model.StatusFail, corrected.Correction.OriginalStatus)

	machine, err := f.registry.Get(ctx, "team-1", result.Machine.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, *machine.LastScore)
	assert.Equal(t, "A", *machine.LastGrade)
	assert.Equal(t, 80, *machine.OriginalScore, "machine originalScore survives corrections")
	assert.Equal(t, 1, machine.TotalAudits)

	rep, err := f.store.GetReport(ctx, "team-1", result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, rep.Score)
	assert.Equal(t, 80, rep.OriginalScore)
}

func TestCorrect_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	first, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "patched")
	require.NoError(t, err)
	second, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "patched")
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Grade, second.Grade)

	corrections, err := f.store.ListCorrections(ctx, result.Report.ID)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
}

func TestCorrect_SupersedeKeepsTrueOriginalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	_, err = f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "patched")
	require.NoError(t, err)
	second, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusWarn, "partial patch")
	require.NoError(t, err)

	// originalStatus reflects the as-scanned control, not the prior correction.
	assert.Equal(t, model.StatusFail, second.Correction.OriginalStatus)
	assert.Equal(t, model.StatusWarn, second.Correction.CorrectedStatus)
	// 8 pass, 2 warn: score 80.
	assert.Equal(t, 80, second.Score)

	corrections, err := f.store.ListCorrections(ctx, result.Report.ID)
	require.NoError(t, err)
	require.Len(t, corrections, 1, "supersede replaces, never accumulates")
}

func TestCorrect_ConcurrentDifferentControls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	// Release both corrections together so neither can observe the other
	// before applying. The committed score must still cover both.
	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, controlID := range []string{"c9", "c10"} {
		wg.Add(1)
		go func(i int, controlID string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.ledger.Correct(ctx, owner, result.Report.ID, controlID, model.StatusPass, "patched")
		}(i, controlID)
	}
	close(start)
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	corrections, err := f.store.ListCorrections(ctx, result.Report.ID)
	require.NoError(t, err)
	require.Len(t, corrections, 2)

	rep, err := f.store.GetReport(ctx, "team-1", result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, rep.Score, "stored score must reflect every persisted correction")
	assert.Equal(t, "A", rep.Grade)

	machine, err := f.registry.Get(ctx, "team-1", result.Machine.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, *machine.LastScore)
}

func TestCorrect_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	t.Run("member is forbidden", func(t *testing.T) {
		_, err := f.ledger.Correct(ctx, member, result.Report.ID, "c9", model.StatusPass, "patched")
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("empty justification", func(t *testing.T) {
		_, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "   ")
		var validation *model.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("bad status", func(t *testing.T) {
		_, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", "SKIPPED", "patched")
		var validation *model.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("unknown control", func(t *testing.T) {
		_, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c99", model.StatusPass, "patched")
		var unknown *model.UnknownControlError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "c99", unknown.ControlID)
	})

	t.Run("missing report", func(t *testing.T) {
		_, err := f.ledger.Correct(ctx, owner, "no-such-report", "c9", model.StatusPass, "patched")
		var notFound *model.NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestCorrect_LowercaseStatusAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	corrected, err := f.ledger.Correct(ctx, owner, result.Report.ID, "c9", "pass", "patched")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPass, corrected.Correction.CorrectedStatus)
}

func TestUpload_SecondReportKeepsOriginalScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)
	assert.Equal(t, 80, *first.Machine.OriginalScore)

	allPass := `{"controls": [{"id": "c1", "status": "PASS"}]}`
	second, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(allPass))
	require.NoError(t, err)

	assert.Equal(t, first.Machine.ID, second.Machine.ID)
	assert.Equal(t, 2, second.Machine.TotalAudits)
	assert.Equal(t, 100, *second.Machine.LastScore)
	assert.Equal(t, 80, *second.Machine.OriginalScore, "second report must not move the latch")
}

func TestUpload_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(`{"score": 80}`))
	var malformed *model.MalformedReportError
	require.ErrorAs(t, err, &malformed)

	// Fail fast: nothing was persisted.
	machines, err := f.store.ListMachines(ctx, "team-1")
	require.NoError(t, err)
	assert.Empty(t, machines)
}

func TestUpload_EmptyMachineName(t *testing.T) {
	f := newFixture(t)

	_, err := f.ingestor.Upload(context.Background(), member, "  ", []byte(tenControlPayload))
	var validation *model.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestControls_OverlayView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)
	_, err = f.ledger.Correct(ctx, owner, result.Report.ID, "c9", model.StatusPass, "patched")
	require.NoError(t, err)

	controls, err := f.ledger.Controls(ctx, member, result.Report.ID)
	require.NoError(t, err)
	require.Len(t, controls, 10)

	var c9 *model.EffectiveControl
	for i := range controls {
		if controls[i].ID == "c9" {
			c9 = &controls[i]
		}
	}
	require.NotNil(t, c9)
	assert.Equal(t, model.StatusFail, c9.Status)
	assert.Equal(t, model.StatusPass, c9.EffectiveStatus)
	require.NotNil(t, c9.Correction)
	assert.Equal(t, "patched", c9.Correction.Justification)
}

func TestHierarchy_AssignAndCrossTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	org, err := f.hierarchy.CreateOrganization(ctx, owner, "acme")
	require.NoError(t, err)
	site, err := f.hierarchy.CreateSite(ctx, owner, org.ID, "hq", "berlin")
	require.NoError(t, err)
	group, err := f.hierarchy.CreateGroup(ctx, owner, site.ID, "web")
	require.NoError(t, err)

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	require.NoError(t, f.hierarchy.AssignMachine(ctx, owner, result.Machine.ID, &group.ID))

	view, err := f.hierarchy.Tree(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, view.Organizations, 1)
	require.Len(t, view.Organizations[0].Sites, 1)
	require.Len(t, view.Organizations[0].Sites[0].Groups, 1)
	require.Len(t, view.Organizations[0].Sites[0].Groups[0].Machines, 1)
	assert.Empty(t, view.UnassignedMachines)

	// A group in another team's hierarchy is off-limits.
	otherOwner := model.Identity{UserID: "user-9", TeamID: "team-2", Role: model.RoleOwner}
	otherOrg, err := f.hierarchy.CreateOrganization(ctx, otherOwner, "rival")
	require.NoError(t, err)
	otherSite, err := f.hierarchy.CreateSite(ctx, otherOwner, otherOrg.ID, "hq", "")
	require.NoError(t, err)
	otherGroup, err := f.hierarchy.CreateGroup(ctx, otherOwner, otherSite.ID, "web")
	require.NoError(t, err)

	err = f.hierarchy.AssignMachine(ctx, owner, result.Machine.ID, &otherGroup.ID)
	assert.ErrorIs(t, err, model.ErrCrossTeamAssignment)

	// Unassign with nil group.
	require.NoError(t, f.hierarchy.AssignMachine(ctx, owner, result.Machine.ID, nil))
	view, err = f.hierarchy.Tree(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, view.UnassignedMachines, 1)
}

func TestHierarchy_MemberForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.hierarchy.CreateOrganization(ctx, member, "acme")
	assert.ErrorIs(t, err, model.ErrForbidden)

	err = f.hierarchy.AssignMachine(ctx, member, "machine-1", nil)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestHierarchy_ParentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.hierarchy.CreateSite(ctx, owner, "no-such-org", "hq", "")
	var notFound *model.NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = f.hierarchy.CreateGroup(ctx, owner, "no-such-site", "web")
	assert.ErrorAs(t, err, &notFound)
}

func TestAggregator_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)
	allPass := `{"os": "windows", "controls": [{"id": "c1", "status": "PASS"}]}`
	_, err = f.ingestor.Upload(ctx, member, "srv-02", []byte(allPass))
	require.NoError(t, err)
	// A machine with no reports yet.
	_, err = f.registry.Resolve(ctx, "team-1", "srv-03", "linux", "")
	require.NoError(t, err)

	stats, err := f.aggregator.Stats(ctx, "team-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMachines)
	assert.Equal(t, 2, stats.TotalReports)
	require.NotNil(t, stats.AverageScore)
	assert.Equal(t, 90, *stats.AverageScore) // (80+100)/2, unscored machine excluded
}

func TestRegistry_DeleteRequiresFullAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ingestor.Upload(ctx, member, "srv-01", []byte(tenControlPayload))
	require.NoError(t, err)

	err = f.registry.Delete(ctx, member, result.Machine.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	require.NoError(t, f.registry.Delete(ctx, owner, result.Machine.ID))
	_, err = f.registry.Get(ctx, "team-1", result.Machine.ID)
	var notFound *model.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
