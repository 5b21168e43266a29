package fleet

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleetaudit/fleetd/internal/events"
	"github.com/fleetaudit/fleetd/internal/metrics"
	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/report"
	"github.com/fleetaudit/fleetd/internal/scoring"
	"github.com/fleetaudit/fleetd/internal/store"
)

// controlCacheSize bounds the per-report control extraction cache.
const controlCacheSize = 512

// Ledger records manual control-status corrections and drives the
// deterministic score recomputation that follows each one.
type Ledger struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Stored payloads are immutable, so extracted control lists can be
	// cached by report id without invalidation.
	controls *lru.Cache[string, []model.Control]
}

// NewLedger creates a correction ledger over the given store.
func NewLedger(st store.Store, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) (*Ledger, error) {
	cache, err := lru.New[string, []model.Control](controlCacheSize)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		store:     st,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		controls:  cache,
	}, nil
}

// CorrectionResult is returned after a correction is applied.
type CorrectionResult struct {
	Correction *model.ControlCorrection `json:"correction"`
	Score      int                      `json:"score"`
	Grade      string                   `json:"grade"`
}

// Correct records a manual override for one control in one report and
// recomputes the report's score and grade from the full corrected control
// set. A second correction for the same control supersedes the first; the
// stored originalStatus always reflects the as-scanned base control. The
// correction write, the recompute, the report update, and the machine
// update commit together or not at all.
func (l *Ledger) Correct(ctx context.Context, ident model.Identity, reportID, controlID string, corrected model.ControlStatus, justification string) (*CorrectionResult, error) {
	if !ident.Role.FullAccess() {
		return nil, model.ErrForbidden
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return nil, &model.ValidationError{Field: "justification", Reason: "must not be empty"}
	}
	corrected = model.ControlStatus(strings.ToUpper(string(corrected)))
	if !corrected.Valid() {
		return nil, &model.ValidationError{Field: "correctedStatus", Reason: "must be PASS, WARN, or FAIL"}
	}

	rep, err := l.store.GetReport(ctx, ident.TeamID, reportID)
	if err != nil {
		return nil, err
	}

	baseControls, err := l.baseControls(rep)
	if err != nil {
		return nil, err
	}
	base := findControl(baseControls, controlID)
	if base == nil {
		return nil, &model.UnknownControlError{ControlID: controlID}
	}

	corr := &model.ControlCorrection{
		ID:              uuid.NewString(),
		ReportID:        reportID,
		ControlID:       controlID,
		OriginalStatus:  base.Status,
		CorrectedStatus: corrected,
		Justification:   justification,
		CorrectedBy:     ident.UserID,
	}

	// The store recomputes score and grade from the base controls and the
	// persisted correction set inside the same transaction as the upsert.
	stored, summary, err := l.store.ApplyCorrection(ctx, corr, baseControls)
	if err != nil {
		return nil, err
	}

	l.publishEvent(events.SubjectCorrectionApplied, map[string]interface{}{
		"report_id":        reportID,
		"control_id":       controlID,
		"original_status":  stored.OriginalStatus,
		"corrected_status": stored.CorrectedStatus,
		"score":            summary.Score,
		"grade":            summary.Grade,
		"corrected_by":     ident.UserID,
	})
	if l.metrics != nil {
		l.metrics.IncCorrectionsApplied()
	}

	l.logger.Info("Correction applied",
		"report_id", reportID,
		"control_id", controlID,
		"corrected_status", corrected,
		"score", summary.Score,
		"grade", summary.Grade)

	return &CorrectionResult{Correction: stored, Score: summary.Score, Grade: summary.Grade}, nil
}

// Controls returns the report's control list with the correction overlay
// applied, for the report detail view.
func (l *Ledger) Controls(ctx context.Context, ident model.Identity, reportID string) ([]model.EffectiveControl, error) {
	rep, err := l.store.GetReport(ctx, ident.TeamID, reportID)
	if err != nil {
		return nil, err
	}
	baseControls, err := l.baseControls(rep)
	if err != nil {
		return nil, err
	}
	corrections, err := l.store.ListCorrections(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return scoring.Overlay(baseControls, corrections), nil
}

func (l *Ledger) baseControls(rep *model.AuditReport) ([]model.Control, error) {
	if cached, ok := l.controls.Get(rep.ID); ok {
		return cached, nil
	}
	controls, err := report.ExtractControls(rep.Payload)
	if err != nil {
		return nil, err
	}
	l.controls.Add(rep.ID, controls)
	return controls, nil
}

func findControl(controls []model.Control, id string) *model.Control {
	for i := range controls {
		if controls[i].ID == id {
			return &controls[i]
		}
	}
	return nil
}

func (l *Ledger) publishEvent(subject string, event map[string]interface{}) {
	if l.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := l.publisher.Publish(subject, data); err != nil {
		if l.metrics != nil {
			l.metrics.IncNatsPublishErrors()
		}
	}
}
