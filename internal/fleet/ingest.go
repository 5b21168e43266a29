package fleet

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fleetaudit/fleetd/internal/events"
	"github.com/fleetaudit/fleetd/internal/metrics"
	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/report"
)

// Ingestor runs the upload pipeline: parse, resolve machine, persist the
// report, update the machine's rolling statistics, publish the ingest event.
type Ingestor struct {
	registry  *Registry
	parser    *report.Parser
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIngestor wires the upload pipeline.
func NewIngestor(registry *Registry, parser *report.Parser, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		registry:  registry,
		parser:    parser,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// UploadResult is returned to the uploader after a successful ingest.
type UploadResult struct {
	Report   *model.AuditReport `json:"report"`
	Machine  *model.Machine     `json:"machine"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Upload ingests one raw report payload for the machine named by the
// caller. The payload itself never contributes machine identity; machineName
// is the sole identity source. Parsing and validation happen before any
// write, so a malformed payload leaves no partial state.
func (i *Ingestor) Upload(ctx context.Context, ident model.Identity, machineName string, payload []byte) (*UploadResult, error) {
	parsed, err := i.parser.Parse(payload)
	if err != nil {
		if i.metrics != nil {
			i.metrics.IncReportsInvalid()
		}
		return nil, err
	}

	machine, err := i.registry.Resolve(ctx, ident.TeamID, machineName, parsed.OS, parsed.OSVersion)
	if err != nil {
		return nil, err
	}

	rep := &model.AuditReport{
		ID:              uuid.NewString(),
		MachineID:       machine.ID,
		TeamID:          ident.TeamID,
		AuditedAt:       parsed.AuditedAt,
		ScriptName:      parsed.ScriptName,
		ScriptVersion:   parsed.ScriptVersion,
		Score:           parsed.Summary.Score,
		OriginalScore:   parsed.Summary.Score,
		Grade:           parsed.Summary.Grade,
		TotalControls:   parsed.Summary.Total,
		PassedControls:  parsed.Summary.Passed,
		FailedControls:  parsed.Summary.Failed,
		WarningControls: parsed.Summary.Warnings,
		Payload:         string(payload),
		UploadedBy:      ident.UserID,
		CreatedAt:       stamp(),
	}

	machine, err = i.registry.RecordReport(ctx, rep)
	if err != nil {
		return nil, err
	}

	i.publishEvent(events.SubjectReportIngested, map[string]interface{}{
		"report_id":  rep.ID,
		"machine_id": machine.ID,
		"team_id":    ident.TeamID,
		"score":      rep.Score,
		"grade":      rep.Grade,
		"audited_at": rep.AuditedAt,
	})
	if i.metrics != nil {
		i.metrics.IncReportsIngested()
	}

	i.logger.Info("Report ingested",
		"report_id", rep.ID,
		"machine_id", machine.ID,
		"hostname", machine.Hostname,
		"score", rep.Score,
		"grade", rep.Grade,
		"controls", rep.TotalControls,
		"warnings", len(parsed.Warnings))

	return &UploadResult{Report: rep, Machine: machine, Warnings: parsed.Warnings}, nil
}

func (i *Ingestor) publishEvent(subject string, event map[string]interface{}) {
	if i.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		i.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := i.publisher.Publish(subject, data); err != nil {
		if i.metrics != nil {
			i.metrics.IncNatsPublishErrors()
		}
	}
}
