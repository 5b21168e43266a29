// Package report parses uploaded JSON audit reports into their canonical
// in-memory form. Parsing is a pure transformation: nothing is read from or
// written to storage, and machine-identity fields embedded in the payload
// (hostname, IP, serial) are deliberately never consumed; the machine name
// supplied by the uploader is the sole source of identity.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/scoring"
)

// reportSchema is the structural contract for uploaded audit reports. The
// control status enum is intentionally not enforced here: a control with an
// unsupported status is dropped with a warning instead of failing the upload.
const reportSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["controls"],
	"properties": {
		"score": {"type": "integer", "minimum": 0, "maximum": 100},
		"os": {"type": "string"},
		"osVersion": {"type": "string"},
		"auditDate": {"type": "string"},
		"scriptName": {"type": "string"},
		"scriptVersion": {"type": "string"},
		"totalControls": {"type": "integer", "minimum": 0},
		"passedControls": {"type": "integer", "minimum": 0},
		"failedControls": {"type": "integer", "minimum": 0},
		"controls": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "status"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"status": {"type": "string"},
					"name": {"type": "string"},
					"category": {"type": "string"},
					"severity": {"type": "string"},
					"details": {"type": "string"},
					"remediation": {"type": "string"}
				}
			}
		}
	}
}`

// Result is a normalized audit report ready for persistence. Warnings carry
// non-fatal problems (dropped controls, unparseable audit date) that are
// surfaced to the uploader but never fail the upload.
type Result struct {
	AuditedAt     time.Time
	OS            string
	OSVersion     string
	ScriptName    string
	ScriptVersion string
	Summary       scoring.Summary
	Controls      []model.Control
	Warnings      []string
}

type rawControl struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Details     string `json:"details"`
	Remediation string `json:"remediation"`
}

type rawReport struct {
	OS            string       `json:"os"`
	OSVersion     string       `json:"osVersion"`
	AuditDate     string       `json:"auditDate"`
	ScriptName    string       `json:"scriptName"`
	ScriptVersion string       `json:"scriptVersion"`
	Controls      []rawControl `json:"controls"`
}

// Parser validates and normalizes uploaded report payloads.
type Parser struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewParser compiles the report schema and returns a ready parser.
func NewParser(logger *slog.Logger) (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("report.json", strings.NewReader(reportSchema)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("report.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile report schema: %w", err)
	}
	return &Parser{schema: schema, logger: logger}, nil
}

// Parse validates raw payload bytes and produces a normalized Result. A
// payload that is not valid JSON or fails the structural schema returns a
// MalformedReportError naming the offending field; a single control with an
// unsupported status is dropped with a warning instead.
func (p *Parser) Parse(raw []byte) (*Result, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &model.MalformedReportError{Reason: "payload is not valid JSON"}
	}

	if err := p.schema.Validate(doc); err != nil {
		field, reason := schemaFailure(err)
		p.logger.Warn("Report failed schema validation", "field", field, "reason", reason)
		return nil, &model.MalformedReportError{Field: field, Reason: reason}
	}

	var rr rawReport
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, &model.MalformedReportError{Reason: err.Error()}
	}

	res := &Result{
		OS:            rr.OS,
		OSVersion:     rr.OSVersion,
		ScriptName:    rr.ScriptName,
		ScriptVersion: rr.ScriptVersion,
	}

	res.AuditedAt = time.Now().UTC()
	if rr.AuditDate != "" {
		if ts, err := time.Parse(time.RFC3339, rr.AuditDate); err == nil {
			res.AuditedAt = ts.UTC()
		} else {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("auditDate %q is not RFC 3339, using upload time", rr.AuditDate))
		}
	}

	res.Controls, res.Warnings = normalizeControls(rr.Controls, res.Warnings)

	// The stored score is always the engine's function of the control set,
	// regardless of any score claimed by the payload.
	effective := make([]model.EffectiveControl, len(res.Controls))
	for i, c := range res.Controls {
		effective[i] = model.EffectiveControl{Control: c, EffectiveStatus: c.Status}
	}
	res.Summary = scoring.Summarize(effective)

	return res, nil
}

// normalizeControls uppercases statuses, drops controls outside the
// supported status set, and de-duplicates control ids (first wins).
func normalizeControls(raw []rawControl, warnings []string) ([]model.Control, []string) {
	controls := make([]model.Control, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, rc := range raw {
		status := model.ControlStatus(strings.ToUpper(strings.TrimSpace(rc.Status)))
		if !status.Valid() {
			warnings = append(warnings,
				fmt.Sprintf("control %q: unsupported status %q, dropped", rc.ID, rc.Status))
			continue
		}
		if seen[rc.ID] {
			warnings = append(warnings,
				fmt.Sprintf("control %q: duplicate id, keeping first occurrence", rc.ID))
			continue
		}
		seen[rc.ID] = true
		controls = append(controls, model.Control{
			ID:          rc.ID,
			Name:        rc.Name,
			Category:    rc.Category,
			Severity:    rc.Severity,
			Status:      status,
			Details:     rc.Details,
			Remediation: rc.Remediation,
		})
	}
	return controls, warnings
}

// ExtractControls re-extracts the control list from a stored report payload.
// The stored blob is the source of truth for controls; this is the read-side
// counterpart of Parse and applies the same normalization, silently dropping
// anything Parse would have warned about.
func ExtractControls(payload string) ([]model.Control, error) {
	var rr rawReport
	if err := json.Unmarshal([]byte(payload), &rr); err != nil {
		return nil, fmt.Errorf("failed to decode stored report payload: %w", err)
	}
	controls, _ := normalizeControls(rr.Controls, nil)
	return controls, nil
}

// schemaFailure digs the most specific cause out of a schema validation
// error and reports it as a (field, reason) pair.
func schemaFailure(err error) (string, string) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "", err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if name, ok := missingProperty(ve.Message); ok {
		if field != "" {
			field = field + "/" + name
		} else {
			field = name
		}
	}
	if field == "" {
		field = "payload"
	}
	return field, ve.Message
}

// missingProperty extracts the property name from a "missing properties"
// validation message so the caller sees which field was absent rather than
// the location of its parent object.
func missingProperty(msg string) (string, bool) {
	const prefix = "missing properties: '"
	i := strings.Index(msg, prefix)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(prefix):]
	j := strings.IndexByte(rest, '\'')
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
