// Package fleet implements the fleet tracking services: report ingestion,
// the machine registry, the correction ledger, hierarchy management, and
// fleet-wide aggregation. All machine roll-up state (lastScore, lastGrade,
// originalScore, totalAudits) is written only through the registry and the
// ledger's transactional apply; no other component mutates it.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/store"
)

// Registry resolves machines and owns their rolling statistics.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// NewRegistry creates a machine registry over the given store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger}
}

// Resolve finds the machine for (teamID, hostname) or creates it. Hostname
// matching is case-sensitive and exact; the find-or-create is atomic at the
// storage layer.
func (r *Registry) Resolve(ctx context.Context, teamID, hostname, os, osVersion string) (*model.Machine, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, &model.ValidationError{Field: "machineName", Reason: "must not be empty"}
	}
	m, err := r.store.ResolveMachine(ctx, teamID, hostname, os, osVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve machine %q: %w", hostname, err)
	}
	return m, nil
}

// RecordReport persists a freshly ingested report and applies it to the
// machine in one atomic store operation: increments totalAudits, updates
// lastScore/lastGrade/lastAuditAt, and latches originalScore if this is the
// machine's first report. Returns the machine in its post-ingest state.
func (r *Registry) RecordReport(ctx context.Context, report *model.AuditReport) (*model.Machine, error) {
	m, err := r.store.IngestReport(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("failed to ingest report for machine %s: %w", report.MachineID, err)
	}
	r.logger.Info("Machine audit recorded",
		"machine_id", m.ID,
		"report_id", report.ID,
		"score", report.Score,
		"grade", report.Grade)
	return m, nil
}

// Get returns one machine scoped to the team.
func (r *Registry) Get(ctx context.Context, teamID, id string) (*model.Machine, error) {
	return r.store.GetMachine(ctx, teamID, id)
}

// List returns all machines owned by the team.
func (r *Registry) List(ctx context.Context, teamID string) ([]*model.Machine, error) {
	return r.store.ListMachines(ctx, teamID)
}

// Delete hard-deletes a machine with its reports and corrections. This is
// an explicit operator action restricted to full-access roles.
func (r *Registry) Delete(ctx context.Context, ident model.Identity, id string) error {
	if !ident.Role.FullAccess() {
		return model.ErrForbidden
	}
	if err := r.store.DeleteMachine(ctx, ident.TeamID, id); err != nil {
		return err
	}
	r.logger.Info("Machine deleted", "machine_id", id, "team_id", ident.TeamID, "deleted_by", ident.UserID)
	return nil
}

// Reports returns a machine's report history, newest first.
func (r *Registry) Reports(ctx context.Context, teamID, machineID string) ([]*model.AuditReport, error) {
	if _, err := r.store.GetMachine(ctx, teamID, machineID); err != nil {
		return nil, err
	}
	return r.store.ListReports(ctx, teamID, machineID)
}

// stamp is the shared clock for service-layer timestamps.
func stamp() time.Time {
	return time.Now().UTC()
}
