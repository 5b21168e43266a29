// Package store provides persistence for the fleet tracking core. Two
// implementations exist: PostgresStore for production and MemoryStore for
// tests and dev mode. Both enforce the same invariants: machine
// find-or-create is atomic per (team, hostname), corrections upsert on
// (report, control), and the correction→recompute→update sequence is one
// transaction.
package store

import (
	"context"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/scoring"
)

// Store is the persistence contract for the fleet tracking core.
type Store interface {
	// ResolveMachine finds the machine identified by (teamID, hostname) with
	// a case-sensitive exact match, creating it if absent. The operation is
	// atomic: concurrent calls for the same identity converge on one row.
	ResolveMachine(ctx context.Context, teamID, hostname, os, osVersion string) (*model.Machine, error)
	GetMachine(ctx context.Context, teamID, id string) (*model.Machine, error)
	ListMachines(ctx context.Context, teamID string) ([]*model.Machine, error)
	// DeleteMachine hard-deletes a machine together with its reports and
	// their corrections.
	DeleteMachine(ctx context.Context, teamID, id string) error
	AssignMachineGroup(ctx context.Context, teamID, machineID string, groupID *string) error

	// IngestReport persists the report and applies it to the owning
	// machine's rolling statistics (totalAudits increment,
	// lastScore/lastGrade/lastAuditAt, one-time originalScore latch)
	// atomically, returning the updated machine. A failure leaves neither
	// the report nor the roll-up behind. This and ApplyCorrection are the
	// only writers of machine roll-up state.
	IngestReport(ctx context.Context, r *model.AuditReport) (*model.Machine, error)
	GetReport(ctx context.Context, teamID, id string) (*model.AuditReport, error)
	ListReports(ctx context.Context, teamID, machineID string) ([]*model.AuditReport, error)

	ListCorrections(ctx context.Context, reportID string) ([]*model.ControlCorrection, error)
	// ApplyCorrection upserts the correction for (reportID, controlID),
	// recomputes score and grade from baseControls overlaid with the full
	// persisted correction set as of this write, persists them on the
	// report, and refreshes the owning machine's lastScore/lastGrade when
	// the report is that machine's most recent, all within a single
	// transaction. Concurrent corrections for the same report serialize, so
	// the stored score always reflects every persisted correction. A
	// failure at any step leaves the prior score and grade intact.
	ApplyCorrection(ctx context.Context, corr *model.ControlCorrection, baseControls []model.Control) (*model.ControlCorrection, scoring.Summary, error)

	CreateOrganization(ctx context.Context, org *model.Organization) error
	ListOrganizations(ctx context.Context, teamID string) ([]*model.Organization, error)
	// DeleteOrganization cascades to its sites and groups; machines in the
	// deleted groups are detached, never deleted.
	DeleteOrganization(ctx context.Context, teamID, id string) error
	// CreateSite fails with NotFoundError when the parent organization does
	// not exist within the team.
	CreateSite(ctx context.Context, teamID string, site *model.Site) error
	DeleteSite(ctx context.Context, teamID, id string) error
	// CreateGroup fails with NotFoundError when the parent site does not
	// exist within the team.
	CreateGroup(ctx context.Context, teamID string, group *model.MachineGroup) error
	DeleteGroup(ctx context.Context, teamID, id string) error
	// GroupTeam resolves the owning team of a group through its site and
	// organization.
	GroupTeam(ctx context.Context, groupID string) (string, error)
	// HierarchySnapshot builds the full containment tree plus unassigned
	// machines from one consistent snapshot.
	HierarchySnapshot(ctx context.Context, teamID string) (*model.HierarchyView, error)

	FleetStats(ctx context.Context, teamID string) (*model.FleetStats, error)

	Ping(ctx context.Context) error
	Close() error
}
