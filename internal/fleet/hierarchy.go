package fleet

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetaudit/fleetd/internal/events"
	"github.com/fleetaudit/fleetd/internal/metrics"
	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/store"
)

// Hierarchy manages the organization → site → group → machine containment
// tree. Deleting any node detaches the machines underneath; machines are
// never deleted by hierarchy cascades.
type Hierarchy struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewHierarchy creates a hierarchy manager over the given store.
func NewHierarchy(st store.Store, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Hierarchy {
	return &Hierarchy{store: st, publisher: publisher, metrics: m, logger: logger}
}

// CreateOrganization creates a top-level organization for the team.
func (h *Hierarchy) CreateOrganization(ctx context.Context, ident model.Identity, name string) (*model.Organization, error) {
	if !ident.Role.FullAccess() {
		return nil, model.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	org := &model.Organization{
		ID:        uuid.NewString(),
		TeamID:    ident.TeamID,
		Name:      name,
		CreatedAt: stamp(),
	}
	if err := h.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	h.notifyChange(ident.TeamID, "organization.created", org.ID)
	return org, nil
}

// DeleteOrganization removes the organization and all its sites and groups.
func (h *Hierarchy) DeleteOrganization(ctx context.Context, ident model.Identity, id string) error {
	if !ident.Role.FullAccess() {
		return model.ErrForbidden
	}
	if err := h.store.DeleteOrganization(ctx, ident.TeamID, id); err != nil {
		return err
	}
	h.notifyChange(ident.TeamID, "organization.deleted", id)
	return nil
}

// CreateSite creates a site under an existing organization of the same team.
func (h *Hierarchy) CreateSite(ctx context.Context, ident model.Identity, orgID, name, location string) (*model.Site, error) {
	if !ident.Role.FullAccess() {
		return nil, model.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	site := &model.Site{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		Location:  strings.TrimSpace(location),
		CreatedAt: stamp(),
	}
	if err := h.store.CreateSite(ctx, ident.TeamID, site); err != nil {
		return nil, err
	}
	h.notifyChange(ident.TeamID, "site.created", site.ID)
	return site, nil
}

// DeleteSite removes the site and its groups.
func (h *Hierarchy) DeleteSite(ctx context.Context, ident model.Identity, id string) error {
	if !ident.Role.FullAccess() {
		return model.ErrForbidden
	}
	if err := h.store.DeleteSite(ctx, ident.TeamID, id); err != nil {
		return err
	}
	h.notifyChange(ident.TeamID, "site.deleted", id)
	return nil
}

// CreateGroup creates a machine group under an existing site of the same team.
func (h *Hierarchy) CreateGroup(ctx context.Context, ident model.Identity, siteID, name string) (*model.MachineGroup, error) {
	if !ident.Role.FullAccess() {
		return nil, model.ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	group := &model.MachineGroup{
		ID:        uuid.NewString(),
		SiteID:    siteID,
		Name:      name,
		CreatedAt: stamp(),
	}
	if err := h.store.CreateGroup(ctx, ident.TeamID, group); err != nil {
		return nil, err
	}
	h.notifyChange(ident.TeamID, "group.created", group.ID)
	return group, nil
}

// DeleteGroup removes the group; its machines become unassigned.
func (h *Hierarchy) DeleteGroup(ctx context.Context, ident model.Identity, id string) error {
	if !ident.Role.FullAccess() {
		return model.ErrForbidden
	}
	if err := h.store.DeleteGroup(ctx, ident.TeamID, id); err != nil {
		return err
	}
	h.notifyChange(ident.TeamID, "group.deleted", id)
	return nil
}

// AssignMachine moves a machine into a group, or out of any group when
// groupID is nil. The target group must belong to the machine's team.
func (h *Hierarchy) AssignMachine(ctx context.Context, ident model.Identity, machineID string, groupID *string) error {
	if !ident.Role.FullAccess() {
		return model.ErrForbidden
	}
	if groupID != nil {
		team, err := h.store.GroupTeam(ctx, *groupID)
		if err != nil {
			return err
		}
		if team != ident.TeamID {
			return model.ErrCrossTeamAssignment
		}
	}
	if err := h.store.AssignMachineGroup(ctx, ident.TeamID, machineID, groupID); err != nil {
		return err
	}
	h.notifyChange(ident.TeamID, "machine.assigned", machineID)
	return nil
}

// Tree returns the full containment view for the team from one consistent
// snapshot. It never mutates state.
func (h *Hierarchy) Tree(ctx context.Context, teamID string) (*model.HierarchyView, error) {
	return h.store.HierarchySnapshot(ctx, teamID)
}

func (h *Hierarchy) notifyChange(teamID, change, entityID string) {
	if h.publisher == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"team_id":   teamID,
		"change":    change,
		"entity_id": entityID,
	})
	if err != nil {
		h.logger.Error("Failed to marshal hierarchy event", "change", change, "error", err)
		return
	}
	if err := h.publisher.Publish(events.SubjectHierarchyChanged, data); err != nil {
		if h.metrics != nil {
			h.metrics.IncNatsPublishErrors()
		}
	}
}
