package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/scoring"
)

// MemoryStore implements Store using in-memory maps guarded by one mutex.
// One mutex keeps every operation a consistent snapshot, which is what the
// hierarchy read contract requires.
type MemoryStore struct {
	mu          sync.Mutex
	machines    map[string]*model.Machine
	machineByID map[machineKey]string
	reports     map[string]*model.AuditReport
	corrections map[correctionKey]*model.ControlCorrection
	orgs        map[string]*model.Organization
	sites       map[string]*model.Site
	groups      map[string]*model.MachineGroup
	logger      *slog.Logger
}

type machineKey struct {
	teamID   string
	hostname string
}

type correctionKey struct {
	reportID  string
	controlID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		machines:    make(map[string]*model.Machine),
		machineByID: make(map[machineKey]string),
		reports:     make(map[string]*model.AuditReport),
		corrections: make(map[correctionKey]*model.ControlCorrection),
		orgs:        make(map[string]*model.Organization),
		sites:       make(map[string]*model.Site),
		groups:      make(map[string]*model.MachineGroup),
		logger:      logger,
	}
}

func copyMachine(m *model.Machine) *model.Machine {
	cp := *m
	if m.GroupID != nil {
		g := *m.GroupID
		cp.GroupID = &g
	}
	if m.LastScore != nil {
		v := *m.LastScore
		cp.LastScore = &v
	}
	if m.LastGrade != nil {
		v := *m.LastGrade
		cp.LastGrade = &v
	}
	if m.OriginalScore != nil {
		v := *m.OriginalScore
		cp.OriginalScore = &v
	}
	if m.LastAuditAt != nil {
		v := *m.LastAuditAt
		cp.LastAuditAt = &v
	}
	return &cp
}

// ResolveMachine finds or creates the machine for (teamID, hostname). The
// single store mutex makes the find-or-create atomic.
func (s *MemoryStore) ResolveMachine(ctx context.Context, teamID, hostname, os, osVersion string) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := machineKey{teamID: teamID, hostname: hostname}
	if id, ok := s.machineByID[key]; ok {
		return copyMachine(s.machines[id]), nil
	}

	now := time.Now().UTC()
	m := &model.Machine{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		Hostname:  hostname,
		OS:        os,
		OSVersion: osVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.machines[m.ID] = m
	s.machineByID[key] = m.ID
	s.logger.Info("Machine created", "machine_id", m.ID, "hostname", hostname, "team_id", teamID)
	return copyMachine(m), nil
}

func (s *MemoryStore) GetMachine(ctx context.Context, teamID, id string) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok || m.TeamID != teamID {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	return copyMachine(m), nil
}

func (s *MemoryStore) ListMachines(ctx context.Context, teamID string) ([]*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listMachinesLocked(teamID), nil
}

func (s *MemoryStore) listMachinesLocked(teamID string) []*model.Machine {
	var machines []*model.Machine
	for _, m := range s.machines {
		if m.TeamID == teamID {
			machines = append(machines, copyMachine(m))
		}
	}
	sort.Slice(machines, func(i, j int) bool { return machines[i].Hostname < machines[j].Hostname })
	return machines
}

func (s *MemoryStore) DeleteMachine(ctx context.Context, teamID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok || m.TeamID != teamID {
		return &model.NotFoundError{Kind: "machine", ID: id}
	}

	for rid, r := range s.reports {
		if r.MachineID != id {
			continue
		}
		for key := range s.corrections {
			if key.reportID == rid {
				delete(s.corrections, key)
			}
		}
		delete(s.reports, rid)
	}
	delete(s.machineByID, machineKey{teamID: m.TeamID, hostname: m.Hostname})
	delete(s.machines, id)
	s.logger.Info("Machine deleted", "machine_id", id, "team_id", teamID)
	return nil
}

// IngestReport stores the report and applies the machine roll-up under one
// mutex hold, so either both land or neither does.
func (s *MemoryStore) IngestReport(ctx context.Context, r *model.AuditReport) (*model.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[r.MachineID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "machine", ID: r.MachineID}
	}

	cp := *r
	s.reports[r.ID] = &cp

	score, grade, auditedAt := r.Score, r.Grade, r.AuditedAt
	m.TotalAudits++
	m.LastScore = &score
	m.LastGrade = &grade
	m.LastAuditAt = &auditedAt
	if m.OriginalScore == nil {
		v := score
		m.OriginalScore = &v
	}
	m.UpdatedAt = time.Now().UTC()
	return copyMachine(m), nil
}

func (s *MemoryStore) AssignMachineGroup(ctx context.Context, teamID, machineID string, groupID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[machineID]
	if !ok || m.TeamID != teamID {
		return &model.NotFoundError{Kind: "machine", ID: machineID}
	}
	if groupID != nil {
		if _, ok := s.groups[*groupID]; !ok {
			return &model.NotFoundError{Kind: "group", ID: *groupID}
		}
	}
	m.GroupID = groupID
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetReport(ctx context.Context, teamID, id string) (*model.AuditReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok || r.TeamID != teamID {
		return nil, &model.NotFoundError{Kind: "report", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListReports(ctx context.Context, teamID, machineID string) ([]*model.AuditReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reports []*model.AuditReport
	for _, r := range s.reports {
		if r.TeamID == teamID && r.MachineID == machineID {
			cp := *r
			reports = append(reports, &cp)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].AuditedAt.After(reports[j].AuditedAt) })
	return reports, nil
}

func (s *MemoryStore) ListCorrections(ctx context.Context, reportID string) ([]*model.ControlCorrection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var corrections []*model.ControlCorrection
	for key, c := range s.corrections {
		if key.reportID == reportID {
			cp := *c
			corrections = append(corrections, &cp)
		}
	}
	sort.Slice(corrections, func(i, j int) bool { return corrections[i].ControlID < corrections[j].ControlID })
	return corrections, nil
}

// ApplyCorrection upserts the correction and recomputes the report score
// from the full persisted correction set, all under one mutex hold so
// concurrent corrections for different controls of one report cannot
// persist a score that omits either.
func (s *MemoryStore) ApplyCorrection(ctx context.Context, corr *model.ControlCorrection, baseControls []model.Control) (*model.ControlCorrection, scoring.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[corr.ReportID]
	if !ok {
		return nil, scoring.Summary{}, &model.NotFoundError{Kind: "report", ID: corr.ReportID}
	}

	now := time.Now().UTC()
	key := correctionKey{reportID: corr.ReportID, controlID: corr.ControlID}
	stored := *corr
	if prev, exists := s.corrections[key]; exists {
		// Supersede: keep the original row identity, replace the judgment.
		stored.ID = prev.ID
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.corrections[key] = &stored

	var corrections []*model.ControlCorrection
	for k, c := range s.corrections {
		if k.reportID == corr.ReportID {
			corrections = append(corrections, c)
		}
	}
	summary := scoring.Summarize(scoring.Overlay(baseControls, corrections))

	r.Score = summary.Score
	r.Grade = summary.Grade

	if m, ok := s.machines[r.MachineID]; ok && s.isLatestReportLocked(r) {
		v := summary.Score
		g := summary.Grade
		m.LastScore = &v
		m.LastGrade = &g
		m.UpdatedAt = now
	}

	cp := stored
	return &cp, summary, nil
}

// isLatestReportLocked reports whether r is its machine's most recent report
// by audit time, tie-broken by creation time.
func (s *MemoryStore) isLatestReportLocked(r *model.AuditReport) bool {
	for _, other := range s.reports {
		if other.MachineID != r.MachineID || other.ID == r.ID {
			continue
		}
		if other.AuditedAt.After(r.AuditedAt) {
			return false
		}
		if other.AuditedAt.Equal(r.AuditedAt) && other.CreatedAt.After(r.CreatedAt) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *MemoryStore) ListOrganizations(ctx context.Context, teamID string) ([]*model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orgs []*model.Organization
	for _, o := range s.orgs {
		if o.TeamID == teamID {
			cp := *o
			orgs = append(orgs, &cp)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (s *MemoryStore) DeleteOrganization(ctx context.Context, teamID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orgs[id]
	if !ok || o.TeamID != teamID {
		return &model.NotFoundError{Kind: "organization", ID: id}
	}
	for sid, site := range s.sites {
		if site.OrgID == id {
			s.deleteSiteLocked(sid)
		}
	}
	delete(s.orgs, id)
	return nil
}

func (s *MemoryStore) CreateSite(ctx context.Context, teamID string, site *model.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orgs[site.OrgID]
	if !ok || o.TeamID != teamID {
		return &model.NotFoundError{Kind: "organization", ID: site.OrgID}
	}
	cp := *site
	s.sites[site.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSite(ctx context.Context, teamID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	site, ok := s.sites[id]
	if !ok {
		return &model.NotFoundError{Kind: "site", ID: id}
	}
	if o, ok := s.orgs[site.OrgID]; !ok || o.TeamID != teamID {
		return &model.NotFoundError{Kind: "site", ID: id}
	}
	s.deleteSiteLocked(id)
	return nil
}

func (s *MemoryStore) deleteSiteLocked(id string) {
	for gid, g := range s.groups {
		if g.SiteID == id {
			s.deleteGroupLocked(gid)
		}
	}
	delete(s.sites, id)
}

func (s *MemoryStore) CreateGroup(ctx context.Context, teamID string, group *model.MachineGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	site, ok := s.sites[group.SiteID]
	if !ok {
		return &model.NotFoundError{Kind: "site", ID: group.SiteID}
	}
	if o, ok := s.orgs[site.OrgID]; !ok || o.TeamID != teamID {
		return &model.NotFoundError{Kind: "site", ID: group.SiteID}
	}
	cp := *group
	s.groups[group.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteGroup(ctx context.Context, teamID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, err := s.groupTeamLocked(id)
	if err != nil {
		return err
	}
	if team != teamID {
		return &model.NotFoundError{Kind: "group", ID: id}
	}
	s.deleteGroupLocked(id)
	return nil
}

// deleteGroupLocked removes the group and detaches its machines. Machines
// are never deleted by hierarchy cascades.
func (s *MemoryStore) deleteGroupLocked(id string) {
	for _, m := range s.machines {
		if m.GroupID != nil && *m.GroupID == id {
			m.GroupID = nil
			m.UpdatedAt = time.Now().UTC()
		}
	}
	delete(s.groups, id)
}

func (s *MemoryStore) GroupTeam(ctx context.Context, groupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupTeamLocked(groupID)
}

func (s *MemoryStore) groupTeamLocked(groupID string) (string, error) {
	g, ok := s.groups[groupID]
	if !ok {
		return "", &model.NotFoundError{Kind: "group", ID: groupID}
	}
	site, ok := s.sites[g.SiteID]
	if !ok {
		return "", &model.NotFoundError{Kind: "site", ID: g.SiteID}
	}
	o, ok := s.orgs[site.OrgID]
	if !ok {
		return "", &model.NotFoundError{Kind: "organization", ID: site.OrgID}
	}
	return o.TeamID, nil
}

func (s *MemoryStore) HierarchySnapshot(ctx context.Context, teamID string) (*model.HierarchyView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &model.HierarchyView{
		Organizations:      []model.OrgNode{},
		UnassignedMachines: []*model.Machine{},
	}

	machinesByGroup := make(map[string][]*model.Machine)
	for _, m := range s.listMachinesLocked(teamID) {
		if m.GroupID == nil {
			view.UnassignedMachines = append(view.UnassignedMachines, m)
		} else {
			machinesByGroup[*m.GroupID] = append(machinesByGroup[*m.GroupID], m)
		}
	}

	orgs, _ := s.collectOrgsLocked(teamID)
	for _, o := range orgs {
		node := model.OrgNode{Organization: *o, Sites: []model.SiteNode{}}
		for _, site := range s.collectSitesLocked(o.ID) {
			sn := model.SiteNode{Site: *site, Groups: []model.GroupNode{}}
			for _, g := range s.collectGroupsLocked(site.ID) {
				gn := model.GroupNode{MachineGroup: *g, Machines: machinesByGroup[g.ID]}
				if gn.Machines == nil {
					gn.Machines = []*model.Machine{}
				}
				sn.Groups = append(sn.Groups, gn)
			}
			node.Sites = append(node.Sites, sn)
		}
		view.Organizations = append(view.Organizations, node)
	}
	return view, nil
}

func (s *MemoryStore) collectOrgsLocked(teamID string) ([]*model.Organization, error) {
	var orgs []*model.Organization
	for _, o := range s.orgs {
		if o.TeamID == teamID {
			orgs = append(orgs, o)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (s *MemoryStore) collectSitesLocked(orgID string) []*model.Site {
	var sites []*model.Site
	for _, site := range s.sites {
		if site.OrgID == orgID {
			sites = append(sites, site)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites
}

func (s *MemoryStore) collectGroupsLocked(siteID string) []*model.MachineGroup {
	var groups []*model.MachineGroup
	for _, g := range s.groups {
		if g.SiteID == siteID {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

func (s *MemoryStore) FleetStats(ctx context.Context, teamID string) (*model.FleetStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.FleetStats{OSCounts: make(map[string]int)}
	sum, scored := 0, 0
	for _, m := range s.machines {
		if m.TeamID != teamID {
			continue
		}
		stats.TotalMachines++
		stats.OSCounts[m.OS]++
		if m.LastScore != nil {
			sum += *m.LastScore
			scored++
		}
		if m.LastAuditAt != nil && (stats.LastAuditAt == nil || m.LastAuditAt.After(*stats.LastAuditAt)) {
			v := *m.LastAuditAt
			stats.LastAuditAt = &v
		}
	}
	for _, r := range s.reports {
		if r.TeamID == teamID {
			stats.TotalReports++
		}
	}
	if scored > 0 {
		avg := int(float64(sum)/float64(scored) + 0.5)
		stats.AverageScore = &avg
	}
	return stats, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
