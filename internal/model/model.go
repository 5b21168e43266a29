package model

import "time"

// Role is the caller's role within a team, supplied by the upstream auth layer.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleTeamAdmin Role = "team-admin"
	RoleMember    Role = "member"
)

// FullAccess reports whether the role may mutate corrections, hierarchy
// entities, and machines. Members are read-only for those operations.
func (r Role) FullAccess() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleTeamAdmin
}

// Identity is the authenticated caller context attached to every request.
type Identity struct {
	UserID string `json:"user_id"`
	TeamID string `json:"team_id"`
	Role   Role   `json:"role"`
}

// ControlStatus is the outcome of a single compliance control.
type ControlStatus string

const (
	StatusPass ControlStatus = "PASS"
	StatusFail ControlStatus = "FAIL"
	StatusWarn ControlStatus = "WARN"
)

// Valid reports whether the status is one of the three supported outcomes.
func (s ControlStatus) Valid() bool {
	return s == StatusPass || s == StatusFail || s == StatusWarn
}

// Machine represents a tracked machine owned by exactly one team. Machines
// may optionally belong to a machine group; a nil GroupID means unassigned.
type Machine struct {
	ID            string     `json:"id"`
	TeamID        string     `json:"team_id"`
	GroupID       *string    `json:"group_id,omitempty"`
	Hostname      string     `json:"hostname"`
	OS            string     `json:"os"`
	OSVersion     string     `json:"os_version,omitempty"`
	LastScore     *int       `json:"last_score,omitempty"`
	LastGrade     *string    `json:"last_grade,omitempty"`
	OriginalScore *int       `json:"original_score,omitempty"`
	TotalAudits   int        `json:"total_audits"`
	LastAuditAt   *time.Time `json:"last_audit_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AuditReport is one ingested audit run for a machine. The raw uploaded
// payload is stored verbatim and remains the source of truth for the
// control list; Score and Grade are recomputed when corrections are applied
// while OriginalScore keeps the as-uploaded value.
type AuditReport struct {
	ID              string    `json:"id"`
	MachineID       string    `json:"machine_id"`
	TeamID          string    `json:"team_id"`
	AuditedAt       time.Time `json:"audited_at"`
	ScriptName      string    `json:"script_name,omitempty"`
	ScriptVersion   string    `json:"script_version,omitempty"`
	Score           int       `json:"score"`
	OriginalScore   int       `json:"original_score"`
	Grade           string    `json:"grade"`
	TotalControls   int       `json:"total_controls"`
	PassedControls  int       `json:"passed_controls"`
	FailedControls  int       `json:"failed_controls"`
	WarningControls int       `json:"warning_controls"`
	Payload         string    `json:"-"`
	UploadedBy      string    `json:"uploaded_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Control is one compliance check extracted from a report payload. Controls
// are not persisted as rows; they are re-extracted from the stored payload.
type Control struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Category    string        `json:"category,omitempty"`
	Severity    string        `json:"severity,omitempty"`
	Status      ControlStatus `json:"status"`
	Details     string        `json:"details,omitempty"`
	Remediation string        `json:"remediation,omitempty"`
}

// EffectiveControl is a control with any correction overlay applied.
type EffectiveControl struct {
	Control
	EffectiveStatus ControlStatus      `json:"effective_status"`
	Correction      *ControlCorrection `json:"correction,omitempty"`
}

// ControlCorrection is a manual status override for one control within one
// report. At most one correction exists per (report, control) pair; a later
// correction for the same control supersedes the earlier one.
type ControlCorrection struct {
	ID              string        `json:"id"`
	ReportID        string        `json:"report_id"`
	ControlID       string        `json:"control_id"`
	OriginalStatus  ControlStatus `json:"original_status"`
	CorrectedStatus ControlStatus `json:"corrected_status"`
	Justification   string        `json:"justification"`
	CorrectedBy     string        `json:"corrected_by"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Organization is the top level of the containment hierarchy.
type Organization struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Site belongs to exactly one organization.
type Site struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MachineGroup belongs to exactly one site and holds machines.
type MachineGroup struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupNode is a machine group with its member machines.
type GroupNode struct {
	MachineGroup
	Machines []*Machine `json:"machines"`
}

// SiteNode is a site with its groups.
type SiteNode struct {
	Site
	Groups []GroupNode `json:"groups"`
}

// OrgNode is an organization with its sites.
type OrgNode struct {
	Organization
	Sites []SiteNode `json:"sites"`
}

// HierarchyView is the full containment tree for a team plus the machines
// that belong to no group. It is a read-only projection.
type HierarchyView struct {
	Organizations      []OrgNode  `json:"organizations"`
	UnassignedMachines []*Machine `json:"unassigned_machines"`
}

// FleetStats is the dashboard roll-up for a team, recomputed on each call.
// AverageScore is nil when no machine has a recorded score.
type FleetStats struct {
	TotalMachines int            `json:"total_machines"`
	TotalReports  int            `json:"total_reports"`
	AverageScore  *int           `json:"average_score,omitempty"`
	LastAuditAt   *time.Time     `json:"last_audit_at,omitempty"`
	OSCounts      map[string]int `json:"os_counts"`
}
