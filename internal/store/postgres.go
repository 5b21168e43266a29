package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetaudit/fleetd/internal/model"
	"github.com/fleetaudit/fleetd/internal/scoring"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(host, port, user, password, dbname string, logger *slog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// EnsureSchema creates the fleet tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const machineColumns = `id, team_id, group_id, hostname, os, os_version,
	last_score, last_grade, original_score, total_audits, last_audit_at, created_at, updated_at`

func scanMachine(row interface{ Scan(...any) error }) (*model.Machine, error) {
	var m model.Machine
	err := row.Scan(&m.ID, &m.TeamID, &m.GroupID, &m.Hostname, &m.OS, &m.OSVersion,
		&m.LastScore, &m.LastGrade, &m.OriginalScore, &m.TotalAudits, &m.LastAuditAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ResolveMachine finds or creates the machine for (teamID, hostname). The
// INSERT ... ON CONFLICT makes concurrent first uploads converge on one row;
// the no-op DO UPDATE lets RETURNING yield the surviving row either way.
func (s *PostgresStore) ResolveMachine(ctx context.Context, teamID, hostname, os, osVersion string) (*model.Machine, error) {
	query := `
		INSERT INTO machines (id, team_id, hostname, os, os_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, hostname) DO UPDATE SET updated_at = NOW()
		RETURNING ` + machineColumns

	m, err := scanMachine(s.db.QueryRowContext(ctx, query, newID(), teamID, hostname, os, osVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve machine: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMachine(ctx context.Context, teamID, id string) (*model.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE id = $1 AND team_id = $2`
	m, err := scanMachine(s.db.QueryRowContext(ctx, query, id, teamID))
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "machine", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query machine: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMachines(ctx context.Context, teamID string) ([]*model.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE team_id = $1 ORDER BY hostname`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var machines []*model.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// DeleteMachine hard-deletes the machine; reports and corrections go with it
// through the ON DELETE CASCADE foreign keys.
func (s *PostgresStore) DeleteMachine(ctx context.Context, teamID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = $1 AND team_id = $2`, id, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "machine", ID: id})
}

// IngestReport inserts the report and applies the machine roll-up in one
// transaction. COALESCE latches original_score on the first report only.
func (s *PostgresStore) IngestReport(ctx context.Context, r *model.AuditReport) (*model.Machine, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO audit_reports (id, machine_id, team_id, audited_at, script_name, script_version,
			score, original_score, grade, total_controls, passed_controls, failed_controls,
			warning_controls, payload, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = tx.ExecContext(ctx, insert, r.ID, r.MachineID, r.TeamID, r.AuditedAt,
		r.ScriptName, r.ScriptVersion, r.Score, r.OriginalScore, r.Grade,
		r.TotalControls, r.PassedControls, r.FailedControls, r.WarningControls,
		r.Payload, r.UploadedBy, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	rollup := `
		UPDATE machines SET
			total_audits   = total_audits + 1,
			last_score     = $2,
			last_grade     = $3,
			last_audit_at  = $4,
			original_score = COALESCE(original_score, $2),
			updated_at     = NOW()
		WHERE id = $1
		RETURNING ` + machineColumns
	m, err := scanMachine(tx.QueryRowContext(ctx, rollup, r.MachineID, r.Score, r.Grade, r.AuditedAt))
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "machine", ID: r.MachineID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply machine roll-up: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ingest: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) AssignMachineGroup(ctx context.Context, teamID, machineID string, groupID *string) error {
	query := `UPDATE machines SET group_id = $3, updated_at = NOW() WHERE id = $1 AND team_id = $2`
	res, err := s.db.ExecContext(ctx, query, machineID, teamID, groupID)
	if err != nil {
		return fmt.Errorf("failed to assign machine group: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "machine", ID: machineID})
}

const reportColumns = `id, machine_id, team_id, audited_at, script_name, script_version,
	score, original_score, grade, total_controls, passed_controls, failed_controls,
	warning_controls, payload, uploaded_by, created_at`

func scanReport(row interface{ Scan(...any) error }) (*model.AuditReport, error) {
	var r model.AuditReport
	err := row.Scan(&r.ID, &r.MachineID, &r.TeamID, &r.AuditedAt, &r.ScriptName, &r.ScriptVersion,
		&r.Score, &r.OriginalScore, &r.Grade, &r.TotalControls, &r.PassedControls,
		&r.FailedControls, &r.WarningControls, &r.Payload, &r.UploadedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, teamID, id string) (*model.AuditReport, error) {
	query := `SELECT ` + reportColumns + ` FROM audit_reports WHERE id = $1 AND team_id = $2`
	r, err := scanReport(s.db.QueryRowContext(ctx, query, id, teamID))
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "report", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, teamID, machineID string) ([]*model.AuditReport, error) {
	query := `SELECT ` + reportColumns + ` FROM audit_reports
		WHERE team_id = $1 AND machine_id = $2 ORDER BY audited_at DESC, created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, teamID, machineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []*model.AuditReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

const correctionColumns = `id, report_id, control_id, original_status, corrected_status,
	justification, corrected_by, created_at, updated_at`

func scanCorrection(row interface{ Scan(...any) error }) (*model.ControlCorrection, error) {
	var c model.ControlCorrection
	err := row.Scan(&c.ID, &c.ReportID, &c.ControlID, &c.OriginalStatus, &c.CorrectedStatus,
		&c.Justification, &c.CorrectedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryCorrections(ctx context.Context, q querier, reportID string) ([]*model.ControlCorrection, error) {
	query := `SELECT ` + correctionColumns + ` FROM control_corrections
		WHERE report_id = $1 ORDER BY control_id`
	rows, err := q.QueryContext(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var corrections []*model.ControlCorrection
	for rows.Next() {
		c, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

func (s *PostgresStore) ListCorrections(ctx context.Context, reportID string) ([]*model.ControlCorrection, error) {
	return queryCorrections(ctx, s.db, reportID)
}

// ApplyCorrection runs the correction upsert, the score recompute over the
// persisted correction set, the report update, and the conditional machine
// update in one transaction. The FOR UPDATE lock on the report row
// serializes concurrent corrections for the same report, so each commit's
// recompute sees every correction committed before it.
func (s *PostgresStore) ApplyCorrection(ctx context.Context, corr *model.ControlCorrection, baseControls []model.Control) (*model.ControlCorrection, scoring.Summary, error) {
	var zero scoring.Summary

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var machineID string
	err = tx.QueryRowContext(ctx,
		`SELECT machine_id FROM audit_reports WHERE id = $1 FOR UPDATE`,
		corr.ReportID).Scan(&machineID)
	if err == sql.ErrNoRows {
		return nil, zero, &model.NotFoundError{Kind: "report", ID: corr.ReportID}
	}
	if err != nil {
		return nil, zero, fmt.Errorf("failed to lock report: %w", err)
	}

	upsert := `
		INSERT INTO control_corrections (id, report_id, control_id, original_status,
			corrected_status, justification, corrected_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (report_id, control_id) DO UPDATE SET
			corrected_status = EXCLUDED.corrected_status,
			justification    = EXCLUDED.justification,
			corrected_by     = EXCLUDED.corrected_by,
			updated_at       = NOW()
		RETURNING ` + correctionColumns

	stored, err := scanCorrection(tx.QueryRowContext(ctx, upsert, corr.ID, corr.ReportID,
		corr.ControlID, corr.OriginalStatus, corr.CorrectedStatus, corr.Justification,
		corr.CorrectedBy))
	if err != nil {
		return nil, zero, fmt.Errorf("failed to upsert correction: %w", err)
	}

	corrections, err := queryCorrections(ctx, tx, corr.ReportID)
	if err != nil {
		return nil, zero, err
	}
	summary := scoring.Summarize(scoring.Overlay(baseControls, corrections))

	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_reports SET score = $2, grade = $3 WHERE id = $1`,
		corr.ReportID, summary.Score, summary.Grade); err != nil {
		return nil, zero, fmt.Errorf("failed to update report score: %w", err)
	}

	// Refresh machine roll-up state only when the corrected report is the
	// machine's most recent one. originalScore and totalAudits stay put.
	machineUpdate := `
		UPDATE machines SET last_score = $2, last_grade = $3, updated_at = NOW()
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM audit_reports r
			WHERE r.machine_id = $1 AND r.id <> $4
				AND (r.audited_at, r.created_at) > (
					SELECT audited_at, created_at FROM audit_reports WHERE id = $4
				)
		)`
	if _, err := tx.ExecContext(ctx, machineUpdate, machineID, summary.Score, summary.Grade, corr.ReportID); err != nil {
		return nil, zero, fmt.Errorf("failed to update machine score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, zero, fmt.Errorf("failed to commit correction: %w", err)
	}
	return stored, summary, nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, team_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		org.ID, org.TeamID, org.Name, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context, teamID string) ([]*model.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, created_at FROM organizations WHERE team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*model.Organization
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.TeamID, &o.Name, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &o)
	}
	return orgs, rows.Err()
}

// DeleteOrganization cascades to sites and groups through foreign keys;
// machines in those groups are detached by the ON DELETE SET NULL on
// machines.group_id.
func (s *PostgresStore) DeleteOrganization(ctx context.Context, teamID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM organizations WHERE id = $1 AND team_id = $2`, id, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "organization", ID: id})
}

// CreateSite inserts only when the parent organization exists within the
// team; the INSERT ... SELECT makes the parent check and the insert one
// statement.
func (s *PostgresStore) CreateSite(ctx context.Context, teamID string, site *model.Site) error {
	query := `
		INSERT INTO sites (id, org_id, name, location, created_at)
		SELECT $1, o.id, $3, $4, $5 FROM organizations o WHERE o.id = $2 AND o.team_id = $6`
	res, err := s.db.ExecContext(ctx, query, site.ID, site.OrgID, site.Name, site.Location, site.CreatedAt, teamID)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "organization", ID: site.OrgID})
}

func (s *PostgresStore) DeleteSite(ctx context.Context, teamID, id string) error {
	query := `
		DELETE FROM sites s USING organizations o
		WHERE s.id = $1 AND s.org_id = o.id AND o.team_id = $2`
	res, err := s.db.ExecContext(ctx, query, id, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "site", ID: id})
}

func (s *PostgresStore) CreateGroup(ctx context.Context, teamID string, group *model.MachineGroup) error {
	query := `
		INSERT INTO machine_groups (id, site_id, name, created_at)
		SELECT $1, s.id, $3, $4 FROM sites s JOIN organizations o ON o.id = s.org_id
		WHERE s.id = $2 AND o.team_id = $5`
	res, err := s.db.ExecContext(ctx, query, group.ID, group.SiteID, group.Name, group.CreatedAt, teamID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "site", ID: group.SiteID})
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, teamID, id string) error {
	query := `
		DELETE FROM machine_groups g USING sites s, organizations o
		WHERE g.id = $1 AND g.site_id = s.id AND s.org_id = o.id AND o.team_id = $2`
	res, err := s.db.ExecContext(ctx, query, id, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return requireAffected(res, &model.NotFoundError{Kind: "group", ID: id})
}

func (s *PostgresStore) GroupTeam(ctx context.Context, groupID string) (string, error) {
	query := `
		SELECT o.team_id FROM machine_groups g
		JOIN sites s ON s.id = g.site_id
		JOIN organizations o ON o.id = s.org_id
		WHERE g.id = $1`
	var teamID string
	err := s.db.QueryRowContext(ctx, query, groupID).Scan(&teamID)
	if err == sql.ErrNoRows {
		return "", &model.NotFoundError{Kind: "group", ID: groupID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve group team: %w", err)
	}
	return teamID, nil
}

// HierarchySnapshot reads the whole tree inside one REPEATABLE READ
// transaction so a concurrent delete cannot produce a view referencing a
// parent that no longer exists.
func (s *PostgresStore) HierarchySnapshot(ctx context.Context, teamID string) (*model.HierarchyView, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	view := &model.HierarchyView{
		Organizations:      []model.OrgNode{},
		UnassignedMachines: []*model.Machine{},
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE team_id = $1 ORDER BY hostname`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	machinesByGroup := make(map[string][]*model.Machine)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		if m.GroupID == nil {
			view.UnassignedMachines = append(view.UnassignedMachines, m)
		} else {
			machinesByGroup[*m.GroupID] = append(machinesByGroup[*m.GroupID], m)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groupsBySite := make(map[string][]model.GroupNode)
	rows, err = tx.QueryContext(ctx, `
		SELECT g.id, g.site_id, g.name, g.created_at FROM machine_groups g
		JOIN sites s ON s.id = g.site_id
		JOIN organizations o ON o.id = s.org_id
		WHERE o.team_id = $1 ORDER BY g.name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	for rows.Next() {
		var g model.MachineGroup
		if err := rows.Scan(&g.ID, &g.SiteID, &g.Name, &g.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		machines := machinesByGroup[g.ID]
		if machines == nil {
			machines = []*model.Machine{}
		}
		groupsBySite[g.SiteID] = append(groupsBySite[g.SiteID], model.GroupNode{MachineGroup: g, Machines: machines})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sitesByOrg := make(map[string][]model.SiteNode)
	rows, err = tx.QueryContext(ctx, `
		SELECT s.id, s.org_id, s.name, s.location, s.created_at FROM sites s
		JOIN organizations o ON o.id = s.org_id
		WHERE o.team_id = $1 ORDER BY s.name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	for rows.Next() {
		var site model.Site
		if err := rows.Scan(&site.ID, &site.OrgID, &site.Name, &site.Location, &site.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		groups := groupsBySite[site.ID]
		if groups == nil {
			groups = []model.GroupNode{}
		}
		sitesByOrg[site.OrgID] = append(sitesByOrg[site.OrgID], model.SiteNode{Site: site, Groups: groups})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT id, team_id, name, created_at FROM organizations WHERE team_id = $1 ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	for rows.Next() {
		var o model.Organization
		if err := rows.Scan(&o.ID, &o.TeamID, &o.Name, &o.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		sites := sitesByOrg[o.ID]
		if sites == nil {
			sites = []model.SiteNode{}
		}
		view.Organizations = append(view.Organizations, model.OrgNode{Organization: o, Sites: sites})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return view, tx.Commit()
}

// FleetStats recomputes the team roll-up from current machine and report
// state. Machines without a recorded score are excluded from the average.
func (s *PostgresStore) FleetStats(ctx context.Context, teamID string) (*model.FleetStats, error) {
	stats := &model.FleetStats{OSCounts: make(map[string]int)}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(last_score), MAX(last_audit_at)
		FROM machines WHERE team_id = $1`, teamID).
		Scan(&stats.TotalMachines, &avg, &stats.LastAuditAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query fleet stats: %w", err)
	}
	if avg.Valid {
		rounded := int(avg.Float64 + 0.5)
		stats.AverageScore = &rounded
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_reports WHERE team_id = $1`, teamID).Scan(&stats.TotalReports)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT os, COUNT(*) FROM machines WHERE team_id = $1 GROUP BY os`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query os counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var os string
		var count int
		if err := rows.Scan(&os, &count); err != nil {
			return nil, fmt.Errorf("failed to scan os count: %w", err)
		}
		stats.OSCounts[os] = count
	}
	return stats, rows.Err()
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
