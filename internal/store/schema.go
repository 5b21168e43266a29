package store

// schemaDDL creates the fleet tracking tables. The unique index on
// (team_id, hostname) backs the atomic machine find-or-create; the unique
// index on (report_id, control_id) backs the correction upsert. Hierarchy
// foreign keys cascade downward, and machines.group_id is SET NULL so a
// group delete detaches machines instead of deleting them.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_organizations_team ON organizations (team_id);

CREATE TABLE IF NOT EXISTS sites (
	id         TEXT PRIMARY KEY,
	org_id     TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_sites_org ON sites (org_id);

CREATE TABLE IF NOT EXISTS machine_groups (
	id         TEXT PRIMARY KEY,
	site_id    TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_machine_groups_site ON machine_groups (site_id);

CREATE TABLE IF NOT EXISTS machines (
	id             TEXT PRIMARY KEY,
	team_id        TEXT NOT NULL,
	group_id       TEXT REFERENCES machine_groups(id) ON DELETE SET NULL,
	hostname       TEXT NOT NULL,
	os             TEXT NOT NULL DEFAULT '',
	os_version     TEXT NOT NULL DEFAULT '',
	last_score     INTEGER,
	last_grade     TEXT,
	original_score INTEGER,
	total_audits   INTEGER NOT NULL DEFAULT 0,
	last_audit_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_machines_team_hostname ON machines (team_id, hostname);

CREATE TABLE IF NOT EXISTS audit_reports (
	id               TEXT PRIMARY KEY,
	machine_id       TEXT NOT NULL REFERENCES machines(id) ON DELETE CASCADE,
	team_id          TEXT NOT NULL,
	audited_at       TIMESTAMPTZ NOT NULL,
	script_name      TEXT NOT NULL DEFAULT '',
	script_version   TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL,
	original_score   INTEGER NOT NULL,
	grade            TEXT NOT NULL,
	total_controls   INTEGER NOT NULL,
	passed_controls  INTEGER NOT NULL,
	failed_controls  INTEGER NOT NULL,
	warning_controls INTEGER NOT NULL,
	payload          TEXT NOT NULL,
	uploaded_by      TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_reports_machine ON audit_reports (machine_id, audited_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_reports_team ON audit_reports (team_id);

CREATE TABLE IF NOT EXISTS control_corrections (
	id               TEXT PRIMARY KEY,
	report_id        TEXT NOT NULL REFERENCES audit_reports(id) ON DELETE CASCADE,
	control_id       TEXT NOT NULL,
	original_status  TEXT NOT NULL,
	corrected_status TEXT NOT NULL,
	justification    TEXT NOT NULL,
	corrected_by     TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_corrections_report_control ON control_corrections (report_id, control_id);
`
