package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetaudit/fleetd/internal/events"
	"github.com/fleetaudit/fleetd/internal/fleet"
	"github.com/fleetaudit/fleetd/internal/report"
	"github.com/fleetaudit/fleetd/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemoryStore(logger)
	parser, err := report.NewParser(logger)
	require.NoError(t, err)
	pub := events.NopPublisher{}

	registry := fleet.NewRegistry(st, logger)
	ingestor := fleet.NewIngestor(registry, parser, pub, nil, logger)
	ledger, err := fleet.NewLedger(st, pub, nil, logger)
	require.NoError(t, err)
	hierarchy := fleet.NewHierarchy(st, pub, nil, logger)
	aggregator := fleet.NewAggregator(st, logger)

	return NewServer(st, ingestor, registry, ledger, hierarchy, aggregator, nil, logger)
}

type caller struct {
	userID string
	teamID string
	role   string
}

var (
	asOwner  = caller{userID: "user-1", teamID: "team-1", role: "owner"}
	asMember = caller{userID: "user-2", teamID: "team-1", role: "member"}
)

func doJSON(t *testing.T, s *Server, c caller, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
		req.Header.Set("X-Team-ID", c.teamID)
		req.Header.Set("X-User-Role", c.role)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

const sampleReport = `{
	"os": "linux",
	"auditDate": "2025-06-01T10:00:00Z",
	"controls": [
		{"id": "c1", "status": "PASS"}, {"id": "c2", "status": "PASS"},
		{"id": "c3", "status": "PASS"}, {"id": "c4", "status": "PASS"},
		{"id": "c5", "status": "FAIL"}
	]
}`

func uploadReport(t *testing.T, s *Server, machineName string) map[string]json.RawMessage {
	t.Helper()
	rec := doJSON(t, s, asMember, http.MethodPost, "/api/fleet/upload-report", map[string]interface{}{
		"machineName": machineName,
		"report":      json.RawMessage(sampleReport),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result map[string]json.RawMessage
	decode(t, rec, &result)
	return result
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, caller{}, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyz(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, caller{}, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingIdentityRejected(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, caller{}, http.MethodGet, "/api/fleet/machines", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "missing identity", body["error"])
}

func TestUploadReport(t *testing.T) {
	s := testServer(t)
	result := uploadReport(t, s, "srv-01")

	var rep struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
		Grade string `json:"grade"`
	}
	require.NoError(t, json.Unmarshal(result["report"], &rep))
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 80, rep.Score)
	assert.Equal(t, "B", rep.Grade)

	var machine struct {
		ID          string `json:"id"`
		Hostname    string `json:"hostname"`
		TotalAudits int    `json:"total_audits"`
	}
	require.NoError(t, json.Unmarshal(result["machine"], &machine))
	assert.Equal(t, "srv-01", machine.Hostname)
	assert.Equal(t, 1, machine.TotalAudits)
}

func TestUploadReport_Malformed(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, asMember, http.MethodPost, "/api/fleet/upload-report", map[string]interface{}{
		"machineName": "srv-01",
		"report":      json.RawMessage(`{"score": 80}`),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	assert.Contains(t, body.Field, "controls")
}

func TestUploadReport_BodyNotJSON(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/fleet/upload-report", bytes.NewBufferString("not json"))
	req.Header.Set("X-User-ID", asMember.userID)
	req.Header.Set("X-Team-ID", asMember.teamID)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCorrectionFlow(t *testing.T) {
	s := testServer(t)
	result := uploadReport(t, s, "srv-01")

	var rep struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result["report"], &rep))

	path := fmt.Sprintf("/api/fleet/reports/%s/corrections", rep.ID)
	body := map[string]string{
		"controlId":       "c5",
		"correctedStatus": "PASS",
		"justification":   "patched",
	}

	// Members cannot correct.
	rec := doJSON(t, s, asMember, http.MethodPost, path, body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, asOwner, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var corrected struct {
		Score int    `json:"score"`
		Grade string `json:"grade"`
	}
	decode(t, rec, &corrected)
	assert.Equal(t, 100, corrected.Score)
	assert.Equal(t, "A", corrected.Grade)

	// The controls view shows the overlay.
	rec = doJSON(t, s, asMember, http.MethodGet, fmt.Sprintf("/api/fleet/reports/%s/controls", rep.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var controls struct {
		Count    int `json:"count"`
		Controls []struct {
			ID              string `json:"id"`
			Status          string `json:"status"`
			EffectiveStatus string `json:"effective_status"`
		} `json:"controls"`
	}
	decode(t, rec, &controls)
	require.Equal(t, 5, controls.Count)
	for _, c := range controls.Controls {
		if c.ID == "c5" {
			assert.Equal(t, "FAIL", c.Status)
			assert.Equal(t, "PASS", c.EffectiveStatus)
		}
	}
}

func TestCorrection_UnknownControl(t *testing.T) {
	s := testServer(t)
	result := uploadReport(t, s, "srv-01")

	var rep struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result["report"], &rep))

	rec := doJSON(t, s, asOwner, http.MethodPost, fmt.Sprintf("/api/fleet/reports/%s/corrections", rep.ID), map[string]string{
		"controlId":       "c99",
		"correctedStatus": "PASS",
		"justification":   "patched",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "c99", body.ControlID)
}

func TestCorrection_ReportNotFound(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, asOwner, http.MethodPost, "/api/fleet/reports/nope/corrections", map[string]string{
		"controlId":       "c1",
		"correctedStatus": "PASS",
		"justification":   "patched",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMachineLifecycle(t *testing.T) {
	s := testServer(t)
	result := uploadReport(t, s, "srv-01")

	var machine struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result["machine"], &machine))

	rec := doJSON(t, s, asMember, http.MethodGet, "/api/fleet/machines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = doJSON(t, s, asMember, http.MethodGet, "/api/fleet/machines/"+machine.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Reports []json.RawMessage `json:"reports"`
	}
	decode(t, rec, &detail)
	assert.Len(t, detail.Reports, 1)

	// Members cannot delete machines.
	rec = doJSON(t, s, asMember, http.MethodDelete, "/api/fleet/machines/"+machine.ID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, asOwner, http.MethodDelete, "/api/fleet/machines/"+machine.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, asMember, http.MethodGet, "/api/fleet/machines/"+machine.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHierarchyEndpoints(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, asOwner, http.MethodPost, "/api/fleet/organizations", map[string]string{"name": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var org struct {
		ID string `json:"id"`
	}
	decode(t, rec, &org)

	rec = doJSON(t, s, asOwner, http.MethodPost, "/api/fleet/sites", map[string]string{
		"orgId": org.ID, "name": "hq", "location": "berlin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var site struct {
		ID string `json:"id"`
	}
	decode(t, rec, &site)

	rec = doJSON(t, s, asOwner, http.MethodPost, "/api/fleet/groups", map[string]string{
		"siteId": site.ID, "name": "web",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group struct {
		ID string `json:"id"`
	}
	decode(t, rec, &group)

	result := uploadReport(t, s, "srv-01")
	var machine struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result["machine"], &machine))

	rec = doJSON(t, s, asOwner, http.MethodPut, "/api/fleet/machines/"+machine.ID+"/assign", map[string]*string{
		"groupId": &group.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, asMember, http.MethodGet, "/api/fleet/hierarchy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Organizations []struct {
			Sites []struct {
				Groups []struct {
					Machines []json.RawMessage `json:"machines"`
				} `json:"groups"`
			} `json:"sites"`
		} `json:"organizations"`
		Unassigned []json.RawMessage `json:"unassigned_machines"`
	}
	decode(t, rec, &view)
	require.Len(t, view.Organizations, 1)
	require.Len(t, view.Organizations[0].Sites, 1)
	require.Len(t, view.Organizations[0].Sites[0].Groups, 1)
	assert.Len(t, view.Organizations[0].Sites[0].Groups[0].Machines, 1)
	assert.Empty(t, view.Unassigned)

	// Deleting the group detaches the machine back to unassigned.
	rec = doJSON(t, s, asOwner, http.MethodDelete, "/api/fleet/groups/"+group.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, asMember, http.MethodGet, "/api/fleet/hierarchy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	require.Len(t, view.Organizations[0].Sites, 1)
	assert.Empty(t, view.Organizations[0].Sites[0].Groups)
	assert.Len(t, view.Unassigned, 1)
}

func TestHierarchy_MemberForbidden(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, asMember, http.MethodPost, "/api/fleet/organizations", map[string]string{"name": "acme"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := testServer(t)
	uploadReport(t, s, "srv-01")
	uploadReport(t, s, "srv-02")

	rec := doJSON(t, s, asMember, http.MethodGet, "/api/fleet/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		TotalMachines int            `json:"total_machines"`
		TotalReports  int            `json:"total_reports"`
		AverageScore  *int           `json:"average_score"`
		OSCounts      map[string]int `json:"os_counts"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.TotalMachines)
	assert.Equal(t, 2, stats.TotalReports)
	require.NotNil(t, stats.AverageScore)
	assert.Equal(t, 80, *stats.AverageScore)
	assert.Equal(t, 2, stats.OSCounts["linux"])
}

func TestStats_EmptyTeamIsolated(t *testing.T) {
	s := testServer(t)
	uploadReport(t, s, "srv-01")

	other := caller{userID: "user-9", teamID: "team-2", role: "member"}
	rec := doJSON(t, s, other, http.MethodGet, "/api/fleet/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		TotalMachines int `json:"total_machines"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, 0, stats.TotalMachines)
}
