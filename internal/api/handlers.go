package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetaudit/fleetd/internal/model"
)

// uploadRequest is the body of POST /api/fleet/upload-report. Report holds
// the raw audit report payload exactly as the script emitted it; the machine
// name comes from the upload dialog, never from the payload.
type uploadRequest struct {
	MachineName string          `json:"machineName"`
	Report      json.RawMessage `json:"report"`
}

func (s *Server) handleUploadReport(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	result, err := s.ingestor.Upload(r.Context(), callerIdentity(r), req.MachineName, req.Report)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	view, err := s.hierarchy.Tree(r.Context(), callerIdentity(r).TeamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.aggregator.Stats(r.Context(), callerIdentity(r).TeamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := s.registry.List(r.Context(), callerIdentity(r).TeamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if machines == nil {
		machines = []*model.Machine{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"machines": machines,
		"count":    len(machines),
	})
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	ident := callerIdentity(r)
	id := chi.URLParam(r, "id")

	machine, err := s.registry.Get(r.Context(), ident.TeamID, id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	reports, err := s.registry.Reports(r.Context(), ident.TeamID, id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if reports == nil {
		reports = []*model.AuditReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"machine": machine,
		"reports": reports,
	})
}

func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), callerIdentity(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type assignRequest struct {
	GroupID *string `json:"groupId"`
}

func (s *Server) handleAssignMachine(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	if err := s.hierarchy.AssignMachine(r.Context(), callerIdentity(r), chi.URLParam(r, "id"), req.GroupID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	org, err := s.hierarchy.CreateOrganization(r.Context(), callerIdentity(r), req.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.hierarchy.DeleteOrganization(r.Context(), callerIdentity(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgID    string `json:"orgId"`
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	site, err := s.hierarchy.CreateSite(r.Context(), callerIdentity(r), req.OrgID, req.Name, req.Location)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.hierarchy.DeleteSite(r.Context(), callerIdentity(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SiteID string `json:"siteId"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	group, err := s.hierarchy.CreateGroup(r.Context(), callerIdentity(r), req.SiteID, req.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.hierarchy.DeleteGroup(r.Context(), callerIdentity(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReportControls(w http.ResponseWriter, r *http.Request) {
	controls, err := s.ledger.Controls(r.Context(), callerIdentity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if controls == nil {
		controls = []model.EffectiveControl{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"controls": controls,
		"count":    len(controls),
	})
}

type correctionRequest struct {
	ControlID       string `json:"controlId"`
	CorrectedStatus string `json:"correctedStatus"`
	Justification   string `json:"justification"`
}

func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON in request body"})
		return
	}
	result, err := s.ledger.Correct(r.Context(), callerIdentity(r), chi.URLParam(r, "id"),
		req.ControlID, model.ControlStatus(req.CorrectedStatus), req.Justification)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
