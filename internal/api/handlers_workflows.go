package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

type workflowRequest struct {
	Name        string `json:"name"`
	PayloadJSON string `json:"payload_json"`
	Trigger     string `json:"trigger"`
	CronExpr    string `json:"cron_expr,omitempty"`
	SandboxID   string `json:"sandbox_id"`
	Active      bool   `json:"active"`
}

func (s *Server) handleWorkflowCreate(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.SandboxID == "" {
		writeErr(w, apierr.MissingParameter("sandbox_id"))
		return
	}

	entry, err := s.workflows.Create(model.WorkflowEntry{
		ID:          newWorkflowID(),
		Name:        req.Name,
		PayloadJSON: req.PayloadJSON,
		Trigger:     model.TriggerType(req.Trigger),
		CronExpr:    req.CronExpr,
		SandboxID:   req.SandboxID,
		Active:      req.Active,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": s.workflows.List()})
}

func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["workflow_id"]
	if err := s.workflows.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
