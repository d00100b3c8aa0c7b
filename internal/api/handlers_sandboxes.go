package api

import (
	"net/http"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

type sandboxSummary struct {
	ID             string  `json:"id"`
	SidecarURL     string  `json:"sidecar_url"`
	State          string  `json:"state"`
	CPUCores       float64 `json:"cpu_cores"`
	MemoryMB       int64   `json:"memory_mb"`
	CreatedAt      int64   `json:"created_at"`
	LastActivityAt int64   `json:"last_activity_at"`
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r)
	records := s.store.Values()
	summaries := make([]sandboxSummary, 0, len(records))
	for _, rec := range records {
		if !rec.OwnerMatches(caller) {
			continue
		}
		summaries = append(summaries, sandboxSummary{
			ID:             rec.ID,
			SidecarURL:     rec.SidecarURL,
			State:          string(rec.State),
			CPUCores:       rec.CPUCores,
			MemoryMB:       rec.MemoryMB,
			CreatedAt:      rec.CreatedAt.Unix(),
			LastActivityAt: rec.LastActivity().Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sandboxes": summaries})
}

// resolveOwnedSandbox looks up id, enforcing owner equality (an empty
// Owner on the record is accessible to anyone, mirroring single-tenant
// deployments that never set one).
func (s *Server) resolveOwnedSandbox(r *http.Request) (model.SandboxRecord, error) {
	id := idParam(r)
	rec, ok := s.store.Get(id)
	if !ok {
		return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
	}
	if !rec.OwnerMatches(callerFromContext(r)) {
		return model.SandboxRecord{}, apierr.Forbidden("caller does not own this sandbox")
	}
	return rec, nil
}

// stampActivity records that the sandbox was just used, defeating the
// idle reaper until the next tick evaluates it.
func (s *Server) stampActivity(id string) {
	_, _ = s.store.Update(id, func(current model.SandboxRecord, ok bool) (model.SandboxRecord, error) {
		if !ok {
			return model.SandboxRecord{}, apierr.NotFound("sandbox", id)
		}
		current.LastActivityAt = s.now()
		return current, nil
	})
}

type execRequest struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	EnvJSON map[string]string `json:"env_json,omitempty"`
	Timeout int64             `json:"timeout_ms,omitempty"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req execRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	var out interface{}
	if err := forwardToSidecar(r.Context(), rec.SidecarURL, rec.Token, "/terminals/commands", map[string]interface{}{
		"command": req.Command,
		"cwd":     req.Cwd,
		"env":     req.EnvJSON,
		"timeout": req.Timeout,
	}, &out); err != nil {
		writeErr(w, err)
		return
	}
	s.stampActivity(rec.ID)
	writeJSON(w, http.StatusOK, out)
}

type agentRunRequest struct {
	Message     string                 `json:"message"`
	SessionID   string                 `json:"session_id,omitempty"`
	Model       string                 `json:"model,omitempty"`
	ContextJSON map[string]interface{} `json:"context_json,omitempty"`
	Timeout     int64                  `json:"timeout_ms,omitempty"`
	MaxTurns    int                    `json:"max_turns,omitempty"`
}

func (s *Server) forwardAgentRun(w http.ResponseWriter, r *http.Request, identifier string) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req agentRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	metadata := map[string]interface{}{}
	for k, v := range req.ContextJSON {
		metadata[k] = v
	}
	if req.MaxTurns > 0 {
		metadata["maxTurns"] = req.MaxTurns
	}

	var out interface{}
	if err := forwardToSidecar(r.Context(), rec.SidecarURL, rec.Token, "/agents/run", map[string]interface{}{
		"identifier": identifier,
		"message":    req.Message,
		"sessionId":  req.SessionID,
		"backend":    map[string]interface{}{"model": req.Model},
		"metadata":   metadata,
		"timeout":    req.Timeout,
	}, &out); err != nil {
		writeErr(w, err)
		return
	}
	s.stampActivity(rec.ID)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) { s.forwardAgentRun(w, r, "default") }
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request)   { s.forwardAgentRun(w, r, "default") }

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	updated, err := s.runtime.Stop(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sandbox_id": updated.ID, "state": updated.State})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	updated, err := s.runtime.Resume(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sandbox_id": updated.ID, "state": updated.State})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	backend := s.resolveTEEBackend(rec)
	if err := s.runtime.Delete(r.Context(), rec.ID, backend); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sandbox_id": rec.ID})
}

type snapshotRequest struct {
	Destination      string `json:"destination"`
	IncludeWorkspace bool   `json:"include_workspace"`
	IncludeState     bool   `json:"include_state"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req snapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !req.IncludeWorkspace && !req.IncludeState {
		writeErr(w, apierr.Validation("at least one of include_workspace or include_state must be true"))
		return
	}

	imageID, err := s.runtime.Commit(r.Context(), rec.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.stampActivity(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": map[string]string{"snapshot_image_id": imageID}})
}

type sshAddRequest struct {
	Username  string `json:"username,omitempty"`
	PublicKey string `json:"public_key"`
}

func (s *Server) handleSSHAdd(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req sshAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Username == "" {
		req.Username = "agent"
	}

	var out interface{}
	if err := forwardToSidecar(r.Context(), rec.SidecarURL, rec.Token, "/ssh/keys", req, &out); err != nil {
		writeErr(w, err)
		return
	}
	s.stampActivity(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": out})
}

func (s *Server) handleSSHRevoke(w http.ResponseWriter, r *http.Request) {
	rec, err := s.resolveOwnedSandbox(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req sshAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	var out interface{}
	if err := forwardDeleteToSidecar(r.Context(), rec.SidecarURL, rec.Token, "/ssh/keys", req, &out); err != nil {
		writeErr(w, err)
		return
	}
	s.stampActivity(rec.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "result": out})
}

type secretsRequest struct {
	EnvJSON string `json:"env_json"`
}

func (s *Server) handleSecretsInject(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	var req secretsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	updated, err := s.secrets.Inject(r.Context(), id, callerFromContext(r), req.EnvJSON)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sandbox_id": updated.ID})
}

func (s *Server) handleSecretsWipe(w http.ResponseWriter, r *http.Request) {
	id := idParam(r)
	updated, err := s.secrets.Wipe(r.Context(), id, callerFromContext(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sandbox_id": updated.ID})
}

// resolveTEEBackend returns the backend attached to rec, or nil for a
// plain Docker-local sandbox; Delete only needs it when IsTEERequired.
func (s *Server) resolveTEEBackend(rec model.SandboxRecord) tee.Backend {
	if !rec.IsTEERequired() || s.teeProvider == nil {
		return nil
	}
	backend, _, err := s.teeProvider.BackendFor(rec.ID)
	if err != nil {
		return nil
	}
	return backend
}
