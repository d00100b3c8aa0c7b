package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/batch"
)

type batchItemRequest struct {
	SandboxID string `json:"sandbox_id"`
	Command   string `json:"command,omitempty"`
	Message   string `json:"message,omitempty"`
}

type batchRequest struct {
	Requests []batchItemRequest `json:"requests"`
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.resolveOwnedSandbox(r); err != nil {
		writeErr(w, err)
		return
	}

	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.Requests) == 0 {
		writeErr(w, apierr.InvalidInput("requests", "must contain at least one item"))
		return
	}

	items := make([]batch.ItemRequest, len(req.Requests))
	for i, item := range req.Requests {
		items[i] = batch.ItemRequest{SandboxID: item.SandboxID, Command: item.Command, Message: item.Message}
	}

	batchID := newBatchID()
	record, err := s.batches.Run(r.Context(), batchID, items)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batch_id": record.ID, "status": record.Status})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batch_id"]
	record, ok := s.batches.Get(batchID)
	if !ok {
		writeErr(w, apierr.NotFound("batch", batchID))
		return
	}
	writeJSON(w, http.StatusOK, record)
}
