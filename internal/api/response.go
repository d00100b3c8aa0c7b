package api

import (
	"encoding/json"
	"net/http"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps a SandboxError (or any error) to its HTTP status and
// writes a uniform {"error": ...} body.
func writeErr(w http.ResponseWriter, err error) {
	jsonError(w, err.Error(), apierr.HTTPStatus(err))
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apierr.Validation("request body is required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindValidation, "invalid request body", err)
	}
	return nil
}
