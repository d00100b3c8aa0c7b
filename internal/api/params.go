package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tangle-network/sandbox-controlplane/internal/model"
)

// idParam resolves the target sandbox id: the {id} route variable for
// multi-tenant routes, or the singleton key for /sandbox/* routes.
func idParam(r *http.Request) string {
	if id, ok := mux.Vars(r)["id"]; ok && id != "" {
		return id
	}
	return model.InstanceRecordKey
}
