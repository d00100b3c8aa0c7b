package api

import (
	"github.com/google/uuid"
)

func newBatchID() string    { return "batch-" + uuid.NewString() }
func newWorkflowID() string { return "wf-" + uuid.NewString() }
