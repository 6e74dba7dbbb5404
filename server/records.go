package main

import (
	"context"
	"encoding/json"
	"time"
)

// staticRecordSource is a placeholder collaborator: real deployments inject
// their own RecordSource for domain data. It keeps the authorized dispatch
// path exercised end to end.
type staticRecordSource struct{}

func (staticRecordSource) Snapshot(context.Context) (json.RawMessage, error) {
	snapshot := map[string]any{
		"records":      []any{},
		"generated_at": time.Now().UTC(),
	}
	return json.Marshal(snapshot)
}
