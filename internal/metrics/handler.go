package metrics

import (
	"context"
	"encoding/json"
	"net/http"
)

// SnapshotProvider is satisfied by Manager.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Handler serves the current snapshot as JSON.
func Handler(provider SnapshotProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := provider.Snapshot(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}
