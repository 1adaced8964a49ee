package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
)

type componentStatus struct {
	OK         bool   `json:"ok"`
	LiveViews  *int64 `json:"live_views,omitempty"`
	LastImport string `json:"last_import,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Impact     string `json:"impact,omitempty"`
	Error      string `json:"error,omitempty"`
}

type infraResponse struct {
	SyncMode   string                     `json:"sync_mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		liveViews := d.LiveViews.Count()
		components := map[string]componentStatus{
			"redis": checkRedis(r.Context(), d),
			"realtime": {
				OK:        true,
				LiveViews: &liveViews,
				Mode:      "pubsub+full-refetch",
			},
			"importer": importerStatus(d),
		}

		response := infraResponse{
			SyncMode:   determineSyncMode(components),
			Components: components,
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func determineSyncMode(components map[string]componentStatus) string {
	// Redis carries both storage and the change feed
	if redis, exists := components["redis"]; exists && !redis.OK {
		return "critical"
	}
	return "realtime"
}

func importerStatus(d deps.Deps) componentStatus {
	if d.LastImport == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}

	last := d.LastImport()
	lastStr := "never"
	if !last.IsZero() {
		lastStr = last.Format("2006-01-02 15:04:05")
	}
	return componentStatus{OK: true, Mode: "periodic", LastImport: lastStr}
}

func checkRedis(parent context.Context, d deps.Deps) componentStatus {
	if d.Store == nil {
		return componentStatus{
			OK:     false,
			Mode:   "down",
			Impact: "bookmarks-unavailable",
			Error:  "client not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "down",
			Impact: "bookmarks-unavailable",
			Error:  "timeout",
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "optimal",
		Impact: "none",
		Error:  "none",
	}
}
