package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status    string `json:"status"`
	DB        string `json:"db"`
	Timestamp string `json:"timestamp"`
}

// Health answers liveness checks with the database status. Ping failures
// are logged, never echoed to the caller.
func Health(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", DB: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)}
		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			logger.Error("database ping failed", "error", err, "request_id", RequestID(r.Context()))
			resp.DB = "unavailable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
