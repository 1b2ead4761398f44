package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"roomscan/pkg/models"
)

// ViewCache defines the projection interface the watch handler depends on.
type ViewCache interface {
	GetJobView(ctx context.Context, jobID uuid.UUID) ([]byte, bool, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth is the bearer credential, not a cookie, so origin checks add
	// nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewWatchHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/watch.
// It upgrades to a websocket and streams the projected job view every time it
// changes, closing once the job settles. The stream reads the eventually
// consistent projection; the one-shot status endpoint remains the
// authoritative read.
func NewWatchHandler(jobs JobReader, views ViewCache, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Ownership is enforced against the authoritative store before the
		// upgrade; the projection carries no owner.
		job, ok := authorizeJobAccess(w, r, jobs)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written its own error response.
			slog.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
			return
		}
		defer conn.Close()

		// Reader goroutine: the client never sends data, but reading is how
		// gorilla surfaces close frames.
		clientGone := make(chan struct{})
		go func() {
			defer close(clientGone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		// First frame comes from the job we already loaded, so the client
		// sees state before the first poll fires.
		last, err := json.Marshal(models.NewJobView(job, nil))
		if err == nil {
			if err := conn.WriteMessage(websocket.TextMessage, last); err != nil {
				return
			}
		}
		if models.IsTerminalStatus(job.Status) {
			writeClose(conn)
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-clientGone:
				return
			case <-ticker.C:
				payload, found, err := views.GetJobView(r.Context(), job.ID)
				if err != nil {
					slog.Warn("projection read failed", "job_id", job.ID, "error", err)
					continue
				}
				if !found || bytes.Equal(payload, last) {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
				last = payload

				var view struct {
					Status string `json:"status"`
				}
				if json.Unmarshal(payload, &view) == nil && models.IsTerminalStatus(view.Status) {
					writeClose(conn)
					return
				}
			}
		}
	}
}

func writeClose(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job settled"), deadline)
}
