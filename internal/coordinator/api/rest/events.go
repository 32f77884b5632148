package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/events"
)

// streamEvents serves live dashboard events as Server-Sent Events. The
// subscription is taken before the snapshot is read so nothing published
// in between is missed; observers may see an event already reflected in
// the snapshot.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.respondError(w, http.StatusInternalServerError, core.KindInternal, "streaming unsupported")
		return
	}

	sub := a.events.Subscribe()
	defer sub.Close()

	snap, err := a.dashboard.Snapshot(r.Context())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	first, err := events.EncodeSnapshot(snap, a.now())
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, first); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				a.logger.Debug("Event stream closed by bus", "remote_addr", r.RemoteAddr)
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, msg events.Message) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, msg.Payload)
	return err
}
