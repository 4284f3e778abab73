package http

import (
	"context"
	"net/http"
	"strconv"

	syncx "github.com/mind-engage/mindengage-grades/internal/sync"
)

type EventFeed interface {
	Since(ctx context.Context, after int64, limit int) ([]syncx.Event, error)
}

// GET /events?after=<seq>&limit=<n>
//
// Pages through the outbound event log for downstream replicas.
func EventsHandler(feed EventFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var after int64
		if v := q.Get("after"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				badRequest(w, "after must be a non-negative integer")
				return
			}
			after = n
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		events, err := feed.Since(r.Context(), after, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if events == nil {
			events = []syncx.Event{}
		}
		next := after
		if n := len(events); n > 0 {
			next = events[n-1].Seq
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
	}
}
