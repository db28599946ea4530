package api

import (
	"net/http"
	"time"
)

type healthBody struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Subscribers   int    `json:"subscribers"`
}

// health is the only unauthenticated JSON endpoint, for load balancers
// and the installer's readiness poll.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	uptime := int64(0)
	if !h.StartedAt.IsZero() {
		uptime = int64(time.Since(h.StartedAt).Seconds())
	}
	Data(w, healthBody{
		Status:        "ok",
		Version:       h.Version,
		UptimeSeconds: uptime,
		Subscribers:   h.Bus.SubscriberCount(),
	})
}
