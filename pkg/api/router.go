// Package api serves the appliance's REST and WebSocket surface. All
// endpoints except /health require HTTP Basic auth; mutating endpoints
// additionally require the admin role and are rate limited per client
// IP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/capture"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/mode"
	"github.com/networktap/networktap/pkg/retention"
	"github.com/networktap/networktap/pkg/stats"
	"github.com/networktap/networktap/pkg/tail"
)

// Deps wires the API onto the daemon's components. All fields are
// required except Version/StartedAt, which default sensibly.
type Deps struct {
	Store     *config.Store
	Host      host.Adapter
	Capture   *capture.Supervisor
	Retention *retention.Engine
	Mode      *mode.Controller
	Bus       *events.Bus
	Reader    *tail.Reader
	Gate      *auth.Gate
	Sampler   *stats.Sampler
	Zeek      *stats.Zeek
	Hub       *Hub

	Version   string
	StartedAt time.Time
}

type handlers struct {
	Deps
}

// jsonTimeout bounds JSON endpoints; downloads and the WebSocket are
// exempt, and mode switches get modeSwitchTimeout.
const (
	jsonTimeout           = 30 * time.Second
	modeSwitchTimeout     = 45 * time.Second
	scriptEndpointTimeout = 100 * time.Second
)

// NewRouter builds the chi router with the full middleware stack and
// route table.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{Deps: deps}
	limiter := newIPLimiter()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Unauthenticated surface.
	r.Get("/health", h.health)

	// WebSocket: auth happens inside the handler so failures close with
	// the dedicated 4401 code instead of an HTTP error body.
	r.Get("/ws/alerts", h.wsAlerts)

	// Authenticated JSON API.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(deps.Gate))
		r.Use(middleware.Timeout(jsonTimeout))

		// Reads, either role.
		r.Get("/system/status", h.systemStatus)
		r.Get("/system/status/history", h.systemHistory)
		r.Get("/system/interfaces", h.systemInterfaces)

		r.Get("/config", h.configGet)
		r.Get("/config/mode", h.modeGet)

		r.Get("/capture/status", h.captureStatus)
		r.Get("/pcaps", h.pcapList)

		r.Get("/alerts", h.alerts)
		r.Get("/alerts/recent", h.alerts)
		r.Get("/zeek/logs/{type}", h.zeekLogs)

		r.Get("/stats/dns", h.statsDNS)
		r.Get("/stats/protocols", h.statsProtocols)
		r.Get("/stats/services", h.statsServices)
		r.Get("/stats/talkers", h.statsTalkers)
		r.Get("/stats/trends", h.statsTrends)

		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		// Mutations, admin only, throttled.
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Use(rateLimit(limiter))

			r.Patch("/config", h.configPatch)
			r.Post("/config/password", h.passwordChange)

			r.Post("/capture/start", h.captureStart)
			r.Post("/capture/stop", h.captureStop)
			r.Post("/capture/restart", h.captureRestart)

			r.Post("/system/service/{name}/{action}", h.serviceAction)
			r.Post("/system/reboot", h.reboot)

			r.Post("/retention/run", h.retentionRun)
		})
	})

	// Script passthroughs run as long as the helper's own deadline, up
	// to 90 s for the WiFi survey, so they sit outside the JSON timeout.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(deps.Gate))
		r.Use(middleware.Timeout(scriptEndpointTimeout))

		r.Get("/system/update/status", h.updateStatus)
		r.Get("/wifi/status", h.wifiStatus)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Use(rateLimit(limiter))
			r.Post("/system/update/check", h.updateCheck)
		})
	})

	// Mode switches orchestrate several 30 s service operations, so
	// they run under a wider deadline than the rest of the JSON API.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(deps.Gate))
		r.Use(requireAdmin)
		r.Use(rateLimit(limiter))
		r.Use(middleware.Timeout(modeSwitchTimeout))
		r.Post("/config/mode", h.modeSwitch)
	})

	// Download endpoint: authenticated but outside the JSON timeout so
	// large pcaps stream at client speed.
	r.Group(func(r chi.Router) {
		r.Use(basicAuth(deps.Gate))
		r.Get("/pcaps/*", h.pcapDownload)
	})

	return r
}
