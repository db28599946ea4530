package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/stats"
)

// managedServices is the fixed set exposed over the API; arbitrary unit
// names are rejected to keep the adapter off-limits as a generic
// systemctl proxy.
var managedServices = map[string]string{
	"capture":  host.ServiceCapture,
	"suricata": host.ServiceSuricata,
	"zeek":     host.ServiceZeek,
	"web":      host.ServiceWeb,
}

type systemStatusBody struct {
	stats.SystemStatus
	Services []host.ServiceStatus `json:"services"`
	Mode     string               `json:"mode"`
	Degraded bool                 `json:"degraded"`
	History  []stats.Sample       `json:"history"`
}

func (h *handlers) systemStatus(w http.ResponseWriter, r *http.Request) {
	sys, err := h.Sampler.Current(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}

	services := make([]host.ServiceStatus, 0, len(managedServices))
	for _, unit := range []string{host.ServiceCapture, host.ServiceSuricata, host.ServiceZeek, host.ServiceWeb} {
		st, err := h.Host.ServiceStatus(r.Context(), unit)
		if err != nil {
			st = host.ServiceStatus{Name: unit, State: host.StateUnknown}
		}
		services = append(services, st)
	}

	ms := h.Mode.Status()
	Data(w, systemStatusBody{
		SystemStatus: sys,
		Services:     services,
		Mode:         string(ms.Mode),
		Degraded:     ms.Degraded,
		History:      h.Sampler.History(),
	})
}

func (h *handlers) systemHistory(w http.ResponseWriter, r *http.Request) {
	Data(w, h.Sampler.History())
}

func (h *handlers) systemInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.Host.ListInterfaces(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, ifaces)
}

func (h *handlers) serviceAction(w http.ResponseWriter, r *http.Request) {
	unit, ok := managedServices[chi.URLParam(r, "name")]
	if !ok {
		Fail(w, r, Errf(KindNotFound, "unknown service"))
		return
	}
	action := host.ServiceAction(chi.URLParam(r, "action"))
	if !action.Valid() || action == host.ActionReload {
		Fail(w, r, Errf(KindValidation, "action must be start, stop or restart"))
		return
	}

	if _, err := h.Host.ServiceAction(r.Context(), unit, action); err != nil {
		Fail(w, r, &Error{Kind: KindExternalCommand, Message: "service action failed", cause: err})
		return
	}
	st, err := h.Host.ServiceStatus(r.Context(), unit)
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, st)
}

// confirmRebootHeader must carry "yes" before a reboot is accepted.
const confirmRebootHeader = "X-Confirm-Reboot"

func (h *handlers) reboot(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(confirmRebootHeader) != "yes" {
		Fail(w, r, Errf(KindValidation, "reboot requires header "+confirmRebootHeader+": yes"))
		return
	}

	p, _ := PrincipalFrom(r.Context())
	logger.Warn("reboot requested", "user", p.User)

	if err := h.Host.Reboot(r.Context()); err != nil {
		Fail(w, r, &Error{Kind: KindExternalCommand, Message: "reboot failed", cause: err})
		return
	}
	DataStatus(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}
