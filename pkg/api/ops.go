package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/networktap/networktap/pkg/host"
)

// Script passthrough endpoints. These forward to the helper scripts
// with no in-core logic beyond timeout selection and result shaping.

type scriptBody struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

func (h *handlers) runScript(w http.ResponseWriter, r *http.Request, script string, timeout time.Duration) {
	res, err := h.Host.RunScript(r.Context(), script, nil, timeout)
	if err != nil {
		Fail(w, r, &Error{Kind: KindExternalCommand, Message: script + " failed", cause: err})
		return
	}
	Data(w, scriptBody{
		ExitCode: res.ExitCode,
		Output:   strings.TrimSpace(res.Stdout),
	})
}

func (h *handlers) updateCheck(w http.ResponseWriter, r *http.Request) {
	h.runScript(w, r, host.ScriptUpdateCheck, host.ScriptTimeout)
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	h.runScript(w, r, host.ScriptUpdateStatus, host.ScriptTimeout)
}

func (h *handlers) wifiStatus(w http.ResponseWriter, r *http.Request) {
	h.runScript(w, r, host.ScriptWifiStatus, host.SurveyTimeout)
}

func (h *handlers) retentionRun(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Retention.Run(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, rep)
}
