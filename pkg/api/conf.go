package api

import (
	"encoding/json"
	"net/http"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/config"
)

func (h *handlers) configGet(w http.ResponseWriter, r *http.Request) {
	Data(w, h.Store.View())
}

// configPatch applies a validated KEY=VALUE patch. Mode and credential
// keys have dedicated endpoints and are rejected here.
func (h *handlers) configPatch(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		Fail(w, r, Errf(KindValidation, "body must be a JSON object of config keys"))
		return
	}
	if len(patch) == 0 {
		Fail(w, r, Errf(KindValidation, "empty patch"))
		return
	}
	for key := range patch {
		switch key {
		case config.KeyMode:
			Fail(w, r, Errf(KindValidation, "use POST /config/mode to change the mode"))
			return
		case config.KeyWebPassHash, config.KeyWebPassSalt:
			Fail(w, r, Errf(KindValidation, "use POST /config/password to change credentials"))
			return
		}
	}

	if _, err := h.Store.Update(patch); err != nil {
		Fail(w, r, err)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	logger.Info("config updated", "user", p.User, "keys", keys)
	Data(w, h.Store.View())
}

func (h *handlers) modeGet(w http.ResponseWriter, r *http.Request) {
	Data(w, h.Mode.Status())
}

type modeSwitchRequest struct {
	Mode string `json:"mode"`
}

func (h *handlers) modeSwitch(w http.ResponseWriter, r *http.Request) {
	var req modeSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		Fail(w, r, Errf(KindValidation, `body must be {"mode": "span"|"bridge"}`))
		return
	}

	res, err := h.Mode.Switch(r.Context(), config.Mode(req.Mode))
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, res)
}

type passwordChangeRequest struct {
	Password string `json:"password"`
}

const minPasswordLen = 8

func (h *handlers) passwordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Fail(w, r, Errf(KindValidation, `body must be {"password": "..."}`))
		return
	}
	if len(req.Password) < minPasswordLen {
		Fail(w, r, Errf(KindValidation, "password must be at least 8 characters"))
		return
	}

	salt, hash, err := auth.HashPassword(req.Password)
	if err != nil {
		Fail(w, r, err)
		return
	}
	if _, err := h.Store.Update(map[string]string{
		config.KeyWebPassSalt: salt,
		config.KeyWebPassHash: hash,
	}); err != nil {
		Fail(w, r, err)
		return
	}

	p, _ := PrincipalFrom(r.Context())
	logger.Info("password rotated", "user", p.User)
	Data(w, map[string]string{"status": "password updated"})
}
