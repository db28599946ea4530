package api

import (
	"net/http"

	"github.com/networktap/networktap/pkg/stats"
)

func (h *handlers) statsDNS(w http.ResponseWriter, r *http.Request) {
	st, err := h.Zeek.DNS()
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, st, stats.ZeekTTL)
}

func (h *handlers) statsProtocols(w http.ResponseWriter, r *http.Request) {
	protos, err := h.Zeek.Protocols()
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, protos, stats.ZeekTTL)
}

func (h *handlers) statsServices(w http.ResponseWriter, r *http.Request) {
	svcs, err := h.Zeek.Services()
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, svcs, stats.ZeekTTL)
}

func (h *handlers) statsTalkers(w http.ResponseWriter, r *http.Request) {
	talkers, err := h.Zeek.Talkers()
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, talkers, stats.ZeekTTL)
}

func (h *handlers) statsTrends(w http.ResponseWriter, r *http.Request) {
	points, err := h.Zeek.Trends()
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, points, stats.ZeekTTL)
}
