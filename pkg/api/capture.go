package api

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/networktap/networktap/pkg/capture"
)

const (
	defaultPcapLimit = 50
	maxPcapLimit     = 500
)

func (h *handlers) captureStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Capture.Status(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, st, capture.ScanTTL)
}

func (h *handlers) captureStart(w http.ResponseWriter, r *http.Request) {
	st, err := h.Capture.Start(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	DataStatus(w, http.StatusAccepted, st)
}

func (h *handlers) captureStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.Capture.Stop(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, st)
}

func (h *handlers) captureRestart(w http.ResponseWriter, r *http.Request) {
	st, err := h.Capture.Restart(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	Data(w, st)
}

type pcapListBody struct {
	Files  []capture.Artifact `json:"files"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

func (h *handlers) pcapList(w http.ResponseWriter, r *http.Request) {
	offset, qerr := queryInt(r, "offset", 0)
	if qerr != nil {
		Fail(w, r, qerr)
		return
	}
	limit, qerr := queryInt(r, "limit", defaultPcapLimit)
	if qerr != nil {
		Fail(w, r, qerr)
		return
	}
	if limit < 1 {
		limit = defaultPcapLimit
	}
	if limit > maxPcapLimit {
		limit = maxPcapLimit
	}
	filter := r.URL.Query().Get("filter")

	files, total, err := h.Capture.List(offset, limit, filter)
	if err != nil {
		Fail(w, r, err)
		return
	}
	Cached(w, pcapListBody{Files: files, Total: total, Offset: offset, Limit: limit}, capture.ScanTTL)
}

func (h *handlers) pcapDownload(w http.ResponseWriter, r *http.Request) {
	// chi matches the wildcard against the raw path, so an encoded
	// traversal like ..%2F.. arrives still escaped. Decode before the
	// allow-list check so it sees the real separators.
	name, uerr := url.PathUnescape(chi.URLParam(r, "*"))
	if uerr != nil {
		Fail(w, r, Errf(KindValidation, "malformed file name"))
		return
	}
	if name == "" {
		Fail(w, r, Errf(KindValidation, "missing file name"))
		return
	}

	// Validate the range header shape before touching the file.
	if rng := r.Header.Get("Range"); rng != "" && !strings.HasPrefix(rng, "bytes=") {
		Fail(w, r, (&Error{Kind: KindValidation, Message: "unsupported range unit", status: http.StatusRequestedRangeNotSatisfiable}))
		return
	}

	f, art, err := h.Capture.Open(name)
	if err != nil {
		Fail(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(name)+`"`)
	http.ServeContent(w, r, name, art.ModTime, f)
}

func queryInt(r *http.Request, key string, def int) (int, *Error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, Errf(KindValidation, key+" must be a non-negative integer")
	}
	return n, nil
}
