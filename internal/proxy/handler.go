package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"hls-relay/internal/credentials"
	"hls-relay/internal/discovery"
	"hls-relay/internal/hls"
	"hls-relay/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const statusText = "HLS relay is running. Use /proxy?url=YOUR_URL"

var errBadScheme = errors.New("only absolute http and https URLs are accepted")

// Handler exposes the relay HTTP endpoints using go-chi.
type Handler struct {
	svc        *Service
	discoverer discovery.Discoverer
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewHandler returns a Handler. A nil discoverer disables the player-page
// endpoints; metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, d discovery.Discoverer, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, discoverer: d, log: log, metrics: m}
}

// Register mounts the relay routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.Status)
	r.Get("/proxy", h.Proxy)
	if h.discoverer != nil {
		r.Get("/extract", h.Extract)
		r.Get("/stream", h.Stream)
		r.Get("/stream/segment", h.Segment)
	}
}

// Status handles GET /.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, statusText)
}

// Proxy handles GET /proxy?url=<absolute URL>.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetParam(w, r, "url")
	if !ok {
		return
	}
	h.svc.Relay(w, r, hls.NewStreamReference(target), r.URL.Path, nil)
}

// extractResponse is the body of a successful GET /extract.
type extractResponse struct {
	StreamURL        string `json:"streamUrl"`
	CredentialBundle string `json:"credentialBundle"`
	Cookies          int    `json:"cookieCount"`
}

// Extract handles GET /extract?url=<player page URL>.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	page, ok := h.targetParam(w, r, "url")
	if !ok {
		return
	}
	res, ok := h.discover(w, r, page)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{
		StreamURL:        res.StreamURL,
		CredentialBundle: credentials.Encode(res.Credentials),
		Cookies:          len(res.Credentials.Cookies),
	})
}

// Stream handles GET /stream?url=<player page URL>: the discovered playlist is
// returned with its references pointing at /stream/segment.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	page, ok := h.targetParam(w, r, "url")
	if !ok {
		return
	}
	res, ok := h.discover(w, r, page)
	if !ok {
		return
	}
	target, err := parseTarget(res.StreamURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Discovery error", err.Error())
		return
	}
	// Discovered URLs are playlists even when the path hides the extension.
	ref := hls.StreamReference{URL: target, Kind: hls.KindPlaylist}
	h.svc.Relay(w, r, ref, r.URL.Path, &res.Credentials)
}

// Segment handles GET /stream/segment?segmentUrl=<URL>&cookies=<token>, the
// recursive entry for segments and nested playlists of a discovered stream.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	target, ok := h.targetParam(w, r, "segmentUrl")
	if !ok {
		return
	}
	token := r.URL.Query().Get("cookies")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing cookies query parameter", "")
		return
	}
	bundle, err := credentials.Decode(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Malformed cookies query parameter", err.Error())
		return
	}
	base := strings.TrimSuffix(r.URL.Path, "/segment")
	h.svc.Relay(w, r, hls.NewStreamReference(target), base, &bundle)
}

// discover runs the collaborator and writes the error response for every
// outcome other than Found.
func (h *Handler) discover(w http.ResponseWriter, r *http.Request, page *url.URL) (discovery.Result, bool) {
	res := h.discoverer.Discover(r.Context(), page.String())
	if h.metrics != nil {
		h.metrics.IncDiscovery(res.Outcome.String())
	}

	switch res.Outcome {
	case discovery.Found:
		h.log.Info("stream discovered",
			slog.String("page_host", page.Host),
			slog.Int("cookies", len(res.Credentials.Cookies)))
		return res, true
	case discovery.NotFound:
		h.log.Info("no stream on page", slog.String("page_host", page.Host))
		writeError(w, http.StatusNotFound, "No .m3u8 URL found on page", "")
	default:
		details := "discovery failed"
		if res.Err != nil {
			details = res.Err.Error()
		}
		h.log.Error("discovery failed",
			slog.String("page_host", page.Host),
			slog.String("outcome", res.Outcome.String()),
			slog.String("error", details))
		writeError(w, http.StatusInternalServerError, "Discovery error", details)
	}
	return res, false
}

// targetParam reads and validates an absolute http(s) URL query parameter,
// answering 400 itself when it is missing or unusable.
func (h *Handler) targetParam(w http.ResponseWriter, r *http.Request, name string) (*url.URL, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		h.log.Debug("rejected request", slog.String("param", name), slog.String("error", "missing"))
		writeError(w, http.StatusBadRequest, "Missing "+name+" query parameter", "")
		return nil, false
	}
	u, err := parseTarget(raw)
	if err != nil {
		h.log.Debug("rejected request", slog.String("param", name), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid "+name+" query parameter", err.Error())
		return nil, false
	}
	return u, true
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errBadScheme
	}
	return u, nil
}
