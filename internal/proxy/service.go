package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"hls-relay/internal/credentials"
	"hls-relay/internal/hls"
	"hls-relay/internal/platform/metrics"
	"hls-relay/internal/upstream"
)

// mediaHeaders are copied from the origin response for piped bodies.
var mediaHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// Service fetches stream resources from origins and writes them to clients.
// It keeps no state between requests.
type Service struct {
	fetcher *upstream.Fetcher
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewService returns a Service. Metrics may be nil.
func NewService(fetcher *upstream.Fetcher, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{fetcher: fetcher, log: log, metrics: m}
}

// Relay fetches ref and answers the client. Playlists are buffered and
// rewritten so that every reference points back at proxyBase carrying bundle;
// everything else is piped through without buffering.
func (s *Service) Relay(w http.ResponseWriter, r *http.Request, ref hls.StreamReference, proxyBase string, bundle *credentials.Bundle) {
	header := s.fetcher.Header(r.Header, bundle)
	target := ref.URL.String()

	if ref.Kind == hls.KindPlaylist {
		// A partial playlist cannot be rewritten.
		header.Del("Range")
		text, err := s.fetcher.FetchText(r.Context(), target, header)
		if err != nil {
			s.upstreamFailed(w, r, err)
			return
		}
		s.writePlaylist(w, text, proxyBase, bundle)
		return
	}

	st, err := s.fetcher.Open(r.Context(), target, header)
	if err != nil {
		s.upstreamFailed(w, r, err)
		return
	}
	defer st.Body.Close()

	// Some origins serve playlists from extensionless URLs.
	if hls.IsPlaylistContentType(st.Header.Get("Content-Type")) {
		var text *upstream.Text
		if st.StatusCode == http.StatusPartialContent {
			st.Body.Close()
			header.Del("Range")
			text, err = s.fetcher.FetchText(r.Context(), target, header)
		} else {
			text, err = s.fetcher.Buffer(st)
		}
		if err != nil {
			s.upstreamFailed(w, r, err)
			return
		}
		s.writePlaylist(w, text, proxyBase, bundle)
		return
	}

	s.pipe(w, r, ref, st)
}

func (s *Service) writePlaylist(w http.ResponseWriter, text *upstream.Text, proxyBase string, bundle *credentials.Bundle) {
	rc := hls.RewriteContext{Origin: text.URL, ProxyBase: proxyBase, Credentials: bundle}
	out := rc.Rewrite(text.Body)

	info := hls.Inspect(text.Body)
	if s.metrics != nil {
		s.metrics.IncPlaylistsRewritten(info.Type)
	}
	s.log.Debug("playlist rewritten",
		slog.String("origin_host", text.URL.Host),
		slog.String("type", info.Type),
		slog.Int("variants", info.Variants),
		slog.Int("segments", info.Segments),
		slog.Bool("with_credentials", bundle != nil))

	w.Header().Set("Content-Type", hls.PlaylistContentType)
	if cc := text.Header.Get("Cache-Control"); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

// pipe streams the origin body to the client. The copy is paced by the
// client's reads, so a slow client slows the upstream transfer too.
func (s *Service) pipe(w http.ResponseWriter, r *http.Request, ref hls.StreamReference, st *upstream.Stream) {
	for _, k := range mediaHeaders {
		if v := st.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	if s.metrics != nil {
		s.metrics.StreamStarted()
		defer s.metrics.StreamFinished()
	}
	w.WriteHeader(st.StatusCode)

	src := &trackingReader{r: st.Body}
	dst := &flushWriter{w: w, rc: http.NewResponseController(w)}
	n, err := io.Copy(dst, src)
	if s.metrics != nil {
		s.metrics.AddSegmentBytes(n)
	}
	if err == nil {
		return
	}

	if src.err == nil || r.Context().Err() != nil {
		s.log.Debug("client went away mid-stream",
			slog.String("kind", ref.Kind.String()),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
		return
	}

	// Headers are gone; an error body would corrupt the media. Drop the
	// connection so the player sees a truncated transfer.
	s.log.Warn("upstream failed mid-stream",
		slog.String("origin_host", ref.URL.Host),
		slog.String("kind", ref.Kind.String()),
		slog.Int64("bytes", n),
		slog.String("error", src.err.Error()))
	if s.metrics != nil {
		s.metrics.IncUpstreamErrors("body")
	}
	panic(http.ErrAbortHandler)
}

func (s *Service) upstreamFailed(w http.ResponseWriter, r *http.Request, err error) {
	stage := "request"
	var se *upstream.StatusError
	switch {
	case errors.As(err, &se):
		stage = "status"
	case errors.Is(err, upstream.ErrPlaylistTooLarge):
		stage = "body"
	}
	if s.metrics != nil {
		s.metrics.IncUpstreamErrors(stage)
	}

	if r.Context().Err() != nil {
		s.log.Debug("client cancelled before upstream answered", slog.String("error", err.Error()))
	} else {
		s.log.Warn("upstream fetch failed", slog.String("stage", stage), slog.String("error", err.Error()))
	}
	writeError(w, http.StatusInternalServerError, "Proxy error", err.Error())
}

// trackingReader remembers the first read error so that upstream failures can
// be told apart from client write failures after io.Copy returns.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// flushWriter pushes every chunk to the client as soon as it is written, so
// live media is not held in the server's response buffer.
type flushWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
