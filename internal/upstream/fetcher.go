package upstream

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultPlaylistTimeout       = 20 * time.Second
	DefaultIdleTimeout           = 30 * time.Second
	DefaultMaxPlaylistBytes      = 4 << 20
)

// ErrPlaylistTooLarge is returned when a buffered body exceeds MaxPlaylistBytes.
var ErrPlaylistTooLarge = errors.New("playlist exceeds size limit")

// StatusError is returned when the origin answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// Options configures a Fetcher. Zero durations fall back to the defaults.
type Options struct {
	Policy   HeaderPolicy
	Identity Identity // used with PolicyFixed

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	PlaylistTimeout       time.Duration
	IdleTimeout           time.Duration
	MaxPlaylistBytes      int64
}

func (o *Options) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.TLSHandshakeTimeout <= 0 {
		o.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if o.ResponseHeaderTimeout <= 0 {
		o.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if o.PlaylistTimeout <= 0 {
		o.PlaylistTimeout = DefaultPlaylistTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.MaxPlaylistBytes <= 0 {
		o.MaxPlaylistBytes = DefaultMaxPlaylistBytes
	}
}

// Fetcher performs GET requests against origins on behalf of proxy clients.
// It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New returns a Fetcher with its own connection pool.
//
// Certificate verification is disabled: proxied origins are third-party
// hosts outside the operator's control, many with self-signed or expired
// certificates. Traffic to origins is therefore not authenticated.
func New(opts Options) *Fetcher {
	opts.setDefaults()
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Fetcher{client: &http.Client{Transport: transport}, opts: opts}
}

// Policy returns the header policy this Fetcher applies.
func (f *Fetcher) Policy() HeaderPolicy {
	return f.opts.Policy
}

// Text is a fully buffered upstream response.
type Text struct {
	StatusCode int
	Header     http.Header
	// URL is the final URL after redirects; relative references resolve against it.
	URL  *url.URL
	Body string
}

// FetchText fetches target and reads the whole body as text, decoding gzip or
// brotli content encodings. The whole exchange is bounded by PlaylistTimeout.
func (f *Fetcher) FetchText(ctx context.Context, target string, header http.Header) (*Text, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.PlaylistTimeout)
	defer cancel()

	req, err := f.newRequest(ctx, target, header)
	if err != nil {
		return nil, err
	}
	// Setting Accept-Encoding disables the transport's transparent gzip.
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(body, f.opts.MaxPlaylistBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > f.opts.MaxPlaylistBytes {
		return nil, ErrPlaylistTooLarge
	}

	return &Text{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        resp.Request.URL,
		Body:       string(raw),
	}, nil
}

// Stream is a live upstream response. Body must be closed by the caller.
type Stream struct {
	StatusCode int
	Header     http.Header
	URL        *url.URL
	Body       io.ReadCloser
}

// Open starts fetching target and returns once response headers arrive. The
// body is not buffered: bytes are pulled from the origin only as the caller
// reads them. Cancelling ctx, closing Body, or going IdleTimeout without a
// successful read aborts the upstream request.
func (f *Fetcher) Open(ctx context.Context, target string, header http.Header) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(f.opts.IdleTimeout, cancel)

	req, err := f.newRequest(ctx, target, header)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}
	resp, err := f.do(req)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, err
	}

	timer.Reset(f.opts.IdleTimeout)
	return &Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		URL:        resp.Request.URL,
		Body: &idleReader{
			rc:      resp.Body,
			timer:   timer,
			timeout: f.opts.IdleTimeout,
			cancel:  cancel,
		},
	}, nil
}

// Buffer reads an opened stream to completion as playlist text, applying the
// same size cap as FetchText. It does not close st.Body.
func (f *Fetcher) Buffer(st *Stream) (*Text, error) {
	raw, err := io.ReadAll(io.LimitReader(st.Body, f.opts.MaxPlaylistBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > f.opts.MaxPlaylistBytes {
		return nil, ErrPlaylistTooLarge
	}
	return &Text{StatusCode: st.StatusCode, Header: st.Header, URL: st.URL, Body: string(raw)}, nil
}

func (f *Fetcher) newRequest(ctx context.Context, target string, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return req, nil
}

// do sends req and turns non-2xx answers into a *StatusError.
func (f *Fetcher) do(req *http.Request) (*http.Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Redacted()}
	}
	return resp, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

// idleReader cancels the request when no Read completes within timeout.
type idleReader struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.rc.Close()
	r.cancel()
	return err
}
