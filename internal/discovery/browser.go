package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"hls-relay/internal/credentials"
	"hls-relay/internal/upstream"
)

const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultSettle            = 8 * time.Second
)

// domProbe looks for a stream URL in the rendered page: the video element,
// an hls.js instance, then inline script text.
const domProbe = `(function() {
	var v = document.querySelector('video');
	if (v && v.src && v.src.indexOf('.m3u8') !== -1) return v.src;
	var s = document.querySelector('video source');
	if (s && s.src && s.src.indexOf('.m3u8') !== -1) return s.src;
	if (window.hls && window.hls.url) return String(window.hls.url);
	var scripts = document.scripts;
	for (var i = 0; i < scripts.length; i++) {
		var m = (scripts[i].textContent || '').match(/(https?:\/\/[^'"\s]+\.m3u8[^'"\s]*)/);
		if (m) return m[1];
	}
	return '';
})()`

// BrowserOptions configures a Browser.
type BrowserOptions struct {
	ExecPath          string // empty: let chromedp locate Chrome
	UserAgent         string
	NavigationTimeout time.Duration
	Settle            time.Duration
}

// Browser discovers streams by loading player pages in headless Chrome. Each
// Discover call runs in a fresh browser process with its own profile, so
// sessions never share cookies.
type Browser struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	opts     BrowserOptions
	log      *slog.Logger
}

// NewBrowser prepares an allocator. Chrome is not started until the first
// Discover call. Close releases it.
func NewBrowser(opts BrowserOptions, log *slog.Logger) *Browser {
	if opts.UserAgent == "" {
		opts.UserAgent = upstream.DefaultUserAgent
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if log == nil {
		log = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &Browser{allocCtx: allocCtx, cancel: cancel, opts: opts, log: log}
}

// Close shuts down any running browser processes.
func (b *Browser) Close() {
	b.cancel()
}

// Discover implements Discoverer.
func (b *Browser) Discover(ctx context.Context, pageURL string) Result {
	tabCtx, closeTab := chromedp.NewContext(b.allocCtx)
	defer closeTab()
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, b.opts.NavigationTimeout+b.opts.Settle+5*time.Second)
	defer cancel()

	found := make(chan string, 1)
	offer := func(u string) {
		if isStreamURL(u) {
			select {
			case found <- u:
			default:
			}
		}
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			offer(e.Request.URL)
		case *network.EventResponseReceived:
			offer(e.Response.URL)
		}
	})

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		return failure(ctx, fmt.Errorf("start browser: %w", err))
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, b.opts.NavigationTimeout)
	err := chromedp.Run(navCtx, chromedp.Navigate(pageURL))
	navCancel()
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && tabCtx.Err() == nil:
		// Slow pages often start the player before the load event; keep
		// listening and fall back to the DOM below.
		b.log.Debug("navigation timed out, continuing", slog.String("page_url", pageURL))
	default:
		return failure(ctx, fmt.Errorf("navigate: %w", err))
	}

	var streamURL string
	settle := time.NewTimer(b.opts.Settle)
	defer settle.Stop()
	select {
	case streamURL = <-found:
	case <-settle.C:
	case <-tabCtx.Done():
		return failure(ctx, tabCtx.Err())
	}

	if streamURL == "" {
		var src string
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(domProbe, &src)); err != nil {
			return failure(ctx, fmt.Errorf("inspect page: %w", err))
		}
		if isStreamURL(src) {
			streamURL = src
		}
	}
	if streamURL == "" {
		return Result{Outcome: NotFound}
	}

	var cookies []*network.Cookie
	if err := chromedp.Run(tabCtx, readCookies(cookieParams(pageURL, streamURL), &cookies)); err != nil {
		return failure(ctx, fmt.Errorf("read cookies: %w", err))
	}

	bundle := credentials.Bundle{UserAgent: b.opts.UserAgent, Referer: pageURL}
	seen := make(map[credentials.Cookie]bool, len(cookies))
	for _, c := range cookies {
		ck := credentials.Cookie{Name: c.Name, Value: c.Value}
		if seen[ck] {
			continue
		}
		seen[ck] = true
		bundle.Cookies = append(bundle.Cookies, ck)
	}
	return Result{Outcome: Found, StreamURL: streamURL, Credentials: bundle}
}

// cookieParams asks for the cookies the browser would send to the page and
// to the stream host.
func cookieParams(pageURL, streamURL string) *network.GetCookiesParams {
	return network.GetCookies().WithUrls([]string{pageURL, streamURL})
}

func readCookies(params *network.GetCookiesParams, out *[]*network.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := params.Do(ctx)
		if err != nil {
			return err
		}
		*out = cookies
		return nil
	})
}

// failure classifies err. Cancellation of the caller's ctx is always fatal.
func failure(ctx context.Context, err error) Result {
	if ctx.Err() == nil && isTransient(err) {
		return Result{Outcome: TransientFailure, Err: err}
	}
	return Result{Outcome: FatalFailure, Err: err}
}

// isTransient reports errors caused by the page tearing down its frame or
// execution context while it was being inspected.
func isTransient(err error) bool {
	if errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidTarget) {
		return true
	}
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		msg := strings.ToLower(cdpErr.Message)
		return strings.Contains(msg, "execution context was destroyed") ||
			strings.Contains(msg, "cannot find context") ||
			strings.Contains(msg, "detached")
	}
	return false
}

func isStreamURL(raw string) bool {
	if !strings.Contains(strings.ToLower(raw), ".m3u8") {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
