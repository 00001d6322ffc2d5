package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/qcrawl/qcrawl/internal/types"
)

// BrowserHandler implements Handler via a headless Chromium instance
// (go-rod). Adapted from internal/fetcher/browser.go's BrowserFetcher
// (teacher): same launch flags, page pool, and navigate/wait-stable/
// eval/wait-selector sequence, generalized to the Handler interface's
// extraHeaders/timeout parameters instead of reading them off the config
// struct the teacher threaded through its constructor.
type BrowserHandler struct {
	browser  *rod.Browser
	stealth  bool
	pagePool chan *rod.Page
	maxPages int
	logger   *slog.Logger
}

// NewBrowserHandler launches a headless browser. Recognized settings keys:
// stealth (bool), max_pages (int, default 10), proxy (string), user_data_dir
// (string), window_size (string).
func NewBrowserHandler(settings map[string]any, logger *slog.Logger) (*BrowserHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &BrowserHandler{
		stealth:  boolSetting(settings, "stealth", false),
		maxPages: intSetting(settings, "max_pages", 10),
		logger:   logger.With("component", "browser_handler"),
	}

	launchURL, err := launchBrowser(settings)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	h.browser = browser
	h.pagePool = make(chan *rod.Page, h.maxPages)
	h.logger.Info("browser handler ready", "max_pages", h.maxPages, "stealth", h.stealth)
	return h, nil
}

func launchBrowser(settings map[string]any) (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-web-security").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")

	if proxy, ok := settings["proxy"].(string); ok && proxy != "" {
		l = l.Proxy(proxy)
	}
	if dir, ok := settings["user_data_dir"].(string); ok && dir != "" {
		l = l.UserDataDir(dir)
	}
	if size, ok := settings["window_size"].(string); ok && size != "" {
		l = l.Set("window-size", size)
	}

	return l.Launch()
}

// Fetch implements Handler.
func (h *BrowserHandler) Fetch(ctx context.Context, req *types.Request, spider types.Spider, extraHeaders http.Header, timeout time.Duration) (*types.Response, error) {
	start := time.Now()

	page, err := h.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: true}
	}
	defer h.putPage(page)

	if h.stealth {
		page, err = stealth.Page(h.browser)
		if err != nil {
			return nil, &types.FetchError{URL: req.URL(), Err: fmt.Errorf("stealth page: %w", err), Retryable: true}
		}
	}

	if ua := req.Headers.Get("User-Agent"); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			h.logger.Warn("failed to set user agent", "error", err)
		}
	}

	if headers := mergedExtraHeaders(req.Headers, extraHeaders); len(headers) > 0 {
		if _, err := page.SetExtraHeaders(headers); err != nil {
			h.logger.Warn("failed to set extra headers", "error", err)
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if err := page.Context(ctx).Timeout(timeout).Navigate(req.URL()); err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: true}
	}

	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		h.logger.Warn("page stability timeout, continuing", "url", req.URL(), "error", err)
	}

	if js, ok := req.Meta["js_eval"].(string); ok && js != "" {
		if _, err := page.Eval(js); err != nil {
			h.logger.Warn("js eval error", "url", req.URL(), "error", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	if sel, ok := req.Meta["wait_selector"].(string); ok && sel != "" {
		if err := page.Timeout(10 * time.Second).MustElement(sel).WaitVisible(); err != nil {
			h.logger.Warn("wait selector timeout", "selector", sel, "error", err)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: true}
	}

	finalURL := req.URL()
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	resp := types.NewBrowserResponse(req, 200, []byte(html), finalURL, duration)

	if cookies, _ := page.Cookies(nil); len(cookies) > 0 {
		resp.Meta["cookies"] = cookies
	}

	h.logger.Debug("browser fetch complete", "url", req.URL(), "final_url", finalURL, "size", len(html), "duration", duration)
	return resp, nil
}

// Close implements Handler.
func (h *BrowserHandler) Close() error {
	close(h.pagePool)
	for page := range h.pagePool {
		_ = page.Close()
	}
	if h.browser != nil {
		return h.browser.Close()
	}
	return nil
}

func (h *BrowserHandler) getPage() (*rod.Page, error) {
	select {
	case page := <-h.pagePool:
		return page, nil
	default:
		return h.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
}

func (h *BrowserHandler) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case h.pagePool <- page:
	default:
		_ = page.Close()
	}
}

func mergedExtraHeaders(reqHeaders, extra http.Header) []string {
	out := make([]string, 0, (len(reqHeaders)+len(extra))*2)
	add := func(hdrs http.Header) {
		for k, vals := range hdrs {
			if k == "User-Agent" {
				continue
			}
			for _, v := range vals {
				out = append(out, k, v)
			}
		}
	}
	add(reqHeaders)
	add(extra)
	return out
}
