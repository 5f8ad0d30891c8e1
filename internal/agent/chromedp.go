package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserConfig controls the chromedp-backed agent.
type BrowserConfig struct {
	Headless   bool
	NavTimeout time.Duration
}

// BrowserAgent drives headless Chrome via chromedp. One agent is one
// browser process; pages are tabs. Identity rotation swaps the
// fingerprint applied to subsequent pages without restarting the
// browser.
type BrowserAgent struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	identities    *IdentityPool
	proxies       *ProxyPool
	currentProxy  string
	cfg           BrowserConfig
	logger        *zap.Logger
}

// NewBrowserAgent constructs an uninitialized browser agent.
func NewBrowserAgent(cfg BrowserConfig, identities *IdentityPool, proxies *ProxyPool, logger *zap.Logger) *BrowserAgent {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if identities == nil {
		identities = NewIdentityPool(nil)
	}
	return &BrowserAgent{
		identities: identities,
		proxies:    proxies,
		cfg:        cfg,
		logger:     logger,
	}
}

// Initialize launches the browser. Calling it on a live agent is a
// no-op so a shared pre-initialized agent can be reused.
func (a *BrowserAgent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browserCtx != nil {
		return nil
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(a.identities.Current().UserAgent),
	)
	if proxy, ok := a.proxies.Next(); ok {
		opts = append(opts, chromedp.ProxyServer(proxy))
		a.currentProxy = proxy
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser launch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser launch: %w", err)
	}

	a.allocCancel = allocCancel
	a.browserCtx = browserCtx
	a.browserCancel = browserCancel
	a.logger.Debug("browser session initialized", zap.String("proxy", a.currentProxy))
	return nil
}

// NewPage opens a fresh tab carrying the current fingerprint.
func (a *BrowserAgent) NewPage(ctx context.Context) (Page, error) {
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	tabCtx, cancelTab := chromedp.NewContext(a.browserCtx)
	identity := a.identities.Current()
	a.mu.Unlock()

	return &browserPage{
		tabCtx:   tabCtx,
		cancel:   cancelTab,
		identity: identity,
		timeout:  a.cfg.NavTimeout,
	}, nil
}

// MarkSuccess reports the current proxy healthy.
func (a *BrowserAgent) MarkSuccess(_ context.Context) {
	a.mu.Lock()
	proxy := a.currentProxy
	a.mu.Unlock()
	a.proxies.MarkSuccess(proxy)
}

// MarkFailure penalizes the current proxy.
func (a *BrowserAgent) MarkFailure(_ context.Context) {
	a.mu.Lock()
	proxy := a.currentProxy
	a.mu.Unlock()
	a.proxies.MarkFailure(proxy)
}

// RotateIdentity swaps the fingerprint used by later pages.
func (a *BrowserAgent) RotateIdentity() {
	next := a.identities.Rotate()
	a.logger.Info("rotated browsing identity", zap.String("user_agent", next.UserAgent))
}

// Close tears the browser down. Safe to call on an uninitialized agent.
func (a *BrowserAgent) Close(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browserCancel != nil {
		a.browserCancel()
		a.browserCancel = nil
	}
	if a.allocCancel != nil {
		a.allocCancel()
		a.allocCancel = nil
	}
	a.browserCtx = nil
	return nil
}

type browserPage struct {
	tabCtx   context.Context
	cancel   context.CancelFunc
	identity Identity
	timeout  time.Duration
}

// Navigate loads the URL and returns the rendered document plus the
// main document's HTTP status captured from the network events.
func (p *browserPage) Navigate(ctx context.Context, rawURL string) (Document, error) {
	taskCtx, cancelTask := context.WithTimeout(p.tabCtx, p.timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	recordResponse(p.tabCtx, meta)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.identity.UserAgent).
			WithAcceptLanguage(p.identity.AcceptLanguage),
		chromedp.EmulateViewport(int64(p.identity.ViewportWidth), int64(p.identity.ViewportHeight)),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return Document{}, fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	status := meta.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	return Document{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: status,
		HTML:       html,
	}, nil
}

func (p *browserPage) Close(_ context.Context) error {
	p.cancel()
	return nil
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
