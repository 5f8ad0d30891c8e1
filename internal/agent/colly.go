package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StaticConfig controls the colly-backed agent.
type StaticConfig struct {
	RequestTimeout time.Duration
	Parallelism    int
}

// StaticAgent fetches pages without a JS runtime via a shared Colly
// collector. Useful where the source serves listings server-side and
// a full browser is not worth the cost.
type StaticAgent struct {
	mu           sync.Mutex
	base         *colly.Collector
	identities   *IdentityPool
	proxies      *ProxyPool
	currentProxy string
	cfg          StaticConfig
	logger       *zap.Logger
}

// NewStaticAgent constructs an uninitialized static agent.
func NewStaticAgent(cfg StaticConfig, identities *IdentityPool, proxies *ProxyPool, logger *zap.Logger) *StaticAgent {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if identities == nil {
		identities = NewIdentityPool(nil)
	}
	return &StaticAgent{
		identities: identities,
		proxies:    proxies,
		cfg:        cfg,
		logger:     logger,
	}
}

// Initialize builds the base collector. Idempotent.
func (a *StaticAgent) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.base != nil {
		return nil
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(a.identities.Current().UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: a.cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(a.cfg.RequestTimeout)
	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: a.cfg.Parallelism,
	}); err != nil {
		return fmt.Errorf("collector limit rule: %w", err)
	}
	if proxy, ok := a.proxies.Next(); ok {
		if err := base.SetProxy(proxy); err != nil {
			return fmt.Errorf("collector proxy: %w", err)
		}
		a.currentProxy = proxy
	}

	a.base = base
	a.logger.Debug("static fetch session initialized", zap.String("proxy", a.currentProxy))
	return nil
}

// NewPage hands out a cloned collector acting as one logical page.
func (a *StaticAgent) NewPage(ctx context.Context) (Page, error) {
	if err := a.Initialize(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	collector := a.base.Clone()
	collector.UserAgent = a.identities.Current().UserAgent
	a.mu.Unlock()
	return &staticPage{collector: collector}, nil
}

// MarkSuccess reports the current proxy healthy.
func (a *StaticAgent) MarkSuccess(_ context.Context) {
	a.mu.Lock()
	proxy := a.currentProxy
	a.mu.Unlock()
	a.proxies.MarkSuccess(proxy)
}

// MarkFailure penalizes the current proxy.
func (a *StaticAgent) MarkFailure(_ context.Context) {
	a.mu.Lock()
	proxy := a.currentProxy
	a.mu.Unlock()
	a.proxies.MarkFailure(proxy)
}

// RotateIdentity swaps the user agent applied to later pages.
func (a *StaticAgent) RotateIdentity() {
	next := a.identities.Rotate()
	a.mu.Lock()
	if a.base != nil {
		a.base.UserAgent = next.UserAgent
	}
	a.mu.Unlock()
	a.logger.Info("rotated browsing identity", zap.String("user_agent", next.UserAgent))
}

// Close drops the collector.
func (a *StaticAgent) Close(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base = nil
	return nil
}

type staticPage struct {
	collector *colly.Collector
}

type staticResult struct {
	doc Document
	err error
}

// Navigate fetches the URL. Block statuses surface in the error text
// so the processor's 403/429 detection fires for static fetches too.
func (p *staticPage) Navigate(ctx context.Context, rawURL string) (Document, error) {
	resultCh := make(chan staticResult, 1)
	var once sync.Once
	send := func(res staticResult) {
		once.Do(func() { resultCh <- res })
	}

	collector := p.collector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		send(staticResult{doc: Document{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
		}})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode > 0 {
			err = fmt.Errorf("HTTP %d %s: %w", r.StatusCode, http.StatusText(r.StatusCode), err)
		}
		send(staticResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return Document{}, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		if res.err != nil {
			return Document{}, fmt.Errorf("fetch %s: %w", rawURL, res.err)
		}
		return res.doc, nil
	default:
		return Document{}, fmt.Errorf("fetch %s produced no result", rawURL)
	}
}

func (p *staticPage) Close(_ context.Context) error {
	return nil
}
