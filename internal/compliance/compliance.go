// Package compliance gates every fetch: private-data classification,
// robots.txt enforcement, and per-domain rate limiting.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// privatePathMarkers flag URL paths that likely expose personal or
// account-scoped data. Such URLs are never fetched.
var privatePathMarkers = []string{
	"login",
	"signin",
	"logout",
	"account",
	"minha-conta",
	"profile",
	"password",
	"checkout",
	"admin",
}

// Config holds compliance knobs.
type Config struct {
	// RespectRobots toggles robots.txt enforcement. Off means CanFetch
	// always allows.
	RespectRobots bool
	// RequestsPerSecond is the per-domain admission rate. Zero or
	// negative means unlimited.
	RequestsPerSecond float64
	// Burst is the per-domain token bucket size, minimum 1.
	Burst int
}

// Manager implements the compliance gate consumed by the URL processor.
type Manager struct {
	respect      bool
	client       *http.Client
	robotsCache  sync.Map
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	logger       *zap.Logger
}

// New builds a Manager.
func New(cfg Config, logger *zap.Logger) *Manager {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Manager{
		respect: cfg.RespectRobots,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		logger:       logger,
	}
}

// IsPublicData reports whether the URL plausibly serves public listing
// data rather than personal or account-scoped pages.
func (m *Manager) IsPublicData(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	lowerPath := strings.ToLower(parsed.Path)
	for _, marker := range privatePathMarkers {
		if strings.Contains(lowerPath, marker) {
			return false
		}
	}
	return true
}

// CanFetch checks robots.txt for the configured identity. Robots fetch
// failures allow access: the policy file being unreachable must not
// stall the run.
func (m *Manager) CanFetch(ctx context.Context, rawURL, userAgent string) bool {
	if !m.respect {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := m.loadRobots(ctx, parsed, userAgent)
	if err != nil {
		m.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// WaitForRateLimit blocks until the domain's token bucket admits the
// request, or the context finishes.
func (m *Manager) WaitForRateLimit(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if parsed, err := url.Parse(rawURL); err == nil {
		domain = parsed.Hostname()
	}
	m.mu.Lock()
	limiter, exists := m.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(m.defaultRate, m.defaultBurst)
		m.limiters[domain] = limiter
	}
	m.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (m *Manager) loadRobots(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := m.robotsCache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			m.logger.Debug("close robots response body failed", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	m.robotsCache.Store(hostKey, data)
	return data, nil
}
