package agent

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultProxyMaxFailures = 3

// proxyState tracks one upstream proxy's health.
type proxyState struct {
	url       string
	failures  int
	retired   bool
	coolUntil time.Time
}

// ProxyPool rotates upstream proxies and penalizes the ones the source
// blocks. A proxy is cooled down after each failure and retired once
// it exceeds the failure budget. All methods are nil-safe so agents
// can run proxyless.
type ProxyPool struct {
	mu          sync.Mutex
	proxies     []*proxyState
	idx         int
	maxFailures int
	cooldown    time.Duration
	logger      *zap.Logger
}

// NewProxyPool builds a pool from proxy URLs. Returns nil when the
// list is empty, which disables proxying entirely.
func NewProxyPool(urls []string, maxFailures int, cooldown time.Duration, logger *zap.Logger) *ProxyPool {
	if len(urls) == 0 {
		return nil
	}
	if maxFailures <= 0 {
		maxFailures = defaultProxyMaxFailures
	}
	states := make([]*proxyState, 0, len(urls))
	for _, u := range urls {
		states = append(states, &proxyState{url: u})
	}
	return &ProxyPool{
		proxies:     states,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		logger:      logger,
	}
}

// Next returns the next usable proxy URL, skipping retired and cooling
// proxies. ok is false when none is available.
func (p *ProxyPool) Next() (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for range p.proxies {
		state := p.proxies[p.idx]
		p.idx = (p.idx + 1) % len(p.proxies)
		if state.retired || now.Before(state.coolUntil) {
			continue
		}
		return state.url, true
	}
	return "", false
}

// MarkSuccess resets the failure count for the proxy.
func (p *ProxyPool) MarkSuccess(proxyURL string) {
	if p == nil || proxyURL == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if state := p.find(proxyURL); state != nil {
		state.failures = 0
	}
}

// MarkFailure penalizes the proxy: cooldown now, retirement once the
// failure budget runs out.
func (p *ProxyPool) MarkFailure(proxyURL string) {
	if p == nil || proxyURL == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.find(proxyURL)
	if state == nil {
		return
	}
	state.failures++
	state.coolUntil = time.Now().Add(p.cooldown)
	if state.failures >= p.maxFailures && !state.retired {
		state.retired = true
		p.logger.Warn("proxy retired after repeated failures",
			zap.String("proxy", proxyURL),
			zap.Int("failures", state.failures),
		)
	}
}

// Usable reports how many proxies are neither retired nor cooling.
func (p *ProxyPool) Usable() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	n := 0
	for _, state := range p.proxies {
		if !state.retired && !now.Before(state.coolUntil) {
			n++
		}
	}
	return n
}

func (p *ProxyPool) find(proxyURL string) *proxyState {
	for _, state := range p.proxies {
		if state.url == proxyURL {
			return state
		}
	}
	return nil
}
