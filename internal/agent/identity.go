package agent

import "sync"

// Identity is one browsing fingerprint: user agent, locale, and
// viewport. Rotated when the source starts blocking.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	ViewportWidth  int
	ViewportHeight int
}

// DefaultIdentities returns the built-in fingerprint set.
func DefaultIdentities() []Identity {
	return []Identity{
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.8",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			AcceptLanguage: "pt-BR,pt;q=0.8,en-US;q=0.6",
			ViewportWidth:  1680,
			ViewportHeight: 1050,
		},
		{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			AcceptLanguage: "pt-BR,pt;q=0.9",
			ViewportWidth:  1536,
			ViewportHeight: 864,
		},
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
			AcceptLanguage: "pt-BR,pt;q=0.9,en;q=0.7",
			ViewportWidth:  1366,
			ViewportHeight: 768,
		},
	}
}

// IdentityPool hands out fingerprints round-robin.
type IdentityPool struct {
	mu         sync.Mutex
	identities []Identity
	idx        int
}

// NewIdentityPool builds a pool; an empty slice falls back to the
// default set.
func NewIdentityPool(identities []Identity) *IdentityPool {
	if len(identities) == 0 {
		identities = DefaultIdentities()
	}
	return &IdentityPool{identities: identities}
}

// Current returns the active fingerprint.
func (p *IdentityPool) Current() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[p.idx]
}

// Rotate advances to the next fingerprint and returns it.
func (p *IdentityPool) Rotate() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.identities)
	return p.identities[p.idx]
}
