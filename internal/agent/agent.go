// Package agent abstracts the automated fetch session used by the URL
// processor: session initialization, page/tab handout, proxy feedback,
// and browsing-identity rotation on block signals. Two implementations
// exist, a chromedp-backed browser session and a colly-backed static
// fetcher.
package agent

import "context"

// Document is what a page navigation yields: the final URL, the HTTP
// status of the main document, and its HTML.
type Document struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
}

// Page is one tab/handle obtained from an Agent. It must be closed
// after use regardless of outcome.
type Page interface {
	Navigate(ctx context.Context, url string) (Document, error)
	Close(ctx context.Context) error
}

// Agent is the fetch session contract. Initialize is idempotent so a
// pre-initialized shared agent can be handed to many URL processors.
type Agent interface {
	Initialize(ctx context.Context) error
	NewPage(ctx context.Context) (Page, error)
	MarkSuccess(ctx context.Context)
	MarkFailure(ctx context.Context)
	RotateIdentity()
	Close(ctx context.Context) error
}

// Factory creates a fresh Agent per request in bounded-parallel runs.
type Factory func() Agent
