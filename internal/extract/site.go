package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/agent"
	"github.com/kauaDaviAmaro/listing-harvester/internal/listing"
)

// SiteConfig identifies the listing source's URL shapes and pagination
// query parameter.
type SiteConfig struct {
	// ListingURLMarker marks individual record pages, e.g. "/imovel/".
	ListingURLMarker string
	// PageParam is the search pagination query parameter.
	PageParam string
}

// SiteExtractor parses the source's listing cards and record pages
// with goquery selectors.
type SiteExtractor struct {
	cfg    SiteConfig
	logger *zap.Logger
}

// NewSiteExtractor builds the extractor.
func NewSiteExtractor(cfg SiteConfig, logger *zap.Logger) *SiteExtractor {
	if cfg.PageParam == "" {
		cfg.PageParam = "pagina"
	}
	return &SiteExtractor{cfg: cfg, logger: logger}
}

var digitsRe = regexp.MustCompile(`\d+`)

// ScrapeListing implements Extractor.
func (e *SiteExtractor) ScrapeListing(ctx context.Context, page agent.Page, rawURL string, deep bool) (listing.Record, error) {
	doc, err := page.Navigate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if doc.StatusCode >= 400 {
		return listing.Record{
			listing.FieldURL:   listing.Text(rawURL),
			listing.FieldError: listing.Text(fmt.Sprintf("HTTP %d %s", doc.StatusCode, http.StatusText(doc.StatusCode))),
		}, nil
	}

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	rec := listing.Record{listing.FieldURL: listing.Text(rawURL)}
	setText(rec, "title", firstText(parsed, `h1[data-testid="listing-title"]`, "h1"))
	setText(rec, "price", firstText(parsed, `[data-testid="price-value"]`, ".price__value"))
	setText(rec, "location", firstText(parsed, `[data-testid="listing-address"]`, ".address"))
	setNumber(rec, "area", firstText(parsed, `[itemprop="floorSize"]`, `[data-testid="area"]`))
	setNumber(rec, "bedrooms", firstText(parsed, `[itemprop="numberOfRooms"]`, `[data-testid="bedrooms"]`))
	setNumber(rec, "bathrooms", firstText(parsed, `[itemprop="numberOfBathroomsTotal"]`, `[data-testid="bathrooms"]`))
	if imgs := imageURLs(parsed, doc.FinalURL); len(imgs) > 0 {
		rec["images"] = listing.List(imgs...)
	}

	if deep {
		e.parseDeepFields(parsed, rec)
	}
	return rec, nil
}

// parseDeepFields fills the enrichment indicator fields only a record
// page exposes.
func (e *SiteExtractor) parseDeepFields(parsed *goquery.Document, rec listing.Record) {
	setText(rec, "full_address", firstText(parsed, `[data-testid="full-address"]`, `address`))
	setText(rec, "full_description", firstText(parsed, `[data-testid="description-content"]`, `.description__text`))
	setText(rec, "advertiser_name", firstText(parsed, `[data-testid="advertiser-name"]`, `.advertiser-info__name`))
	setText(rec, "advertiser_code", firstText(parsed, `[data-testid="advertiser-code"]`))
	setText(rec, "zap_code", firstText(parsed, `[data-testid="listing-code"]`, `.listing-code`))
	setText(rec, "phone_partial", firstText(parsed, `[data-testid="phone-partial"]`))
	rec["has_whatsapp"] = listing.Bool(parsed.Find(`[data-testid="whatsapp-button"]`).Length() > 0)
	setText(rec, "iptu", firstText(parsed, `[data-testid="iptu-value"]`, `.iptu`))
	setText(rec, "condo_fee", firstText(parsed, `[data-testid="condo-fee-value"]`, `.condominium`))
	setNumber(rec, "suites", firstText(parsed, `[data-testid="suites"]`))
	setText(rec, "floor_level", firstText(parsed, `[data-testid="floor-level"]`))
}

// ScrapeSearchResults implements Extractor. Pagination is sequential,
// so page callbacks for one search URL always arrive in page order.
func (e *SiteExtractor) ScrapeSearchResults(ctx context.Context, page agent.Page, rawURL string, maxPages int, pageFn PageFunc) ([]listing.Record, error) {
	if maxPages <= 0 {
		maxPages = 1
	}

	var all []listing.Record
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		pageURL, err := e.pageURL(rawURL, pageNum)
		if err != nil {
			return all, fmt.Errorf("build page url: %w", err)
		}
		doc, err := page.Navigate(ctx, pageURL)
		if err != nil {
			if pageNum == 1 {
				return nil, err
			}
			e.logger.Warn("pagination stopped on navigation failure",
				zap.String("url", pageURL), zap.Int("page", pageNum), zap.Error(err))
			break
		}
		if doc.StatusCode >= 400 {
			statusErr := fmt.Errorf("HTTP %d %s on %s", doc.StatusCode, http.StatusText(doc.StatusCode), pageURL)
			if pageNum == 1 {
				return nil, statusErr
			}
			e.logger.Warn("pagination stopped", zap.Error(statusErr))
			break
		}

		records, err := e.parseSearchPage(doc)
		if err != nil {
			return all, err
		}
		if len(records) == 0 {
			e.logger.Debug("no listing cards; pagination complete",
				zap.String("url", rawURL), zap.Int("page", pageNum))
			break
		}

		if pageFn != nil {
			if err := pageFn(ctx, pageNum, records, rawURL); err != nil {
				return all, fmt.Errorf("page callback: %w", err)
			}
		}
		all = append(all, records...)
	}
	return all, nil
}

func (e *SiteExtractor) parseSearchPage(doc agent.Document) ([]listing.Record, error) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse search page %s: %w", doc.URL, err)
	}

	base, _ := url.Parse(doc.FinalURL)
	var records []listing.Record
	parsed.Find(`[data-type="property"], article.listing-card`).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find(fmt.Sprintf(`a[href*=%q]`, e.cfg.ListingURLMarker)).Attr("href")
		if !ok {
			href, ok = card.Find("a").Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		rec := listing.Record{listing.FieldURL: listing.Text(absoluteURL(base, href))}
		setText(rec, "title", cardText(card, `h2`, `[data-testid="card-title"]`))
		setText(rec, "price", cardText(card, `[data-testid="card-price"]`, ".listing-price"))
		setText(rec, "location", cardText(card, `[data-testid="card-address"]`, ".card-address"))
		setNumber(rec, "area", cardText(card, `[data-testid="card-area"]`))
		setNumber(rec, "bedrooms", cardText(card, `[data-testid="card-bedrooms"]`))
		setNumber(rec, "bathrooms", cardText(card, `[data-testid="card-bathrooms"]`))
		if src, ok := card.Find("img").Attr("src"); ok && strings.TrimSpace(src) != "" {
			rec["images"] = listing.List(absoluteURL(base, src))
		}
		records = append(records, rec)
	})
	return records, nil
}

// DeepScrapeListings implements Extractor. Failures on one record
// never stop the pass; the shallow record survives in the output.
func (e *SiteExtractor) DeepScrapeListings(ctx context.Context, page agent.Page, records []listing.Record, saveFn SaveFunc) ([]listing.Record, error) {
	out := make([]listing.Record, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		recURL := rec.URL()
		if recURL == "" {
			out = append(out, rec)
			continue
		}

		deepRec, err := e.ScrapeListing(ctx, page, recURL, true)
		if err != nil {
			e.logger.Warn("deep scrape failed", zap.String("url", recURL), zap.Error(err))
			out = append(out, rec)
			continue
		}
		if deepRec.ErrorText() != "" {
			e.logger.Warn("deep scrape returned error page",
				zap.String("url", recURL), zap.String("error", deepRec.ErrorText()))
			out = append(out, rec)
			continue
		}
		if saveFn != nil {
			if err := saveFn(ctx, deepRec); err != nil {
				e.logger.Error("enrichment save callback failed", zap.String("url", recURL), zap.Error(err))
			}
		}
		out = append(out, deepRec)
	}
	return out, nil
}

func (e *SiteExtractor) pageURL(rawURL string, pageNum int) (string, error) {
	if pageNum <= 1 {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set(e.cfg.PageParam, strconv.Itoa(pageNum))
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func cardText(card *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(card.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func setText(rec listing.Record, field, text string) {
	if text == "" {
		return
	}
	rec[field] = listing.Text(text)
}

func setNumber(rec listing.Record, field, text string) {
	match := digitsRe.FindString(text)
	if match == "" {
		return
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return
	}
	rec[field] = listing.Number(n)
}

func imageURLs(doc *goquery.Document, finalURL string) []string {
	base, _ := url.Parse(finalURL)
	var urls []string
	doc.Find(`[data-testid="gallery"] img, .carousel img`).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			urls = append(urls, absoluteURL(base, src))
		}
	})
	return urls
}

func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
