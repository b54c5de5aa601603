package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
	"github.com/tieubaoca/jwt-assistant-be/utils"
)

const (
	scraperUserAgent = "Mozilla/5.0 (JWT Documentation Aggregator)"
	maxPageSize      = int64(5 * 1024 * 1024)
	minSectionChars  = 100
	scrapeWorkers    = 4
)

var (
	sectionClassRe = regexp.MustCompile(`section|chapter`)
	contentClassRe = regexp.MustCompile(`content|main|article`)
)

// Source is a page the scraper knows how to attribute.
type Source struct {
	URL      string
	Type     string
	Name     string
	Priority string
}

var DefaultSources = []Source{
	{URL: "https://datatracker.ietf.org/doc/html/rfc7519", Type: "specification", Name: "RFC 7519 - JSON Web Token (JWT)", Priority: "critical"},
	{URL: "https://datatracker.ietf.org/doc/html/rfc7515", Type: "specification", Name: "RFC 7515 - JSON Web Signature (JWS)", Priority: "critical"},
	{URL: "https://datatracker.ietf.org/doc/html/rfc7516", Type: "specification", Name: "RFC 7516 - JSON Web Encryption (JWE)", Priority: "critical"},
	{URL: "https://datatracker.ietf.org/doc/html/rfc7517", Type: "specification", Name: "RFC 7517 - JSON Web Key (JWK)", Priority: "critical"},
	{URL: "https://datatracker.ietf.org/doc/html/rfc7518", Type: "specification", Name: "RFC 7518 - JSON Web Algorithms (JWA)", Priority: "critical"},
	{URL: "https://jwt.io/introduction", Type: "documentation", Name: "JWT.io - Introduction", Priority: "high"},
	{URL: "https://cheatsheetseries.owasp.org/cheatsheets/JSON_Web_Token_for_Java_Cheat_Sheet.html", Type: "security", Name: "OWASP - JWT Cheat Sheet", Priority: "high"},
}

// Fetcher retrieves the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher is a polite HTTP client: every request waits on a shared
// token bucket.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPFetcher(timeout time.Duration, requestsPerSecond float64) *HTTPFetcher {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", scraperUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("failed to fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", pageURL, err)
	}
	return string(body), nil
}

// WebScraper turns authoritative JWT pages into attributed documents. A URL
// is scraped successfully at most once per scraper.
type WebScraper struct {
	fetcher    Fetcher
	maxRetries int
	backoff    func(attempt int) time.Duration
	now        func() time.Time

	mu      sync.Mutex
	scraped map[string]struct{}
}

func NewWebScraper(fetcher Fetcher, maxRetries int) *WebScraper {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &WebScraper{
		fetcher:    fetcher,
		maxRetries: maxRetries,
		backoff:    exponentialBackoff,
		now:        time.Now,
		scraped:    make(map[string]struct{}),
	}
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// ScrapeAllSources scrapes DefaultSources concurrently. A failing source
// contributes no documents; only cancellation is reported as an error.
func (s *WebScraper) ScrapeAllSources(ctx context.Context) ([]types.Document, error) {
	results := make([][]types.Document, len(DefaultSources))

	var g errgroup.Group
	g.SetLimit(scrapeWorkers)
	for i, src := range DefaultSources {
		g.Go(func() error {
			results[i] = s.ScrapeSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []types.Document
	for _, r := range results {
		docs = append(docs, r...)
	}
	logger.L().Infow("Scraped default sources", "sources", len(DefaultSources), "documents", len(docs))
	return docs, nil
}

// ScrapeCustomURLs scrapes user supplied pages one after another.
func (s *WebScraper) ScrapeCustomURLs(ctx context.Context, urls []string) ([]types.Document, error) {
	var docs []types.Document
	for _, raw := range urls {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		docs = append(docs, s.ScrapeSource(ctx, CustomSource(raw))...)
	}
	return docs, nil
}

// CustomSource attributes an arbitrary URL to its host.
func CustomSource(raw string) Source {
	name := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		name = u.Host
	}
	return Source{URL: raw, Type: "custom", Name: name, Priority: "medium"}
}

// ScrapeSource fetches src with retries and parses it according to its type.
func (s *WebScraper) ScrapeSource(ctx context.Context, src Source) []types.Document {
	if s.wasScraped(src.URL) {
		return nil
	}

	log := logger.L().With("url", src.URL)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		page, err := s.fetcher.Fetch(ctx, src.URL)
		if err == nil {
			s.markScraped(src.URL)
			docs, err := s.parse(page, src)
			if err != nil {
				log.Warnw("Failed to parse page", "error", err)
				return nil
			}
			log.Infow("Scraped source", "documents", len(docs))
			return docs
		}

		if attempt == s.maxRetries-1 {
			log.Warnw("Giving up on source", "attempts", s.maxRetries, "error", err)
			return nil
		}
		log.Debugw("Fetch failed, retrying", "attempt", attempt+1, "error", err)
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			return nil
		}
	}
	return nil
}

func (s *WebScraper) parse(page string, src Source) ([]types.Document, error) {
	at := s.now()
	switch src.Type {
	case "specification":
		return ParseRFCDocument(page, src, at)
	case "custom":
		return ParseMarkdownDocument(page, src, at)
	default:
		return ParseGeneralDocument(page, src, at)
	}
}

// Reset forgets which URLs were scraped so they can be fetched again.
func (s *WebScraper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.scraped)
}

func (s *WebScraper) wasScraped(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scraped[u]
	return ok
}

func (s *WebScraper) markScraped(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraped[u] = struct{}{}
}

type htmlSection struct {
	id    string
	title string
	text  string
}

// ParseRFCDocument splits an RFC page into its numbered sections.
func ParseRFCDocument(page string, src Source, scrapedAt time.Time) ([]types.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	content := firstMatch(doc, "div#content", "main", "body")
	if content == nil {
		return nil, nil
	}

	var sections []htmlSection
	content.Find("section, div").Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		if !sectionClassRe.MatchString(class) {
			return
		}
		id, _ := sel.Attr("id")
		sections = append(sections, htmlSection{
			id:    id,
			title: inlineText(sel.Find("h1, h2, h3, h4").First()),
			text:  blockText(sel),
		})
	})
	if len(sections) == 0 {
		sections = splitByHeaders(content)
	}

	var docs []types.Document
	for i, sec := range sections {
		if runeLen(sec.text) < minSectionChars {
			continue
		}
		title := sec.title
		if title == "" {
			title = fmt.Sprintf("Section %d", i+1)
		}
		id := sec.id
		if id == "" {
			id = fmt.Sprintf("section-%d", i+1)
		}
		docs = append(docs, types.Document{
			Content:  sec.text,
			Metadata: scrapedMetadata(src, src.URL+"#"+id, title, id, sec.text, scrapedAt),
		})
	}
	return docs, nil
}

// splitByHeaders groups paragraphs under the heading that precedes them.
func splitByHeaders(content *goquery.Selection) []htmlSection {
	var (
		sections []htmlSection
		current  *htmlSection
		lines    []string
	)
	flush := func() {
		if current != nil {
			current.text = strings.Join(lines, "\n")
			sections = append(sections, *current)
		}
	}
	content.Find("h1, h2, h3, h4, p").Each(func(_ int, sel *goquery.Selection) {
		text := blockText(sel)
		if isHeading(sel) {
			flush()
			current = &htmlSection{title: inlineText(sel)}
			lines = nil
			if text != "" {
				lines = append(lines, text)
			}
			return
		}
		if current == nil {
			current = &htmlSection{}
		}
		if text != "" {
			lines = append(lines, text)
		}
	})
	flush()
	return sections
}

// ParseGeneralDocument walks headings and text blocks of an article page,
// starting a "## title" chunk at every heading.
func ParseGeneralDocument(page string, src Source, scrapedAt time.Time) ([]types.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	root := mainContent(doc)
	if root == nil {
		return nil, nil
	}

	var (
		docs    []types.Document
		current []string
		title   string
		chunkID int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n")
		if runeLen(text) < minSectionChars {
			return
		}
		sectionID := fmt.Sprintf("chunk-%d", chunkID)
		docs = append(docs, types.Document{
			Content:  text,
			Metadata: scrapedMetadata(src, src.URL, title, sectionID, text, scrapedAt),
		})
		chunkID++
	}

	root.Find("h1, h2, h3, h4, p, li, pre, code").Each(func(_ int, sel *goquery.Selection) {
		if isHeading(sel) {
			flush()
			title = inlineText(sel)
			current = []string{"## " + title}
			return
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			current = append(current, text)
		}
	})
	flush()
	return docs, nil
}

// ParseMarkdownDocument converts the main content of a page to markdown so
// its headings drive chunking later on.
func ParseMarkdownDocument(page string, src Source, scrapedAt time.Time) ([]types.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	root := mainContent(doc)
	if root == nil {
		return nil, nil
	}
	inner, err := root.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}
	markdown, err := utils.HTMLToMarkdown(inner)
	if err != nil {
		return nil, err
	}
	if runeLen(markdown) < minSectionChars {
		return nil, nil
	}
	title := inlineText(doc.Find("title").First())
	if title == "" {
		title = src.Name
	}
	return []types.Document{{
		Content:  markdown,
		Metadata: scrapedMetadata(src, src.URL, title, "page", markdown, scrapedAt),
	}}, nil
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	doc.Find("script, style, nav, footer, header").Remove()
	if sel := firstMatch(doc, "main", "article"); sel != nil {
		return sel
	}
	var match *goquery.Selection
	doc.Find("div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		if contentClassRe.MatchString(class) {
			match = sel
			return false
		}
		return true
	})
	if match != nil {
		return match
	}
	return firstMatch(doc, "body")
}

func firstMatch(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, selector := range selectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func isHeading(sel *goquery.Selection) bool {
	switch goquery.NodeName(sel) {
	case "h1", "h2", "h3", "h4":
		return true
	}
	return false
}

// inlineText is the whitespace-collapsed text of sel.
func inlineText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// blockText joins the trimmed text nodes under sel with newlines.
func blockText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

func scrapedMetadata(src Source, sourceURL, title, sectionID, text string, at time.Time) map[string]any {
	return map[string]any{
		"source_url":    sourceURL,
		"source_name":   src.Name,
		"source_type":   src.Type,
		"priority":      src.Priority,
		"section_title": title,
		"section_id":    sectionID,
		"scraped_at":    at.UTC().Format(time.RFC3339),
		"document_type": "jwt_knowledge",
		"content_hash":  HashContent(text)[:16],
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
