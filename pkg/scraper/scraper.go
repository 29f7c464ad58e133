package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/hrcopilot/internal/models"
)

// ScraperConfig configures a crawl of an intranet site.
type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Client            *http.Client
}

// Scraper walks same-host links breadth-first up to MaxDepth and turns every
// page into a document.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   *log.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", ".txt", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", config.BaseURL)
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Scraper{
		config:   config,
		client:   client,
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   log.New(os.Stderr, "[SCRAPER] ", log.LstdFlags),
	}, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != s.baseHost {
		return false
	}

	// Check extensions
	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
		"Política de cookies",
		"Aceptar cookies",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".policy",
		"#policy",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if content == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

// ExtractText returns the title and readable text of an HTML page.
func ExtractText(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	return title, extractMainContent(doc), nil
}

// Scrape crawls from startURL. Pages that fail to load are logged and
// skipped; only a failure on the start page is returned.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Document, error) {
	type item struct {
		url   string
		depth int
	}

	var documents []models.Document
	queue := []item{{url: startURL}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth > s.config.MaxDepth || s.visited[cur.url] || !s.shouldProcessURL(cur.url) {
			continue
		}
		s.visited[cur.url] = true

		doc, links, err := s.fetch(ctx, cur.url, cur.depth)
		if err != nil {
			if cur.url == startURL || ctx.Err() != nil {
				return documents, err
			}
			s.logger.Printf("Error scraping URL: %v", err)
			continue
		}
		if doc.RawText != "" {
			documents = append(documents, doc)
		}
		for _, link := range links {
			queue = append(queue, item{url: link, depth: cur.depth + 1})
		}
	}

	return documents, nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string, depth int) (models.Document, []string, error) {
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return models.Document{}, nil, err
		}
		return s.document(urlStr, "", string(body), depth, resp), nil, nil
	}

	page, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, nil, err
	}

	// links are collected before extraction strips navigation
	base := resp.Request.URL
	var links []string
	page.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	title := strings.TrimSpace(page.Find("title").First().Text())
	content := extractMainContent(page)

	return s.document(urlStr, title, content, depth, resp), links, nil
}

func (s *Scraper) document(urlStr, title, content string, depth int, resp *http.Response) models.Document {
	return models.Document{
		ID:      urlStr,
		Title:   title,
		Source:  urlStr,
		RawText: strings.TrimSpace(content),
		Metadata: map[string]interface{}{
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}
}
