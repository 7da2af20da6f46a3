package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"uniassist/internal/errkind"
)

// Page is one fetched page reduced to plain text.
type Page struct {
	URL       string
	Title     string
	Content   string
	FetchedAt time.Time
}

// Fetcher retrieves one page. selector is an optional CSS hint narrowing
// extraction to part of the page; implementations may ignore it.
type Fetcher interface {
	Fetch(ctx context.Context, url, selector string) (*Page, error)
}

const (
	maxBodyBytes    = 2 << 20
	fetchTimeout    = 60 * time.Second
	maxContentChars = 50000
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// HTTPFetcher fetches pages with plain HTTP and strips the HTML down to
// readable text. It cannot render JavaScript.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds the plain-HTTP fetcher.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url, selector string) (*Page, error) {
	if url == "" {
		return nil, errkind.Errorf(errkind.InvalidInput, "url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errkind.E(errkind.InvalidInput, "build request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; uniassist-crawler/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "vi-VN,vi;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, fmt.Sprintf("fetch %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errkind.Errorf(errkind.RateLimited, "fetch %s: HTTP 429", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Errorf(errkind.DependencyUnavailable, "fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errkind.E(errkind.DependencyUnavailable, "read response", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") {
		return &Page{URL: url, Content: clampContent(string(body)), FetchedAt: time.Now()}, nil
	}

	title, content, err := extractReadableText(string(body), selector)
	if err != nil {
		return nil, errkind.E(errkind.Internal, "parse html", err)
	}
	return &Page{URL: url, Title: title, Content: clampContent(content), FetchedAt: time.Now()}, nil
}

// extractReadableText parses HTML and renders the visible text. When
// selector names an element id ("#main") only that subtree is kept.
func extractReadableText(htmlContent, selector string) (title, content string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", err
	}

	title = findTitle(doc)

	root := doc
	if id, ok := strings.CutPrefix(selector, "#"); ok && id != "" {
		if node := findByID(doc, id); node != nil {
			root = node
		}
	}

	var sb strings.Builder
	renderText(root, &sb, 0)
	return title, cleanText(sb.String()), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func renderText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "title":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "tr", "section", "article":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "td", "th":
			sb.WriteString(" | ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(c, sb, depth+1)
	}
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func clampContent(s string) string {
	runes := []rune(s)
	if len(runes) <= maxContentChars {
		return s
	}
	return string(runes[:maxContentChars])
}
