package litecard

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mosbree/embedkeeper/safeurl"
)

// HTTPFetcher retrieves summary payloads over plain HTTP: fetch the
// resource page, read its social metadata, and convert the embedded
// blockquote (when present) into card body text. It is one Fetcher
// implementation; the engine accepts any.
type HTTPFetcher struct {
	client    *http.Client
	policy    *bluemonday.Policy
	conv      *converter.Converter
	maxBody   int64
	userAgent string
}

// NewHTTPFetcher creates a fetcher with a 10s request budget and a 1 MiB
// body cap.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		client: client,
		policy: bluemonday.StrictPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		maxBody:   safeurl.MaxResponseBody,
		userAgent: "embedkeeper/1.0",
	}
}

// FetchSummary implements Fetcher. Returns (nil, nil) when the page
// yields no usable metadata, so the caller caches the negative result.
func (f *HTTPFetcher) FetchSummary(ctx context.Context, canonicalURL string) (*CardData, error) {
	if err := safeurl.Validate(canonicalURL); err != nil {
		return nil, fmt.Errorf("litecard: fetch %s: %w", canonicalURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("litecard: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("litecard: fetch %s: %w", canonicalURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("litecard: fetch %s: status %d", canonicalURL, resp.StatusCode)
	}

	body, err := safeurl.LimitedReadAll(resp.Body, f.maxBody)
	if err != nil {
		return nil, fmt.Errorf("litecard: read %s: %w", canonicalURL, err)
	}

	return f.parse(canonicalURL, body)
}

// parse extracts card data from a provider resource page. Social metadata
// carries the author and description; a blockquote, when the provider
// inlines one, gives richer body text.
func (f *HTTPFetcher) parse(canonicalURL string, body []byte) (*CardData, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("litecard: parse %s: %w", canonicalURL, err)
	}

	meta := collectMeta(doc)

	data := &CardData{
		Handle:       handleFromURL(canonicalURL),
		CanonicalURL: canonicalURL,
	}

	if title := meta["og:title"]; title != "" {
		// "Name on X: ..." → Name
		data.DisplayName, _, _ = strings.Cut(title, " on ")
		data.DisplayName = strings.TrimSpace(data.DisplayName)
	}
	if img := meta["og:image"]; img != "" {
		data.HasMedia = true
		data.MediaRefs = append(data.MediaRefs, img)
	}
	if v := meta["og:video"]; v != "" {
		data.HasMedia = true
		data.MediaRefs = append(data.MediaRefs, v)
	}
	if ts := meta["article:published_time"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			data.Timestamp = &t
		}
	}

	if bq := findBlockquote(doc); bq != "" {
		if md, err := f.conv.ConvertString(bq, converter.WithDomain(canonicalURL)); err == nil {
			data.BodyText = strings.TrimSpace(md)
		}
	}
	if data.BodyText == "" {
		data.BodyText = strings.TrimSpace(meta["og:description"])
	}
	// Provider-supplied text never reaches a card unsanitized.
	data.BodyText = strings.TrimSpace(f.policy.Sanitize(data.BodyText))

	if data.BodyText == "" && data.DisplayName == "" {
		return nil, nil // fetched fine, nothing usable
	}
	return data, nil
}

// collectMeta gathers <meta property/name → content> pairs.
func collectMeta(doc *html.Node) map[string]string {
	meta := make(map[string]string)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			var key, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "property", "name":
					key = a.Val
				case "content":
					content = a.Val
				}
			}
			if key != "" && content != "" {
				meta[key] = content
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return meta
}

// findBlockquote returns the rendered HTML of the first blockquote, or "".
func findBlockquote(doc *html.Node) string {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Blockquote {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, found); err != nil {
		return ""
	}
	return buf.String()
}
