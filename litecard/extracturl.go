package litecard

import (
	"net/url"
	"regexp"

	"github.com/mosbree/embedkeeper/canon"
	"github.com/mosbree/embedkeeper/dom"
)

// RefAttr is the explicit resource reference attribute, when the host
// document carries one.
const RefAttr = "data-resource-url"

// statusPattern matches provider status URLs inside arbitrary markup.
// Last-resort extraction only; the explicit attribute and the frame
// locator are tried first.
var statusPattern = regexp.MustCompile(
	`https?://(?:www\.|mobile\.|m\.)?(?:twitter|x)\.com/[A-Za-z0-9_]+/status/[0-9]+`)

// ExtractURL pulls the canonical resource URL out of an embed region.
// Extraction order: explicit reference attribute, then the foreign
// frame's locator, then a pattern match over the region's markup.
// Returns "" when no resource can be extracted; the caller must then
// leave the node untouched.
func ExtractURL(n dom.Node) string {
	if ref := n.Attr(RefAttr); ref != "" {
		if c, err := canon.Canonicalize(ref); err == nil {
			return c
		}
	}

	if src := n.FrameSrc(); src != "" {
		if c := fromFrameSrc(src); c != "" {
			return c
		}
	}

	if m := statusPattern.FindString(n.OuterHTML()); m != "" {
		if c, err := canon.Canonicalize(m); err == nil {
			return c
		}
	}

	return ""
}

// fromFrameSrc extracts the resource URL from a frame locator. Provider
// embed frames carry the resource either as a query parameter or as the
// path itself.
func fromFrameSrc(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}

	q := u.Query()
	for _, param := range []string{"url", "href"} {
		if v := q.Get(param); v != "" {
			if c, err := canon.Canonicalize(v); err == nil {
				return c
			}
		}
	}

	if m := statusPattern.FindString(src); m != "" {
		if c, err := canon.Canonicalize(m); err == nil {
			return c
		}
	}
	return ""
}

// EmbedFrameURL builds the provider embed-frame locator for a canonical
// resource URL, used when expanding a card back into the original embed.
func EmbedFrameURL(canonicalURL string) string {
	return "https://platform." + canon.CanonicalHost + "/embed?url=" + url.QueryEscape(canonicalURL)
}
