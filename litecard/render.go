package litecard

import (
	"html"
	"strings"
)

// MarkupRenderer is the default Renderer: plain structural markup with no
// styling. Hosts that want their own chrome inject their own Renderer.
type MarkupRenderer struct{}

func (MarkupRenderer) Render(data *CardData, mode RenderMode) string {
	if mode == RenderSkeleton {
		return `<div class="lite-card lite-card-skeleton" data-url="` +
			html.EscapeString(data.CanonicalURL) + `"></div>`
	}

	var b strings.Builder
	b.WriteString(`<div class="lite-card" data-url="` + html.EscapeString(data.CanonicalURL) + `">`)
	b.WriteString(`<span class="lite-card-author">` + html.EscapeString(data.DisplayName))
	if data.Handle != "" {
		b.WriteString(` ` + html.EscapeString(data.Handle))
	}
	if data.Verification != "" {
		b.WriteString(` (` + html.EscapeString(data.Verification) + `)`)
	}
	b.WriteString(`</span>`)
	if data.ReplyTo != nil {
		b.WriteString(`<span class="lite-card-reply">replying to ` + html.EscapeString(data.ReplyTo.Handle) + `</span>`)
	}
	b.WriteString(`<p class="lite-card-body">` + html.EscapeString(data.BodyText) + `</p>`)
	if data.Quotes != nil {
		b.WriteString(`<span class="lite-card-quote">quoting ` + html.EscapeString(data.Quotes.Handle) + `</span>`)
	}
	if data.HasMedia {
		b.WriteString(`<button class="lite-card-expand" data-action="expand">Show media</button>`)
	}
	b.WriteString(`</div>`)
	return b.String()
}
