// Package litecard replaces heavy provider frames with compact, locally
// rendered summary cards, and restores the original embed on demand. One
// provider kind opts into this; everything else keeps its frame and goes
// through height negotiation instead.
package litecard

import (
	"context"
	"time"
)

// CardData is the summary payload behind a lite card. The substitution
// subsystem owns it; renderers receive a read-only copy.
type CardData struct {
	Handle       string     `json:"handle"`
	DisplayName  string     `json:"display_name"`
	BodyText     string     `json:"body_text"`
	CanonicalURL string     `json:"canonical_url"`
	HasMedia     bool       `json:"has_media"`
	MediaRefs    []string   `json:"media_refs,omitempty"`
	Verification string     `json:"verification,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	ReplyTo      *Ref       `json:"reply_to,omitempty"`
	Quotes       *Ref       `json:"quotes,omitempty"`
}

// Ref points at a related resource (the post being replied to or quoted).
type Ref struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

// Clone returns an independent copy for handing to renderers.
func (d *CardData) Clone() *CardData {
	if d == nil {
		return nil
	}
	c := *d
	if d.MediaRefs != nil {
		c.MediaRefs = append([]string(nil), d.MediaRefs...)
	}
	if d.Timestamp != nil {
		ts := *d.Timestamp
		c.Timestamp = &ts
	}
	if d.ReplyTo != nil {
		r := *d.ReplyTo
		c.ReplyTo = &r
	}
	if d.Quotes != nil {
		q := *d.Quotes
		c.Quotes = &q
	}
	return &c
}

// Fetcher retrieves the summary payload for a canonical resource URL.
// A (nil, nil) return means the fetch succeeded but the provider had no
// usable data; it is cached as a negative result.
type Fetcher interface {
	FetchSummary(ctx context.Context, canonicalURL string) (*CardData, error)
}

// RenderMode selects which card variant to render.
type RenderMode string

const (
	RenderSkeleton RenderMode = "skeleton"
	RenderResolved RenderMode = "resolved"
)

// Renderer produces region markup for a card. Pure: no tree access, no
// side effects.
type Renderer interface {
	Render(data *CardData, mode RenderMode) string
}
