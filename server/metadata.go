package server

import (
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// GetMetadata fetches preview metadata for a link attached to a report, so
// observers render a card without refetching the page. Returns nil unless
// the page carries at least a title and an image.
func GetMetadata(uri string) *Metadata {
	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}

	d, err := goquery.NewDocument(u.String())
	if err != nil {
		return nil
	}

	content := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := d.Find(`meta[property="` + k + `"]`).Attr("content"); ok && len(v) > 0 {
				return v
			}
			if v, ok := d.Find(`meta[name="` + k + `"]`).Attr("content"); ok && len(v) > 0 {
				return v
			}
		}
		return ""
	}

	md := &Metadata{
		Created:     time.Now().UnixNano(),
		Title:       content("og:title", "twitter:title"),
		Description: content("og:description", "twitter:description"),
		Image:       content("og:image", "og:image:src", "twitter:image", "twitter:image:src"),
		Url:         content("og:url", "twitter:url"),
	}

	if len(md.Title) == 0 || len(md.Image) == 0 {
		return nil
	}
	if len(md.Url) == 0 {
		md.Url = u.String()
	}
	return md
}
