package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func metadataServer(t *testing.T, head string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><head>%s</head><body></body></html>", head)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestGetMetadata(t *testing.T) {
	url := metadataServer(t, `
		<meta property="og:title" content="Flooded road near Mirpur"/>
		<meta property="og:description" content="Water level rising"/>
		<meta property="og:image" content="https://img.example/road.jpg"/>
		<meta property="og:url" content="https://news.example/road"/>`)

	md := GetMetadata(url)
	if md == nil {
		t.Fatal("no metadata for a complete card")
	}
	if md.Title != "Flooded road near Mirpur" || md.Image != "https://img.example/road.jpg" {
		t.Fatalf("wrong fields: %+v", md)
	}
	if md.Url != "https://news.example/road" {
		t.Fatalf("og:url not used: %q", md.Url)
	}
}

func TestGetMetadataTwitterFallback(t *testing.T) {
	url := metadataServer(t, `
		<meta name="twitter:title" content="Shelter open"/>
		<meta name="twitter:image" content="https://img.example/shelter.jpg"/>`)

	md := GetMetadata(url)
	if md == nil {
		t.Fatal("twitter card not picked up")
	}
	if md.Title != "Shelter open" || md.Image != "https://img.example/shelter.jpg" {
		t.Fatalf("wrong fields: %+v", md)
	}
	// page carries no canonical url, fall back to the fetched one
	if md.Url != url {
		t.Fatalf("fallback url %q, want %q", md.Url, url)
	}
}

func TestGetMetadataIncomplete(t *testing.T) {
	url := metadataServer(t, `<meta property="og:title" content="Title but no image"/>`)
	if md := GetMetadata(url); md != nil {
		t.Fatalf("incomplete card should yield nil, got %+v", md)
	}
	if md := GetMetadata("not a url"); md != nil {
		t.Fatalf("bad uri should yield nil, got %+v", md)
	}
	if md := GetMetadata("ftp://example.org/file"); md != nil {
		t.Fatalf("non-http scheme should yield nil, got %+v", md)
	}
}
