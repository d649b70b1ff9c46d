package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const cataloguePage = `<html><body>
<a href="/cmsfiles/contents/0000133/usage_2024.csv">2024年度</a>
<a href="usage_2023.xlsx?rev=2">2023年度</a>
<a href="/docs/about.html">について</a>
<a href="archive.ZIP">アーカイブ</a>
</body></html>`

func TestDiscoverResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, cataloguePage)
	}))
	defer srv.Close()

	links, err := DiscoverResources(context.Background(), srv.URL+"/opendata/", DataFileSuffixes, 5*time.Second)
	if err != nil {
		t.Fatalf("DiscoverResources: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("links = %v, want 3 (html page excluded)", links)
	}

	want := map[string]bool{
		srv.URL + "/cmsfiles/contents/0000133/usage_2024.csv": true,
		srv.URL + "/opendata/usage_2023.xlsx?rev=2":           true,
		srv.URL + "/opendata/archive.ZIP":                     true,
	}
	for _, l := range links {
		if !want[l] {
			t.Errorf("unexpected link %q", l)
		}
	}
}

func TestDiscoverResourcesCustomSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, cataloguePage)
	}))
	defer srv.Close()

	links, err := DiscoverResources(context.Background(), srv.URL, []string{".csv"}, 5*time.Second)
	if err != nil {
		t.Fatalf("DiscoverResources: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %v, want only the csv", links)
	}
}

func TestDiscoverResourcesBadURL(t *testing.T) {
	if _, err := DiscoverResources(context.Background(), "http://127.0.0.1:1/none", DataFileSuffixes, time.Second); err == nil {
		t.Fatal("expected error for unreachable host")
	}
}
