package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DataFileSuffixes are the extensions treated as downloadable data resources
// on a catalogue page.
var DataFileSuffixes = []string{".csv", ".xlsx", ".xls", ".zip", ".pdf"}

// DiscoverResources fetches a catalogue HTML page and returns the absolute
// URLs of linked data files, in document order with duplicates removed. It is
// an operator aid for maintaining the static catalogue, not part of a
// pipeline run.
func DiscoverResources(ctx context.Context, pageURL string, suffixes []string, timeout time.Duration) ([]string, error) {
	if len(suffixes) == 0 {
		suffixes = DataFileSuffixes
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalogue URL %s: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", pageURL, err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalogue page %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status %q fetching catalogue page %s", resp.Status, pageURL)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalogue HTML %s: %w", pageURL, err)
	}

	seen := make(map[string]bool)
	var resources []string
	for _, link := range parseLinks(root, suffixes) {
		abs, err := base.Parse(link)
		if err != nil {
			continue
		}
		u := abs.String()
		if !seen[u] {
			seen[u] = true
			resources = append(resources, u)
		}
	}
	return resources, nil
}

// parseLinks walks the node tree depth-first and collects href values of
// <a> tags whose target ends with one of the suffixes (case-insensitive).
func parseLinks(root *html.Node, suffixes []string) []string {
	var out []string
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if hasAnySuffix(a.Val, suffixes) && a.Val != "/" {
					out = append(out, a.Val)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(root)
	return out
}

func hasAnySuffix(link string, suffixes []string) bool {
	// Strip any query or fragment before matching the extension.
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	lower := strings.ToLower(link)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}
