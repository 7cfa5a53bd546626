// Package seo generates the crawl surface for the site: sitemap.xml,
// robots.txt, and per-path meta tags, all derived from the content
// catalog so new demos show up without extra wiring.
package seo

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/jelf-alter/personal-site/internal/content"
)

// Meta is the metadata block for one page.
type Meta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Canonical   string `json:"canonical"`
	OGType      string `json:"ogType"`
}

// Generator produces SEO artifacts for a catalog.
type Generator struct {
	baseURL string
	catalog *content.Catalog
}

func NewGenerator(baseURL string, catalog *content.Catalog) *Generator {
	return &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
		catalog: catalog,
	}
}

// publicPaths returns every crawlable path, sorted and de-duplicated.
func (g *Generator) publicPaths() []string {
	seen := map[string]struct{}{
		"/":        {},
		"/demos":   {},
		"/testing": {},
	}
	for _, nav := range g.catalog.Site.Nav {
		seen[nav.Path] = struct{}{}
	}
	for _, demo := range g.catalog.Demos {
		seen[demo.Path] = struct{}{}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type urlEntry struct {
	Loc        string  `xml:"loc"`
	ChangeFreq string  `xml:"changefreq,omitempty"`
	Priority   float64 `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

// Sitemap renders sitemap.xml for all public paths.
func (g *Generator) Sitemap() ([]byte, error) {
	set := urlSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, path := range g.publicPaths() {
		priority := 0.6
		if path == "/" {
			priority = 1.0
		}
		set.URLs = append(set.URLs, urlEntry{
			Loc:        g.baseURL + path,
			ChangeFreq: "weekly",
			Priority:   priority,
		})
	}

	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render sitemap: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Robots renders robots.txt, allowing everything and pointing at the
// sitemap. The API and WebSocket paths are excluded from crawling.
func (g *Generator) Robots() string {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Disallow: /api/\n")
	b.WriteString("Disallow: /ws\n")
	b.WriteString("Allow: /\n\n")
	fmt.Fprintf(&b, "Sitemap: %s/sitemap.xml\n", g.baseURL)
	return b.String()
}

// Meta returns the metadata for a path. The second return is false for
// paths that are not part of the public surface.
func (g *Generator) Meta(path string) (Meta, bool) {
	site := g.catalog.Site

	switch path {
	case "/":
		return Meta{
			Title:       site.Title,
			Description: site.Description,
			Canonical:   g.baseURL + "/",
			OGType:      "website",
		}, true
	case "/demos":
		return Meta{
			Title:       fmt.Sprintf("Demos — %s", site.Name),
			Description: "Interactive demos: data pipelines and real-time systems.",
			Canonical:   g.baseURL + "/demos",
			OGType:      "website",
		}, true
	case "/testing":
		return Meta{
			Title:       fmt.Sprintf("Testing Dashboard — %s", site.Name),
			Description: "Live test-suite results, streamed as they run.",
			Canonical:   g.baseURL + "/testing",
			OGType:      "website",
		}, true
	}

	for _, demo := range g.catalog.Demos {
		if demo.Path == path {
			return Meta{
				Title:       fmt.Sprintf("%s — %s", demo.Title, site.Name),
				Description: demo.Summary,
				Canonical:   g.baseURL + path,
				OGType:      "article",
			}, true
		}
	}

	return Meta{}, false
}
