// Package scraper extracts schema.org Recipe data embedded as JSON-LD in a
// recipe web page.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var ErrNoRecipe = errors.New("no recipe found on page")

// FetchError is a non-2xx answer from the recipe site.
type FetchError struct {
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching page", e.StatusCode)
}

type Group struct {
	Purpose     *string
	Ingredients []string
}

// Recipe is the site's recipe as published, before any ingredient parsing.
type Recipe struct {
	Title        string
	Description  *string
	Category     *string
	ImageURL     string
	Lang         string
	CanonicalURL string
	Steps        []string
	Groups       []Group
}

type Scraper struct {
	httpClient *http.Client
	userAgent  string
}

func New() *Scraper {
	return &Scraper{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; recipebox/1.0)",
	}
}

func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*Recipe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	rec, err := Parse(io.LimitReader(resp.Body, 10<<20), pageURL)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "recipe scraped", "url", pageURL, "groups", len(rec.Groups), "steps", len(rec.Steps))
	return rec, nil
}

// Parse reads an HTML document and returns the first JSON-LD Recipe in it.
func Parse(r io.Reader, pageURL string) (*Recipe, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var v interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &v); err != nil {
			return true
		}
		found = findRecipe(v)
		return found == nil
	})
	if found == nil {
		return nil, ErrNoRecipe
	}

	rec := &Recipe{
		Title:        text(found["name"]),
		Description:  optional(clean(text(found["description"]))),
		Category:     optional(first(found["recipeCategory"])),
		ImageURL:     image(found["image"]),
		Lang:         language(doc, found),
		CanonicalURL: canonical(doc, found, pageURL),
		Steps:        instructions(found["recipeInstructions"]),
	}
	if rec.Title == "" {
		return nil, ErrNoRecipe
	}

	ingredients := stringList(found["recipeIngredient"])
	if len(ingredients) == 0 {
		ingredients = stringList(found["ingredients"])
	}
	rec.Groups = []Group{{Ingredients: ingredients}}
	return rec, nil
}

// findRecipe walks arrays and @graph containers looking for a Recipe node.
func findRecipe(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if r := findRecipe(item); r != nil {
				return r
			}
		}
	case map[string]interface{}:
		if isRecipe(t["@type"]) {
			return t
		}
		if g, ok := t["@graph"]; ok {
			return findRecipe(g)
		}
	}
	return nil
}

func isRecipe(t interface{}) bool {
	switch v := t.(type) {
	case string:
		return v == "Recipe"
	case []interface{}:
		for _, s := range v {
			if s == "Recipe" {
				return true
			}
		}
	}
	return false
}

func instructions(v interface{}) []string {
	steps := []string{}
	var walk func(interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			for _, line := range strings.Split(t, "\n") {
				if s := clean(line); s != "" {
					steps = append(steps, s)
				}
			}
		case []interface{}:
			for _, item := range t {
				walk(item)
			}
		case map[string]interface{}:
			// HowToSection nests its steps under itemListElement
			if items, ok := t["itemListElement"]; ok {
				walk(items)
				return
			}
			if s := clean(text(t["text"])); s != "" {
				steps = append(steps, s)
			} else if s := clean(text(t["name"])); s != "" {
				steps = append(steps, s)
			}
		}
	}
	walk(v)
	return steps
}

func image(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			return image(t[0])
		}
	case map[string]interface{}:
		if u := text(t["url"]); u != "" {
			return u
		}
		return text(t["@id"])
	}
	return ""
}

func language(doc *goquery.Document, node map[string]interface{}) string {
	if l := text(node["inLanguage"]); l != "" {
		return l
	}
	if l, ok := doc.Find("html").Attr("lang"); ok {
		return strings.TrimSpace(l)
	}
	return ""
}

func canonical(doc *goquery.Document, node map[string]interface{}, pageURL string) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		return href
	}
	if u := text(node["url"]); strings.HasPrefix(u, "http") {
		return u
	}
	return pageURL
}

func stringList(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := clean(t); s != "" {
			out = append(out, s)
		}
	case []interface{}:
		for _, item := range t {
			if s := clean(text(item)); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func first(v interface{}) string {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return ""
		}
		return text(list[0])
	}
	return text(v)
}

func text(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// clean strips markup that some sites leave inside JSON-LD strings.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
