package catalog

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate the parts of a rendered listing.
type Selectors struct {
	// Container scopes the search for records; empty means the whole document.
	Container string
	// Record matches one entry.
	Record string
	// SummaryLink matches the entry's summary link whose alt text starts with the slug.
	SummaryLink string
	// DetailRow matches a label/value row inside the entry's detail panel.
	DetailRow string
}

// ParseListing reads a rendered listing and returns its entries in document
// order. Relative hrefs are resolved against base when it is non-nil.
func ParseListing(r io.Reader, sel Selectors, base *url.URL) ([]Entry, error) {
	if sel.Record == "" {
		return nil, fmt.Errorf("record selector is required")
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	scope := doc.Selection
	if sel.Container != "" {
		scope = doc.Find(sel.Container)
	}
	var entries []Entry
	scope.Find(sel.Record).Each(func(_ int, record *goquery.Selection) {
		entries = append(entries, parseEntry(record, sel, base))
	})
	return entries, nil
}

func parseEntry(record *goquery.Selection, sel Selectors, base *url.URL) Entry {
	entry := Entry{Text: collapse(record.Text())}
	if sel.SummaryLink != "" {
		summary := record.Find(sel.SummaryLink).First()
		if alt, ok := summary.Attr("alt"); ok {
			if fields := strings.Fields(alt); len(fields) > 0 {
				entry.Slug = fields[0]
			}
		}
	}
	if sel.DetailRow != "" {
		rows := record.Find(sel.DetailRow)
		rows.Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				if href, ok := row.Find("a[href]").First().Attr("href"); ok {
					entry.SourceURL = resolve(base, href)
				}
			}
			cells := row.Find("div")
			if cells.Length() < 2 {
				return
			}
			label := collapse(cells.Eq(0).Text())
			if label == "" {
				return
			}
			entry.Details = entry.Details.Set(label, collapse(cells.Eq(1).Text()))
		})
	}
	record.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		entry.Links = append(entry.Links, Link{Href: resolve(base, href), Text: collapse(a.Text())})
	})
	return entry
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
