// Package parsers contains the parser plugins that turn fetched pages into
// next-phase URLs or raw location records.
package parsers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-viper/mapstructure/v2"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

// phaseSpec describes one phase of a CSS-driven site: link phases name a
// selector whose hrefs feed the next phase, record phases name a container
// selector plus per-field selectors.
type phaseSpec struct {
	LinkSelector   string            `mapstructure:"link_selector"`
	LinkAttr       string            `mapstructure:"link_attr"`
	RecordSelector string            `mapstructure:"record_selector"`
	Fields         map[string]string `mapstructure:"fields"`
	AttrFields     map[string]string `mapstructure:"attr_fields"`
}

type cssListOptions struct {
	Phases []phaseSpec `mapstructure:"phases"`
}

// CSSList walks a site's listing hierarchy with CSS selectors configured per
// phase, needing no code per site.
type CSSList struct {
	phases []phaseSpec
}

// NewCSSList builds the parser from a site's parser_options block.
func NewCSSList(opts map[string]any) (*CSSList, error) {
	var decoded cssListOptions
	if err := mapstructure.Decode(opts, &decoded); err != nil {
		return nil, fmt.Errorf("decode parser options: %w", err)
	}
	if len(decoded.Phases) == 0 {
		return nil, fmt.Errorf("parser options declare no phases")
	}
	for i, phase := range decoded.Phases {
		link := phase.LinkSelector != ""
		record := phase.RecordSelector != ""
		if link == record {
			return nil, fmt.Errorf("phase %d must set exactly one of link_selector or record_selector", i)
		}
		if record && len(phase.Fields)+len(phase.AttrFields) == 0 {
			return nil, fmt.Errorf("phase %d has a record_selector but no fields", i)
		}
		for field, target := range phase.AttrFields {
			if !strings.Contains(target, "@") {
				return nil, fmt.Errorf("phase %d attr field %q must be in selector@attr form", i, field)
			}
		}
	}
	return &CSSList{phases: decoded.Phases}, nil
}

// Extract applies the configured selectors for the given phase. A page where
// nothing matches is a structural mismatch and reported as a ParseError.
func (p *CSSList) Extract(_ context.Context, pageURL string, content []byte, phase int, _ map[string]any) (scraper.PhaseResult, error) {
	if phase >= len(p.phases) {
		return scraper.PhaseResult{}, &scraper.ParseError{
			Phase:  phase,
			Reason: fmt.Sprintf("no phase spec configured (have %d)", len(p.phases)),
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return scraper.PhaseResult{}, &scraper.ParseError{Phase: phase, Reason: fmt.Sprintf("parse html: %v", err)}
	}

	spec := p.phases[phase]
	if spec.LinkSelector != "" {
		return p.extractLinks(doc, pageURL, phase, spec)
	}
	return p.extractRecords(doc, pageURL, phase, spec)
}

func (p *CSSList) extractLinks(doc *goquery.Document, pageURL string, phase int, spec phaseSpec) (scraper.PhaseResult, error) {
	attr := spec.LinkAttr
	if attr == "" {
		attr = "href"
	}
	base, _ := url.Parse(pageURL)

	var links []string
	doc.Find(spec.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr(attr)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return
		}
		links = append(links, resolveLink(base, raw))
	})
	if len(links) == 0 {
		return scraper.PhaseResult{}, &scraper.ParseError{
			Phase:  phase,
			Reason: fmt.Sprintf("selector %q matched no links on %s", spec.LinkSelector, pageURL),
		}
	}
	return scraper.PhaseResult{NextURLs: links}, nil
}

func (p *CSSList) extractRecords(doc *goquery.Document, pageURL string, phase int, spec phaseSpec) (scraper.PhaseResult, error) {
	var records []scraper.RawRecord
	doc.Find(spec.RecordSelector).Each(func(_ int, sel *goquery.Selection) {
		record := scraper.RawRecord{"source_url": pageURL}
		for field, fieldSel := range spec.Fields {
			record[field] = strings.TrimSpace(sel.Find(fieldSel).First().Text())
		}
		for field, target := range spec.AttrFields {
			fieldSel, attr, _ := strings.Cut(target, "@")
			value, _ := sel.Find(fieldSel).First().Attr(attr)
			record[field] = strings.TrimSpace(value)
		}
		records = append(records, record)
	})
	if len(records) == 0 {
		return scraper.PhaseResult{}, &scraper.ParseError{
			Phase:  phase,
			Reason: fmt.Sprintf("selector %q matched no records on %s", spec.RecordSelector, pageURL),
		}
	}
	return scraper.PhaseResult{Records: records}, nil
}

func resolveLink(base *url.URL, raw string) string {
	if base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
