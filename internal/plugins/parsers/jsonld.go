package parsers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-viper/mapstructure/v2"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

type jsonLDOptions struct {
	// LinkPhases are walked before the final phase, which reads JSON-LD.
	LinkPhases  []phaseSpec `mapstructure:"link_phases"`
	RecordTypes []string    `mapstructure:"record_types"`
}

// JSONLD reads schema.org JSON-LD blocks embedded in detail pages. Earlier
// phases, if any, follow configured link selectors down to those pages.
type JSONLD struct {
	linkPhases []phaseSpec
	types      map[string]struct{}
}

// NewJSONLD builds the parser from a site's parser_options block.
func NewJSONLD(opts map[string]any) (*JSONLD, error) {
	var decoded jsonLDOptions
	if err := mapstructure.Decode(opts, &decoded); err != nil {
		return nil, fmt.Errorf("decode parser options: %w", err)
	}
	for i, phase := range decoded.LinkPhases {
		if phase.LinkSelector == "" {
			return nil, fmt.Errorf("link phase %d is missing link_selector", i)
		}
	}
	types := map[string]struct{}{}
	for _, t := range decoded.RecordTypes {
		types[strings.ToLower(t)] = struct{}{}
	}
	return &JSONLD{linkPhases: decoded.LinkPhases, types: types}, nil
}

// Extract follows link phases until the final phase, where every matching
// JSON-LD entity on the page becomes one raw record.
func (p *JSONLD) Extract(_ context.Context, pageURL string, content []byte, phase int, _ map[string]any) (scraper.PhaseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return scraper.PhaseResult{}, &scraper.ParseError{Phase: phase, Reason: fmt.Sprintf("parse html: %v", err)}
	}
	if phase < len(p.linkPhases) {
		shim := CSSList{phases: p.linkPhases}
		return shim.extractLinks(doc, pageURL, phase, p.linkPhases[phase])
	}
	if phase > len(p.linkPhases) {
		return scraper.PhaseResult{}, &scraper.ParseError{
			Phase:  phase,
			Reason: fmt.Sprintf("no phase spec configured (have %d)", len(p.linkPhases)+1),
		}
	}

	var records []scraper.RawRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		records = append(records, p.entities(sel.Text(), pageURL)...)
	})
	if len(records) == 0 {
		return scraper.PhaseResult{}, &scraper.ParseError{
			Phase:  phase,
			Reason: fmt.Sprintf("no matching json-ld entities on %s", pageURL),
		}
	}
	return scraper.PhaseResult{Records: records}, nil
}

// entities flattens one script block into records, descending into @graph.
func (p *JSONLD) entities(raw, pageURL string) []scraper.RawRecord {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	var records []scraper.RawRecord
	var walk func(node any)
	walk = func(node any) {
		switch value := node.(type) {
		case []any:
			for _, item := range value {
				walk(item)
			}
		case map[string]any:
			if graph, ok := value["@graph"]; ok {
				walk(graph)
			}
			if p.matches(value) {
				records = append(records, p.record(value, pageURL))
			}
		}
	}
	walk(payload)
	return records
}

func (p *JSONLD) matches(entity map[string]any) bool {
	entityType, _ := entity["@type"].(string)
	if entityType == "" {
		return false
	}
	if len(p.types) == 0 {
		// Untyped filter: accept anything carrying a postal address.
		_, ok := entity["address"]
		return ok
	}
	_, ok := p.types[strings.ToLower(entityType)]
	return ok
}

// record maps the common schema.org LocalBusiness shape onto the flat field
// names the transformers expect.
func (p *JSONLD) record(entity map[string]any, pageURL string) scraper.RawRecord {
	record := scraper.RawRecord{"source_url": pageURL}
	if name, ok := entity["name"].(string); ok {
		record["name"] = name
	}
	if phone, ok := entity["telephone"].(string); ok {
		record["phone"] = phone
	}
	if address, ok := entity["address"].(map[string]any); ok {
		copyString(record, "address", address, "streetAddress")
		copyString(record, "suburb", address, "addressLocality")
		copyString(record, "state", address, "addressRegion")
		copyString(record, "postcode", address, "postalCode")
	} else if address, ok := entity["address"].(string); ok {
		record["address"] = address
	}
	if geo, ok := entity["geo"].(map[string]any); ok {
		if lat, ok := geo["latitude"].(float64); ok {
			record["latitude"] = lat
		}
		if lng, ok := geo["longitude"].(float64); ok {
			record["longitude"] = lng
		}
	}
	return record
}

func copyString(record scraper.RawRecord, key string, src map[string]any, srcKey string) {
	if value, ok := src[srcKey].(string); ok && value != "" {
		record[key] = value
	}
}
