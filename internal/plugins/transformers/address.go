// Package transformers contains the normalization plugins that turn raw
// parser records into canonical locations.
package transformers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	digitsRE     = regexp.MustCompile(`\D`)
	driveThruRE  = regexp.MustCompile(`(?i)drive[\s-]*thr(u|ough)`)

	stateNames = map[string]string{
		"NEW SOUTH WALES":              "NSW",
		"VICTORIA":                     "VIC",
		"QUEENSLAND":                   "QLD",
		"SOUTH AUSTRALIA":              "SA",
		"WESTERN AUSTRALIA":            "WA",
		"TASMANIA":                     "TAS",
		"NORTHERN TERRITORY":           "NT",
		"AUSTRALIAN CAPITAL TERRITORY": "ACT",
	}

	shoppingCentreREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(.+?)\s*Shopping\s*Centre`),
		regexp.MustCompile(`(?i)(.+?)\s*Shopping\s*Center`),
		regexp.MustCompile(`(?i)(.+?)\s*Plaza`),
		regexp.MustCompile(`(?i)(.+?)\s*Mall`),
		regexp.MustCompile(`(?i)(.+?)\s*Square`),
		regexp.MustCompile(`(?i)Westfield\s+(\S+)`),
		regexp.MustCompile(`(?i)(.+?)\s*Food\s*Court`),
		regexp.MustCompile(`(?i)(.+?)\s*Marketplace`),
		regexp.MustCompile(`(?i)(.+?)\s*Village`),
		regexp.MustCompile(`(?i)(.+?)\s*Arcade`),
	}

	centrePrefixREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^Shop\s+\d+[A-Za-z]?\s*,?\s*`),
		regexp.MustCompile(`(?i)^Unit\s+\d+[A-Za-z]?\s*,?\s*`),
		regexp.MustCompile(`(?i)^Level\s+\d+\s*,?\s*`),
		regexp.MustCompile(`(?i)^Tenancy\s+\d+[A-Za-z]?\s*,?\s*`),
		regexp.MustCompile(`(?i)^Kiosk\s+\d+[A-Za-z]?\s*,?\s*`),
		regexp.MustCompile(`^\d+[A-Za-z]?\s*,?\s*`),
	}

	streetNameRE = regexp.MustCompile(`(?i)\b(Street|St|Road|Rd|Avenue|Ave|Drive|Dr|Lane|Ln|Boulevard|Blvd|Highway|Hwy|Parade|Pde|Crescent|Cres|Close|Cl|Place|Pl|Way|Circuit|Cct)\b`)
)

// Address normalizes raw location records into the canonical shape shared by
// every storage backend. It derives the business id, maps state names to
// codes, validates postcodes and pulls shopping centre names out of the
// street address.
type Address struct {
	clock scraper.Clock
}

// New creates an address transformer stamping scraped_date from clock.
func New(clock scraper.Clock) *Address {
	return &Address{clock: clock}
}

// Normalize validates and canonicalizes one raw record. Records missing a
// business name or any usable address fail validation and are dropped by the
// pipeline.
func (t *Address) Normalize(rec scraper.RawRecord, site string) (scraper.Location, error) {
	name := collapse(stringField(rec, "name", "business_name"))
	if name == "" {
		return scraper.Location{}, &scraper.ValidationError{Field: "name", Reason: "missing business name"}
	}

	street := cleanStreet(stringField(rec, "address", "street_address"))
	suburb := cleanSuburb(stringField(rec, "suburb", "locality"))
	state := cleanState(stringField(rec, "state", "region"))
	postcode := cleanPostcode(stringField(rec, "postcode", "postal_code"))
	if street == "" && suburb == "" {
		return scraper.Location{}, &scraper.ValidationError{Field: "address", Reason: "no street address or suburb"}
	}

	full := strings.TrimSpace(fmt.Sprintf("%s, %s %s %s", street, suburb, state, postcode))
	return scraper.Location{
		BusinessID:         scraper.BusinessID(name, full),
		BusinessName:       name,
		StreetAddress:      street,
		Suburb:             suburb,
		State:              state,
		Postcode:           postcode,
		DriveThru:          driveThru(rec, name, street),
		ShoppingCentreName: shoppingCentre(street),
		SourceURL:          stringField(rec, "source_url", "url"),
		Source:             site,
		ScrapedDate:        t.clock.Now(),
	}, nil
}

// stringField returns the first non-empty string under any of the keys.
func stringField(rec scraper.RawRecord, keys ...string) string {
	for _, key := range keys {
		if value, ok := rec[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

func cleanStreet(s string) string {
	return strings.TrimSpace(strings.Trim(collapse(s), ","))
}

func cleanSuburb(s string) string {
	words := strings.Fields(strings.ToLower(collapse(s)))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func cleanState(s string) string {
	state := strings.ToUpper(collapse(s))
	if code, ok := stateNames[state]; ok {
		return code
	}
	return state
}

// cleanPostcode accepts only four-digit postcodes, anything else is dropped.
func cleanPostcode(s string) string {
	digits := digitsRE.ReplaceAllString(s, "")
	if len(digits) == 4 {
		return digits
	}
	return ""
}

func driveThru(rec scraper.RawRecord, name, street string) bool {
	switch v := rec["drive_thru"].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		}
	}
	return driveThruRE.MatchString(name) || driveThruRE.MatchString(street)
}

// shoppingCentre pulls a centre name out of the street address when one of
// the known centre suffixes appears; short matches and plain street names
// are rejected.
func shoppingCentre(street string) string {
	for _, re := range shoppingCentreREs {
		match := re.FindStringSubmatch(street)
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		for _, prefix := range centrePrefixREs {
			name = prefix.ReplaceAllString(name, "")
		}
		name = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(name), ","))
		if len(name) < 3 || streetNameRE.MatchString(name) {
			continue
		}
		return name
	}
	return ""
}
