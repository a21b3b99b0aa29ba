package parsers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qsrscan/location-scraper/internal/scraper"
)

func cssOptions() map[string]any {
	return map[string]any{
		"phases": []map[string]any{
			{"link_selector": "a.region"},
			{
				"record_selector": "div.store",
				"fields": map[string]any{
					"name":    "h2",
					"address": "p.addr",
				},
				"attr_fields": map[string]any{
					"map_link": "a.map@href",
				},
			},
		},
	}
}

const regionPage = `<html><body>
<a class="region" href="/regions/north">North</a>
<a class="region" href="https://acme.test/regions/south">South</a>
<a class="other" href="/ignored">x</a>
</body></html>`

const storePage = `<html><body>
<div class="store">
  <h2> Acme Central </h2>
  <p class="addr">1 Main St</p>
  <a class="map" href="https://maps.test/1">map</a>
</div>
<div class="store">
  <h2>Acme North</h2>
  <p class="addr">2 High St</p>
</div>
</body></html>`

func TestCSSListExtractsLinks(t *testing.T) {
	parser, err := NewCSSList(cssOptions())
	require.NoError(t, err)

	result, err := parser.Extract(context.Background(), "https://acme.test/stores", []byte(regionPage), 0, nil)
	require.NoError(t, err)
	require.Empty(t, result.Records)
	require.Equal(t, []string{
		"https://acme.test/regions/north",
		"https://acme.test/regions/south",
	}, result.NextURLs)
}

func TestCSSListExtractsRecords(t *testing.T) {
	parser, err := NewCSSList(cssOptions())
	require.NoError(t, err)

	result, err := parser.Extract(context.Background(), "https://acme.test/regions/north", []byte(storePage), 1, nil)
	require.NoError(t, err)
	require.Empty(t, result.NextURLs)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	require.Equal(t, "Acme Central", first["name"])
	require.Equal(t, "1 Main St", first["address"])
	require.Equal(t, "https://maps.test/1", first["map_link"])
	require.Equal(t, "https://acme.test/regions/north", first["source_url"])

	second := result.Records[1]
	require.Equal(t, "Acme North", second["name"])
	require.Equal(t, "", second["map_link"])
}

func TestCSSListReportsStructureMismatch(t *testing.T) {
	parser, err := NewCSSList(cssOptions())
	require.NoError(t, err)

	_, err = parser.Extract(context.Background(), "https://acme.test/stores", []byte("<html><body>maintenance</body></html>"), 0, nil)
	var perr *scraper.ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 0, perr.Phase)
}

func TestCSSListRejectsPhaseBeyondSpec(t *testing.T) {
	parser, err := NewCSSList(cssOptions())
	require.NoError(t, err)

	_, err = parser.Extract(context.Background(), "https://acme.test", []byte(storePage), 2, nil)
	var perr *scraper.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestNewCSSListValidatesOptions(t *testing.T) {
	cases := []struct {
		name string
		opts map[string]any
	}{
		{"no phases", map[string]any{}},
		{"both selectors", map[string]any{
			"phases": []map[string]any{{"link_selector": "a", "record_selector": "div"}},
		}},
		{"record phase without fields", map[string]any{
			"phases": []map[string]any{{"record_selector": "div"}},
		}},
		{"malformed attr field", map[string]any{
			"phases": []map[string]any{{
				"record_selector": "div",
				"attr_fields":     map[string]any{"link": "a.map"},
			}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCSSList(tc.opts)
			require.Error(t, err)
		})
	}
}
