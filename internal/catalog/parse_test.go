package catalog_test

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

const listingHTML = `<html><body>
<div id="sidebar"><div class="row efxRecordRepeater"><a href="/ignored.pdf">outside</a></div></div>
<div id="results-container">
  <div class="row efxRecordRepeater">
    <div class="shortsummary-url"><a href="/record/1" alt="abc123 Evaluation report">Evaluation</a></div>
    <div class="tab-pane">
      <div class="row"><div>Link</div><div><a href="/record/1">landing</a></div></div>
      <div class="row"><div>Titel</div><div>  Water   supply </div></div>
      <div class="row"><div>Erscheinungsdatum</div><div>03.2021</div></div>
      <div class="row"><div>Download</div><div><a href="files/report.pdf?x=1">Report (PDF, 120 KB)</a></div></div>
    </div>
  </div>
  <div class="row efxRecordRepeater">
    <div class="tab-pane"><div class="row"><div>Titel</div><div>No links</div></div></div>
  </div>
</div>
</body></html>`

func testSelectors() catalog.Selectors {
	return catalog.Selectors{
		Container:   "#results-container",
		Record:      ".row.efxRecordRepeater",
		SummaryLink: ".shortsummary-url a",
		DetailRow:   ".tab-pane .row",
	}
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://catalog.example/esearch/browse.html")
	require.NoError(t, err)

	entries, err := catalog.ParseListing(strings.NewReader(listingHTML), testSelectors(), base)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "abc123", first.Slug)
	assert.Equal(t, "https://catalog.example/record/1", first.SourceURL)
	title, ok := first.Details.Get("Titel")
	require.True(t, ok)
	assert.Equal(t, "Water supply", title)
	date, _ := first.Details.Get("Erscheinungsdatum")
	assert.Equal(t, "03.2021", date)
	assert.Equal(t, "Titel", first.Details[1].Label)
	require.Len(t, first.Links, 3)
	assert.Equal(t, catalog.Link{
		Href: "https://catalog.example/esearch/files/report.pdf?x=1",
		Text: "Report (PDF, 120 KB)",
	}, first.Links[2])
	assert.Contains(t, first.Text, "Water supply")

	second := entries[1]
	assert.Empty(t, second.Slug)
	assert.Empty(t, second.SourceURL)
	assert.Empty(t, second.Links)
}

func TestParseListingRequiresRecordSelector(t *testing.T) {
	t.Parallel()

	_, err := catalog.ParseListing(strings.NewReader(listingHTML), catalog.Selectors{}, nil)
	require.Error(t, err)
}

func TestFieldsKeepOrderInJSON(t *testing.T) {
	t.Parallel()

	fields := catalog.Fields{}.Set("zeta", "1").Set("alpha", "2").Set("zeta", "3")
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"3","alpha":"2"}`, string(raw))

	var decoded catalog.Fields
	require.NoError(t, json.Unmarshal([]byte(`{"b":"x","a":"y","n":7}`), &decoded))
	assert.Equal(t, catalog.Fields{{"b", "x"}, {"a", "y"}, {"n", "7"}}, decoded)
}
