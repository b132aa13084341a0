package harvest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/catalog-harvester/internal/artifact"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	known := func(size int64) harvest.Record {
		return harvest.Record{RemoteSize: size, RemoteSizeKnown: true}
	}
	existing := artifact.Artifact{Name: "2021_1_de.pdf", Size: 500000}

	cases := []struct {
		name         string
		rec          harvest.Record
		found        bool
		conservative bool
		want         harvest.Decision
	}{
		{"larger existing", known(400000), true, false, harvest.DecisionSkip},
		{"equal existing", known(500000), true, false, harvest.DecisionSkip},
		{"smaller existing", known(600000), true, false, harvest.DecisionDownloadReplace},
		{"nothing held", known(600000), false, false, harvest.DecisionDownloadNew},
		{"unknown size nothing held", harvest.Record{}, false, false, harvest.DecisionDownloadNew},
		{"unknown size held", harvest.Record{}, true, false, harvest.DecisionDownloadNew},
		{"unknown size held conservative", harvest.Record{}, true, true, harvest.DecisionSkip},
		{"unknown size nothing held conservative", harvest.Record{}, false, true, harvest.DecisionDownloadNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := harvest.Decide(tc.rec, existing, tc.found, tc.conservative)
			assert.Equal(t, tc.want, got, got.String())
		})
	}
}

func TestDecisionString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SKIP", harvest.DecisionSkip.String())
	assert.Equal(t, "DOWNLOAD_NEW", harvest.DecisionDownloadNew.String())
	assert.Equal(t, "DOWNLOAD_REPLACE", harvest.DecisionDownloadReplace.String())
	assert.Equal(t, "UNKNOWN", harvest.Decision(42).String())
}
