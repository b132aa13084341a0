package harvest

import "github.com/JakeFAU/catalog-harvester/internal/artifact"

// Decide compares a record against the largest artifact already held for its
// identity. A found existing artifact that is at least as large as the
// advertised size wins.
func Decide(rec Record, existing artifact.Artifact, found, conservative bool) Decision {
	if !found {
		return DecisionDownloadNew
	}
	if !rec.RemoteSizeKnown {
		return unknownSizeDecision(conservative)
	}
	if existing.Size >= rec.RemoteSize {
		return DecisionSkip
	}
	return DecisionDownloadReplace
}

// unknownSizeDecision handles an existing artifact whose remote counterpart
// does not advertise a size. Without the conservative setting the artifact is
// fetched and the sizes are compared once it is on disk.
func unknownSizeDecision(conservative bool) Decision {
	if conservative {
		return DecisionSkip
	}
	return DecisionDownloadNew
}
