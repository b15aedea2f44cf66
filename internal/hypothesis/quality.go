package hypothesis

import (
	"time"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// EvidenceQuality scores a set of supporting observations by volume, kind
// diversity and recency. Recency is measured against latest, the newest
// timestamp on the incident, so the score does not depend on when it is
// computed. Observations without a timestamp never count as recent.
func (q Quality) EvidenceQuality(items []incident.Evidence, latest time.Time) float64 {
	if len(items) == 0 {
		return 0
	}

	volume := float64(len(items)) / float64(q.VolumeSaturation)
	if volume > 1 {
		volume = 1
	}

	kinds := make(map[incident.Kind]struct{}, len(incident.Kinds))
	recent := 0
	for _, e := range items {
		kinds[e.Kind] = struct{}{}
		if !e.ObservedAt.IsZero() && !latest.IsZero() && latest.Sub(e.ObservedAt) <= q.RecencyWindow {
			recent++
		}
	}
	diversity := float64(len(kinds)) / float64(len(incident.Kinds))
	recency := float64(recent) / float64(len(items))

	return incident.Score(q.VolumeWeight*volume + q.DiversityWeight*diversity + q.RecencyWeight*recency)
}

func latestObservation(items []incident.Evidence) time.Time {
	var latest time.Time
	for _, e := range items {
		if e.ObservedAt.After(latest) {
			latest = e.ObservedAt
		}
	}
	return latest
}
