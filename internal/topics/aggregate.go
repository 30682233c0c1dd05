package topics

import (
	"sort"

	"github.com/MrWong99/reelsonar/pkg/types"
)

// engagementWeight is fixed until an engagement data source exists; the
// multiplier stays in the formula so stored aggregates keep their shape.
const engagementWeight = 1.0

// Aggregate rolls per-video topic records up into one aggregate per
// canonical topic: the number of videos it appears in, the mean confidence
// across all its records, and the combined ranking score
// frequency × avg_score × engagement_weight. Output is sorted by combined
// score descending (canonical name ascending on ties) and is deterministic
// regardless of map iteration order.
func Aggregate(perVideo map[string][]types.TopicRecord) []types.AccountTagAggregate {
	type bucket struct {
		sum    float64
		count  int
		videos map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	videoIDs := make([]string, 0, len(perVideo))
	for id := range perVideo {
		videoIDs = append(videoIDs, id)
	}
	sort.Strings(videoIDs)

	for _, videoID := range videoIDs {
		for _, rec := range perVideo[videoID] {
			b := buckets[rec.Canonical]
			if b == nil {
				b = &bucket{videos: make(map[string]struct{})}
				buckets[rec.Canonical] = b
			}
			b.sum += rec.Confidence
			b.count++
			b.videos[videoID] = struct{}{}
		}
	}

	out := make([]types.AccountTagAggregate, 0, len(buckets))
	for canonical, b := range buckets {
		ids := make([]string, 0, len(b.videos))
		for id := range b.videos {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		avg := b.sum / float64(b.count)
		out = append(out, types.AccountTagAggregate{
			Canonical:        canonical,
			Frequency:        len(b.videos),
			AvgScore:         avg,
			CombinedScore:    float64(len(b.videos)) * avg * engagementWeight,
			EngagementWeight: engagementWeight,
			VideoIDs:         ids,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		return out[i].Canonical < out[j].Canonical
	})
	return out
}
