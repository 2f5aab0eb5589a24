// Package priority turns a cached stream's static attributes and its access
// pattern into a composite score used for relative eviction ordering, and
// classifies not-yet-cached streams into admission tiers.
package priority

import (
	"time"

	"github.com/streamvault/streamvault/pkg/types"
)

// Score component weights. Hand-tuned; only relative order matters.
const (
	liveBonus     = 3.0
	favoriteBonus = 3.0

	viewerBonusCap   = 2.0
	viewerBonusScale = 10000.0

	startedWithinHourBonus  = 2.0
	startedWithinSixHours   = 1.0
	frequencyBonusPerAccess = 0.5
	frequencyBonusCap       = 5.0
	frequentAccessBonus     = 2.0

	sizePenaltyCap     = 1.0
	sizePenaltyScaleMB = 100.0
)

// Admission tier thresholds.
const (
	criticalThreshold   = 8.0
	highThreshold       = 6.0
	mediumThreshold     = 4.0
	coldHighThreshold   = 6.0
	coldMediumThreshold = 4.0
)

var platformWeights = map[types.Platform]float64{
	types.PlatformTwitch:  1.5,
	types.PlatformYouTube: 1.2,
	types.PlatformKick:    1.0,
}

const defaultPlatformWeight = 0.5

// PlatformWeight returns the importance weight for a platform.
func PlatformWeight(p types.Platform) float64 {
	if w, ok := platformWeights[p]; ok {
		return w
	}
	return defaultPlatformWeight
}

// Score computes the eviction-ordering score of a cached stream record.
// pattern may be nil when the stream has never been read. The result is
// floored at zero.
func Score(rec *types.CachedStreamRecord, pattern *types.AccessPattern, now time.Time) float64 {
	score := BaseScore(&rec.Stream, now)

	if pattern != nil {
		score += patternBonus(pattern, now)
	}

	score += recencyBonus(now.Sub(rec.LastAccessed), 2.0, 1.5, 1.0)
	score -= sizePenalty(rec.SizeBytes)

	if score < 0 {
		return 0
	}
	return score
}

// BaseScore computes the static-attribute portion of the score: liveness,
// audience size, stream age, favorite flag, and platform weight.
func BaseScore(s *types.Stream, now time.Time) float64 {
	score := 0.0

	if s.IsLive {
		score += liveBonus
	}

	viewerBonus := float64(s.ViewerCount) / viewerBonusScale
	if viewerBonus > viewerBonusCap {
		viewerBonus = viewerBonusCap
	}
	score += viewerBonus

	if !s.StartedAt.IsZero() {
		age := now.Sub(s.StartedAt)
		switch {
		case age < time.Hour:
			score += startedWithinHourBonus
		case age < 6*time.Hour:
			score += startedWithinSixHours
		}
	}

	if s.IsFavorite {
		score += favoriteBonus
	}

	score += PlatformWeight(s.Platform)

	return score
}

// Predict buckets a not-yet-cached stream into an admission tier. A pattern
// left over from an earlier cached-then-evicted life raises the ceiling:
// with history the combined score can reach the critical tier, without it
// the base score alone tops out at high.
func Predict(s *types.Stream, pattern *types.AccessPattern, now time.Time) types.PriorityTier {
	base := BaseScore(s, now)

	if pattern == nil {
		switch {
		case base > coldHighThreshold:
			return types.TierHigh
		case base > coldMediumThreshold:
			return types.TierMedium
		default:
			return types.TierLow
		}
	}

	combined := base + patternBonus(pattern, now)
	switch {
	case combined > criticalThreshold:
		return types.TierCritical
	case combined > highThreshold:
		return types.TierHigh
	case combined > mediumThreshold:
		return types.TierMedium
	default:
		return types.TierLow
	}
}

func patternBonus(p *types.AccessPattern, now time.Time) float64 {
	bonus := float64(p.AccessFrequency) * frequencyBonusPerAccess
	if bonus > frequencyBonusCap {
		bonus = frequencyBonusCap
	}

	bonus += recencyBonus(p.Recency(now), 3.0, 2.0, 1.0)

	if p.IsFrequentlyAccessed() {
		bonus += frequentAccessBonus
	}

	return bonus
}

// recencyBonus maps an elapsed duration onto the <1h/<6h/<24h buckets.
func recencyBonus(elapsed time.Duration, hour, sixHours, day float64) float64 {
	switch {
	case elapsed < time.Hour:
		return hour
	case elapsed < 6*time.Hour:
		return sixHours
	case elapsed < 24*time.Hour:
		return day
	default:
		return 0
	}
}

func sizePenalty(sizeBytes int64) float64 {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	penalty := sizeMB / sizePenaltyScaleMB
	if penalty > sizePenaltyCap {
		penalty = sizePenaltyCap
	}
	return penalty
}
