package search

import (
	"sort"

	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
)

// Strategy selects how an email's point hits collapse into one score.
type Strategy string

const (
	// StrategyMaxScore takes the best raw point score as-is.
	StrategyMaxScore Strategy = "max_score"
	// StrategyWeighted scales each point by its type before taking the max,
	// favoring whole-document matches over single chunks.
	StrategyWeighted Strategy = "weighted"
	// StrategyProximity starts from the weighted score and rewards runs of
	// adjacent chunks, since several neighboring chunks matching usually
	// means the topic spans a passage rather than one stray sentence.
	StrategyProximity Strategy = "proximity"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyMaxScore, StrategyWeighted, StrategyProximity:
		return true
	default:
		return false
	}
}

const (
	weightFull    = 1.2
	weightSummary = 1.0
	weightChunk   = 0.8
	weightOther   = 1.0

	adjacentChunkBonus = 0.1
)

func typeWeight(pointType string) float64 {
	switch pointType {
	case domain.PointTypeFull:
		return weightFull
	case domain.PointTypeSummary:
		return weightSummary
	case domain.PointTypeChunk:
		return weightChunk
	default:
		return weightOther
	}
}

func scoreGroup(hits []scoredHit, strategy Strategy) float64 {
	switch strategy {
	case StrategyMaxScore:
		return maxRawScore(hits)
	case StrategyWeighted:
		return maxWeightedScore(hits)
	case StrategyProximity:
		return maxWeightedScore(hits) + proximityBonus(hits)
	default:
		return maxWeightedScore(hits)
	}
}

func maxRawScore(hits []scoredHit) float64 {
	best := 0.0
	for _, h := range hits {
		if h.score > best {
			best = h.score
		}
	}
	return best
}

func maxWeightedScore(hits []scoredHit) float64 {
	best := 0.0
	for _, h := range hits {
		if w := h.score * typeWeight(h.pointType); w > best {
			best = w
		}
	}
	return best
}

// proximityBonus pays the adjacency bonus once per consecutive ordinal pair
// among the chunk hits that made it into the result set.
func proximityBonus(hits []scoredHit) float64 {
	var ordinals []int
	seen := make(map[int]bool)
	for _, h := range hits {
		if h.pointType != domain.PointTypeChunk || !h.hasOrd {
			continue
		}
		if !seen[h.ordinal] {
			seen[h.ordinal] = true
			ordinals = append(ordinals, h.ordinal)
		}
	}
	if len(ordinals) < 2 {
		return 0
	}
	sort.Ints(ordinals)

	bonus := 0.0
	for i := 1; i < len(ordinals); i++ {
		if ordinals[i] == ordinals[i-1]+1 {
			bonus += adjacentChunkBonus
		}
	}
	return bonus
}
