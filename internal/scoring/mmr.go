package scoring

// Item is one reranking candidate. Items without an embedding contribute zero
// similarity during MMR selection, so they are penalized only by relevance.
type Item struct {
	ID        string
	Score     float64
	Embedding []float32
}

// AdaptiveLambda picks the MMR relevance/diversity trade-off from the score
// distribution of a score-sorted candidate list. A large gap between the top
// score and the mean means one candidate clearly dominates, so relevance wins;
// a flat distribution means diversity is cheap, so diversity wins.
func AdaptiveLambda(scores []float64, lambdaMin, lambdaMax float64) float64 {
	mid := (lambdaMin + lambdaMax) / 2
	if len(scores) == 0 {
		return mid
	}

	top := scores[0]
	var sum float64
	for _, s := range scores {
		sum += s
	}
	gap := top - sum/float64(len(scores))

	switch {
	case gap > 0.3:
		return lambdaMax
	case gap > 0.2:
		return mid + 0.05
	case gap > 0.1:
		return mid
	default:
		return lambdaMin
	}
}

// MMR selects up to k items by maximal marginal relevance from a score-sorted
// candidate list: each step picks the candidate maximizing
// lambda*relevance - (1-lambda)*maxSimilarityToSelected. The returned order is
// the selection order, which downstream ranking preserves.
func MMR(candidates []Item, lambda float64, k int) []Item {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]Item, 0, k)
	remaining := make([]Item, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := mmrScore(remaining[0], selected, lambda)
		for i := 1; i < len(remaining); i++ {
			if s := mmrScore(remaining[i], selected, lambda); s > bestScore {
				bestIdx, bestScore = i, s
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func mmrScore(candidate Item, selected []Item, lambda float64) float64 {
	var maxSim float64
	if len(candidate.Embedding) > 0 {
		for _, s := range selected {
			if sim := CosineSimilarity(candidate.Embedding, s.Embedding); sim > maxSim {
				maxSim = sim
			}
		}
	}
	return lambda*candidate.Score - (1-lambda)*maxSim
}
