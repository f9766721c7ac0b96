package scoring

import (
	"fmt"
	"math"
)

// minChannelWeight keeps every channel in play so a temporarily
// uninformative signal can recover once more feedback arrives.
const minChannelWeight = 0.02

// Observation pairs one published clip's per-channel scores with its
// realized engagement in [0, 1].
type Observation struct {
	Scores     map[string]float64
	Engagement float64
}

// AdaptWeights produces a replacement weight vector by correlating each
// channel's historical scores against realized engagement. Channels whose
// scores track engagement gain weight; anti-correlated or flat channels
// shrink toward the floor. The result always sums to 1.
//
// The caller swaps the active vector between scoring runs; a single run
// never sees a mid-computation change.
func AdaptWeights(current Weights, history []Observation) (Weights, error) {
	if err := current.Validate(); err != nil {
		return nil, fmt.Errorf("invalid current weights: %w", err)
	}
	if len(history) < 3 {
		// Too little feedback to move on; keep the current vector.
		return current, nil
	}

	adapted := make(Weights, len(current))
	var sum float64
	for channel, weight := range current {
		corr := channelCorrelation(channel, history)
		// Map correlation [-1, 1] onto a multiplier [0.5, 1.5].
		next := weight * (1 + corr/2)
		if next < minChannelWeight {
			next = minChannelWeight
		}
		adapted[channel] = next
		sum += next
	}
	for channel := range adapted {
		adapted[channel] /= sum
	}
	return adapted, nil
}

// channelCorrelation computes the Pearson correlation between one
// channel's scores and engagement across the history. Returns 0 when the
// channel has no variance.
func channelCorrelation(channel string, history []Observation) float64 {
	n := float64(len(history))
	var sumX, sumY float64
	for _, obs := range history {
		sumX += obs.Scores[channel]
		sumY += obs.Engagement
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for _, obs := range history {
		dx := obs.Scores[channel] - meanX
		dy := obs.Engagement - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
