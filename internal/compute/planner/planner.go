package planner

import (
	"math"
	"sort"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/node"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// DefaultHopLatency is used for hops without a measured latency.
const DefaultHopLatency = 50 * time.Millisecond

// Planner partitions units across nodes in proportion to their score.
type Planner struct {
	hopLatency time.Duration
	clock      time2.Clock
}

// New creates a planner; non-positive hopLatency means DefaultHopLatency.
func New(hopLatency time.Duration, clock time2.Clock) *Planner {
	if hopLatency <= 0 {
		hopLatency = DefaultHopLatency
	}
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Planner{hopLatency: hopLatency, clock: clock}
}

type weighted struct {
	node  *node.ComputeNode
	score float64
}

// Plan splits [0, totalUnits) over candidates. Offline and zero-score
// nodes are skipped. Units go out in score-descending order (ties by
// peer id); every node gets floor(total*share) except the last, which
// takes the remainder. The pipeline is ordered by first owned unit.
func (p *Planner) Plan(candidates []*node.ComputeNode, totalUnits int, targetID string) (*protocol.DistributionPlan, error) {
	if totalUnits <= 0 {
		return nil, errors.Errorf("total units must be positive, got %d", totalUnits)
	}

	var pool []weighted
	var sum float64
	for _, n := range candidates {
		if !n.Active() {
			continue
		}
		score := n.Score()
		if score <= 0 || math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		pool = append(pool, weighted{node: n, score: score})
		sum += score
	}
	if len(pool) == 0 {
		return nil, protocol.NewNoCapacityError(targetID)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		return pool[i].node.PeerID < pool[j].node.PeerID
	})

	assignments := make(map[string][]int, len(pool))
	latencyOf := make(map[string]time.Duration, len(pool))
	next := 0
	for i, w := range pool {
		count := int(math.Floor(float64(totalUnits) * w.score / sum))
		if i == len(pool)-1 {
			count = totalUnits - next
		}
		if next+count > totalUnits {
			count = totalUnits - next
		}
		if count <= 0 {
			continue
		}
		units := make([]int, count)
		for u := range units {
			units[u] = next + u
		}
		next += count
		assignments[w.node.PeerID] = units
		latencyOf[w.node.PeerID] = w.node.Latency
	}

	pipeline := make([]string, 0, len(assignments))
	for id := range assignments {
		pipeline = append(pipeline, id)
	}
	sort.Slice(pipeline, func(i, j int) bool {
		return assignments[pipeline[i]][0] < assignments[pipeline[j]][0]
	})

	var latency time.Duration
	for _, id := range pipeline[1:] {
		if l := latencyOf[id]; l > 0 {
			latency += l
		} else {
			latency += p.hopLatency
		}
	}

	plan := &protocol.DistributionPlan{
		TargetID:         targetID,
		TotalUnits:       totalUnits,
		Assignments:      assignments,
		Pipeline:         pipeline,
		EstimatedLatency: latency,
		CreatedAt:        p.clock.Now(),
	}

	log.Info().
		Str("target_id", targetID).
		Int("total_units", totalUnits).
		Strs("pipeline", pipeline).
		Dur("estimated_latency", latency).
		Msg("Computed distribution plan")

	return plan, nil
}
