package evaluate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"lootforge/internal/contract"
	"lootforge/internal/manifest"
)

// Consistency scoring constants. A member whose metrics sit further
// than the group threshold from the group medians is an outlier; the
// overshoot converts to a capped score penalty.
const (
	defaultOutlierWarnThreshold = 0.35
	consistencyMinMembers       = 3
	maxConsistencyPenalty       = 25.0
)

// applyConsistency finds outliers within each consistency group,
// charges them a penalty in place, and returns the invariant warnings
// describing them. Groups under three members carry too little signal
// and are skipped.
func applyConsistency(index *contract.TargetsIndex, groups map[string]manifest.ConsistencyGroup, evals []contract.TargetEvaluation) []contract.InvariantIssue {
	byId := make(map[string]*contract.TargetEvaluation, len(evals))
	for i := range evals {
		byId[evals[i].TargetId] = &evals[i]
	}

	members := map[string][]*contract.TargetEvaluation{}
	for i := range index.Targets {
		t := &index.Targets[i]
		if t.ConsistencyGroup == "" {
			continue
		}
		if ev, ok := byId[t.Id]; ok {
			members[t.ConsistencyGroup] = append(members[t.ConsistencyGroup], ev)
		}
	}
	var names []string
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []contract.InvariantIssue
	for _, name := range names {
		group := members[name]
		if len(group) < consistencyMinMembers {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].TargetId < group[j].TargetId })
		threshold := groups[name].OutlierWarnThreshold
		if threshold <= 0 {
			threshold = defaultOutlierWarnThreshold
		}
		issues = append(issues, groupOutliers(name, group, threshold)...)
	}
	return issues
}

// groupOutliers compares each member's metric vector to the group
// medians. The vector is the candidate score plus every adapter's
// primary score; deviations are normalized by max(|median|, 1) so
// metrics on different scales stay comparable, then averaged.
func groupOutliers(name string, group []*contract.TargetEvaluation, threshold float64) []contract.InvariantIssue {
	metrics := map[string][]float64{}
	for _, ev := range group {
		metrics["candidateScore"] = append(metrics["candidateScore"], ev.CandidateScore)
		for k, v := range ev.AdapterMetrics {
			if strings.Contains(k, ".") {
				continue // sub-metrics are adapter-internal detail
			}
			metrics[k] = append(metrics[k], v)
		}
	}
	medians := map[string]float64{}
	for metric, values := range metrics {
		if len(values) >= consistencyMinMembers {
			medians[metric] = median(values)
		}
	}

	var issues []contract.InvariantIssue
	for _, ev := range group {
		var sum float64
		var n int
		accumulate := func(metric string, v float64) {
			m, ok := medians[metric]
			if !ok {
				return
			}
			sum += math.Abs(v-m) / math.Max(math.Abs(m), 1)
			n++
		}
		accumulate("candidateScore", ev.CandidateScore)
		for k, v := range ev.AdapterMetrics {
			if !strings.Contains(k, ".") {
				accumulate(k, v)
			}
		}
		if n == 0 {
			continue
		}
		deviation := sum / float64(n)
		if deviation <= threshold {
			continue
		}
		ev.ConsistencyPenalty += math.Min(maxConsistencyPenalty, (deviation-threshold)*100)
		issues = append(issues, contract.InvariantIssue{
			Level:     "warning",
			Code:      "consistency_outlier",
			Message:   fmt.Sprintf("group %s: %s deviates %.2f from the group medians (threshold %.2f)", name, ev.TargetId, deviation, threshold),
			TargetIds: []string{ev.TargetId},
		})
	}
	return issues
}

func median(values []float64) float64 {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
