package estimation

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

const (
	strongConsensusRatio = 0.6
	wideSpreadRatio      = 0.4
)

// Bucket is one entry of the vote distribution.
type Bucket struct {
	Value string  `json:"value"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// Stats summarizes a revealed round. Consensus labels are advisory only.
type Stats struct {
	Revealed        bool     `json:"revealed"`
	TotalVotes      int      `json:"total_votes"`
	NumericCount    int      `json:"numeric_count"`
	Average         float64  `json:"average"`
	Median          float64  `json:"median"`
	Distribution    []Bucket `json:"distribution"`
	ConsensusRatio  float64  `json:"consensus_ratio"`
	StrongConsensus bool     `json:"strong_consensus"`
	WideSpread      bool     `json:"wide_spread"`
}

// HasNumeric reports whether average and median are meaningful.
func (s Stats) HasNumeric() bool { return s.NumericCount > 0 }

// Aggregate computes round statistics. Nothing is computed while cards are hidden.
func Aggregate(estimates []models.Estimate, revealed bool) Stats {
	if !revealed {
		return Stats{}
	}

	stats := Stats{Revealed: true}
	counts := make(map[string]int)
	var order []string
	var numeric []float64

	for i := range estimates {
		if !estimates[i].HasValue() {
			continue
		}
		v := *estimates[i].Value
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
		stats.TotalVotes++

		if v == models.WildcardCard {
			continue
		}
		if f, ok := parseNumber(v); ok {
			numeric = append(numeric, f)
		}
	}
	if stats.TotalVotes == 0 {
		return stats
	}

	stats.NumericCount = len(numeric)
	if len(numeric) > 0 {
		sort.Float64s(numeric)
		sum := 0.0
		for _, f := range numeric {
			sum += f
		}
		stats.Average = math.Round(sum/float64(len(numeric))*10) / 10
		mid := len(numeric) / 2
		if len(numeric)%2 == 1 {
			stats.Median = numeric[mid]
		} else {
			stats.Median = (numeric[mid-1] + numeric[mid]) / 2
		}
	}

	sortDistributionKeys(order)
	maxCount := 0
	stats.Distribution = make([]Bucket, 0, len(order))
	for _, v := range order {
		c := counts[v]
		if c > maxCount {
			maxCount = c
		}
		stats.Distribution = append(stats.Distribution, Bucket{
			Value: v,
			Count: c,
			Share: float64(c) / float64(stats.TotalVotes),
		})
	}

	stats.ConsensusRatio = float64(maxCount) / float64(stats.TotalVotes)
	stats.StrongConsensus = stats.ConsensusRatio >= strongConsensusRatio
	stats.WideSpread = stats.ConsensusRatio < wideSpreadRatio && len(order) > 2
	return stats
}

// sortDistributionKeys sorts numerically when every key is a number, else lexically.
func sortDistributionKeys(keys []string) {
	allNumeric := true
	values := make(map[string]float64, len(keys))
	for _, k := range keys {
		f, ok := parseNumber(k)
		if !ok {
			allNumeric = false
			break
		}
		values[k] = f
	}
	if allNumeric {
		sort.SliceStable(keys, func(i, j int) bool { return values[keys[i]] < values[keys[j]] })
		return
	}
	sort.Strings(keys)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
