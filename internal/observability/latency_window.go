package observability

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// StageLatency summarizes the recent samples of one turn stage.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget bool    `json:"over_budget,omitempty"`
}

// LatencySnapshot is the JSON body of /api/perf/latency.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	Outcomes    map[string]int `json:"outcomes,omitempty"`
}

// p95 budgets per stage; a call feels broken past these.
var stageBudgetMS = map[string]float64{
	"stt":        1500,
	"chat":       6000,
	"tts":        2500,
	"turn_total": 9000,
}

type latencyWindow struct {
	mu       sync.Mutex
	size     int
	samples  map[string][]float64
	outcomes map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:     size,
		samples:  make(map[string][]float64),
		outcomes: make(map[string]int),
	}
}

func (w *latencyWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.size {
		s = s[len(s)-w.size:]
	}
	w.samples[stage] = s
}

func (w *latencyWindow) countOutcome(status string) {
	if status == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[status]++
	w.mu.Unlock()
}

func (w *latencyWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageLatency, 0, len(w.samples)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.samples)) {
		recent := w.samples[stage]
		if len(recent) == 0 {
			continue
		}
		sorted := slices.Clone(recent)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		st := StageLatency{
			Stage:    stage,
			Samples:  len(sorted),
			LastMS:   recent[len(recent)-1],
			MeanMS:   roundMS(sum / float64(len(sorted))),
			P50MS:    nearestRank(sorted, 50),
			P95MS:    nearestRank(sorted, 95),
			MaxMS:    sorted[len(sorted)-1],
			BudgetMS: stageBudgetMS[stage],
		}
		st.OverBudget = st.BudgetMS > 0 && st.P95MS > st.BudgetMS
		snap.Stages = append(snap.Stages, st)
	}
	if len(w.outcomes) > 0 {
		snap.Outcomes = maps.Clone(w.outcomes)
	}
	return snap
}

// nearestRank returns the p-th percentile of sorted values.
func nearestRank(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func roundMS(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
