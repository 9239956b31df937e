// Package retrieval supplies worked examples for retrieval-dependent
// techniques. Failures here are degradations: the pipeline continues with
// an empty example set.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// MemoryStore is an in-memory exemplar store keyed by task type. It
// implements core.Retriever.
type MemoryStore struct {
	mu     sync.RWMutex
	byTask map[core.TaskType][]string
}

// NewMemoryStore creates a store seeded with a small exemplar corpus.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTask: map[core.TaskType][]string{
			core.TaskMathReasoning: {
				"Q: A train travels 120 km in 2 hours. What is its speed?\nA: Speed is distance over time: 120 / 2 = 60 km/h.",
				"Q: If 4y - 8 = 12, what is y?\nA: Add 8 to both sides: 4y = 20. Divide by 4: y = 5.",
			},
			core.TaskDataAnalysis: {
				"When analyzing a time series, separate trend, seasonality, and residual before drawing conclusions.",
				"Correlation between two variables does not establish causation; check for confounders.",
			},
			core.TaskSummarization: {
				"A good summary states the main claim first, then the two or three strongest supporting points, and omits examples.",
			},
			core.TaskGeneralQA: {
				"Q: Why is the sky blue?\nA: Shorter blue wavelengths scatter more in the atmosphere (Rayleigh scattering).",
			},
		},
	}
}

// Add appends an exemplar for a task type.
func (s *MemoryStore) Add(taskType core.TaskType, example string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTask[taskType] = append(s.byTask[taskType], example)
}

// Retrieve returns up to limit exemplars for the task type, ranked by
// naive keyword overlap with the query.
func (s *MemoryStore) Retrieve(ctx context.Context, query string, taskType core.TaskType, limit int) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	pool := s.byTask[taskType]
	s.mu.RUnlock()

	if limit <= 0 || len(pool) == 0 {
		return nil, nil
	}

	type ranked struct {
		example string
		score   int
	}
	queryWords := strings.Fields(strings.ToLower(query))
	scored := make([]ranked, 0, len(pool))
	for _, ex := range pool {
		lower := strings.ToLower(ex)
		score := 0
		for _, w := range queryWords {
			if len(w) >= 3 && strings.Contains(lower, w) {
				score++
			}
		}
		scored = append(scored, ranked{example: ex, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if limit > len(scored) {
		limit = len(scored)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = scored[i].example
	}
	return out, nil
}
