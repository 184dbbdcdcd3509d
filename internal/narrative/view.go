package narrative

import "time"

const previewChars = 100

// Summary is a read-only aggregate of the exploration state.
type Summary struct {
	ActiveCount    int     `json:"total_active_branches"`
	PrunedCount    int     `json:"total_pruned_branches"`
	MaxDepthSeen   int     `json:"max_depth_explored"`
	CollapsedCount int     `json:"collapsed_decisions"`
	AverageQuality float64 `json:"average_branch_quality"`
	HistoryLength  int     `json:"exploration_history_length"`
	RootID         string  `json:"root_branch_id"`
}

// Summary aggregates the current exploration state.
func (t *ExplorationTree) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary()
}

func (t *ExplorationTree) summary() Summary {
	sum := Summary{
		ActiveCount:    len(t.active),
		PrunedCount:    len(t.pruned),
		CollapsedCount: len(t.collapsed),
		HistoryLength:  len(t.history),
		RootID:         t.root.ID,
	}
	total := 0.0
	for _, s := range t.active {
		if s.depth > sum.MaxDepthSeen {
			sum.MaxDepthSeen = s.depth
		}
		total += t.quality(s)
	}
	if len(t.active) > 0 {
		sum.AverageQuality = total / float64(len(t.active))
	}
	return sum
}

// BranchView is the rendering of one active branch in a tree snapshot.
type BranchView struct {
	ID                string         `json:"id"`
	ContentPreview    string         `json:"content_preview"`
	DivergenceType    DivergenceType `json:"divergence_type"`
	DivergencePoint   string         `json:"divergence_point"`
	Quality           float64        `json:"quality_score"`
	ProbabilityWeight float64        `json:"probability_weight"`
	Depth             int            `json:"depth"`
	Children          []BranchView   `json:"children"`
	OnCollapsedPath   bool           `json:"is_collapsed"`
	Timestamp         time.Time      `json:"timestamp"`
}

// TreeView is a recursive snapshot of the active tree plus its summary.
type TreeView struct {
	Tree     BranchView `json:"tree"`
	Metadata Summary    `json:"metadata"`
}

// Visualization renders the active tree starting at the root. Pruned
// branches are left out.
func (t *ExplorationTree) Visualization() TreeView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	onPath := make(map[string]bool, len(t.collapsed))
	for _, id := range t.collapsed {
		onPath[id] = true
	}

	return TreeView{
		Tree:     t.viewOf(t.root, onPath),
		Metadata: t.summary(),
	}
}

func (t *ExplorationTree) viewOf(s *NarrativeState, onPath map[string]bool) BranchView {
	v := BranchView{
		ID:                s.ID,
		ContentPreview:    s.Preview(previewChars),
		DivergenceType:    s.DivergenceType,
		DivergencePoint:   s.DivergencePoint,
		Quality:           t.quality(s),
		ProbabilityWeight: s.ProbabilityWeight,
		Depth:             s.depth,
		Children:          []BranchView{},
		OnCollapsedPath:   onPath[s.ID],
		Timestamp:         s.CreatedAt,
	}
	for _, id := range s.children {
		if child, ok := t.active[id]; ok {
			v.Children = append(v.Children, t.viewOf(child, onPath))
		}
	}
	return v
}
