package narrative

import (
	"fmt"
	"sort"
	"time"
)

// StateSnapshot is the serializable form of a NarrativeState.
type StateSnapshot struct {
	ID                    string                        `json:"branch_id"`
	CreatedAt             time.Time                     `json:"timestamp"`
	ParentID              string                        `json:"parent_branch,omitempty"`
	Children              []string                      `json:"child_branches"`
	Depth                 int                           `json:"depth_level"`
	Content               string                        `json:"narrative_content"`
	Outline               string                        `json:"scene_outline,omitempty"`
	Dialogue              []string                      `json:"dialogue_fragments,omitempty"`
	StageDirections       []string                      `json:"stage_directions,omitempty"`
	CharacterStates       map[string]map[string]any     `json:"character_states,omitempty"`
	WorldState            map[string]any                `json:"world_state,omitempty"`
	Relationships         map[string]map[string]float64 `json:"relationship_matrix,omitempty"`
	DivergencePoint       string                        `json:"divergence_point,omitempty"`
	DivergenceType        DivergenceType                `json:"divergence_type"`
	DivergenceDescription string                        `json:"divergence_description,omitempty"`
	Scores                Scores                        `json:"scores"`
	ProbabilityWeight     float64                       `json:"probability_weight"`
	CreativeRisk          float64                       `json:"creative_risk_level"`
	InnovationScore       float64                       `json:"innovation_score"`
	Notes                 []string                      `json:"exploration_notes,omitempty"`
	Seq                   int                           `json:"seq"`
}

// TreeSnapshot is the serializable form of an ExplorationTree. Active and
// Pruned list states in admission order.
type TreeSnapshot struct {
	RootID              string               `json:"root_id"`
	Active              []StateSnapshot      `json:"active_branches"`
	Pruned              []StateSnapshot      `json:"pruned_branches"`
	CollapsedPath       []string             `json:"collapsed_path"`
	History             []CollapseRecord     `json:"exploration_history"`
	MaxActiveBranches   int                  `json:"max_active_branches"`
	MaxDepth            int                  `json:"max_exploration_depth"`
	MinQualityThreshold float64              `json:"min_quality_threshold"`
	AutoCollapse        bool                 `json:"auto_collapse_enabled"`
	Weights             QualityWeights       `json:"quality_weights"`
	InnovationBonus     float64              `json:"innovation_bonus"`
	MinSelectionWeight  float64              `json:"min_selection_weight"`
	Strategies          []GenerationStrategy `json:"generation_strategies"`
	Triggers            []CollapseTrigger    `json:"collapse_triggers"`
}

// Snapshot returns a deep, serializable copy of s.
func (s *NarrativeState) Snapshot() StateSnapshot {
	return StateSnapshot{
		ID:                    s.ID,
		CreatedAt:             s.CreatedAt,
		ParentID:              s.parentID,
		Children:              s.Children(),
		Depth:                 s.depth,
		Content:               s.Content,
		Outline:               s.Outline,
		Dialogue:              append([]string(nil), s.Dialogue...),
		StageDirections:       append([]string(nil), s.StageDirections...),
		CharacterStates:       copyCharacterStates(s.CharacterStates),
		WorldState:            copyAnyMap(s.WorldState),
		Relationships:         copyRelationships(s.Relationships),
		DivergencePoint:       s.DivergencePoint,
		DivergenceType:        s.DivergenceType,
		DivergenceDescription: s.DivergenceDescription,
		Scores:                s.Scores,
		ProbabilityWeight:     s.ProbabilityWeight,
		CreativeRisk:          s.CreativeRisk,
		InnovationScore:       s.InnovationScore,
		Notes:                 s.Notes(),
	}
}

func stateFromSnapshot(snap StateSnapshot) *NarrativeState {
	return &NarrativeState{
		ID:                    snap.ID,
		CreatedAt:             snap.CreatedAt,
		parentID:              snap.ParentID,
		children:              append([]string(nil), snap.Children...),
		depth:                 snap.Depth,
		Content:               snap.Content,
		Outline:               snap.Outline,
		Dialogue:              append([]string(nil), snap.Dialogue...),
		StageDirections:       append([]string(nil), snap.StageDirections...),
		CharacterStates:       copyCharacterStates(snap.CharacterStates),
		WorldState:            copyAnyMap(snap.WorldState),
		Relationships:         copyRelationships(snap.Relationships),
		DivergencePoint:       snap.DivergencePoint,
		DivergenceType:        snap.DivergenceType,
		DivergenceDescription: snap.DivergenceDescription,
		Scores:                snap.Scores,
		ProbabilityWeight:     snap.ProbabilityWeight,
		CreativeRisk:          snap.CreativeRisk,
		InnovationScore:       snap.InnovationScore,
		notes:                 append([]string(nil), snap.Notes...),
	}
}

// Snapshot captures the whole tree.
func (t *ExplorationTree) Snapshot() TreeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TreeSnapshot{
		RootID:              t.root.ID,
		CollapsedPath:       append([]string{}, t.collapsed...),
		History:             append([]CollapseRecord{}, t.history...),
		MaxActiveBranches:   t.opts.MaxActiveBranches,
		MaxDepth:            t.opts.MaxDepth,
		MinQualityThreshold: t.opts.MinQualityThreshold,
		AutoCollapse:        t.opts.AutoCollapse,
		Weights:             t.opts.Weights,
		InnovationBonus:     t.opts.InnovationBonus,
		MinSelectionWeight:  t.opts.MinSelectionWeight,
		Strategies:          append([]GenerationStrategy{}, t.opts.Strategies...),
		Triggers:            append([]CollapseTrigger{}, t.opts.Triggers...),
	}
	for _, s := range t.activeInOrder() {
		ss := s.Snapshot()
		ss.Seq = t.seq[s.ID]
		snap.Active = append(snap.Active, ss)
	}
	for _, s := range t.inOrder(t.pruned) {
		ss := s.Snapshot()
		ss.Seq = t.seq[s.ID]
		snap.Pruned = append(snap.Pruned, ss)
	}
	return snap
}

func (t *ExplorationTree) inOrder(states map[string]*NarrativeState) []*NarrativeState {
	out := make([]*NarrativeState, 0, len(states))
	for _, s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.seq[out[i].ID] < t.seq[out[j].ID]
	})
	return out
}

func (t *ExplorationTree) track(id string, seq int) {
	t.seq[id] = seq
	if seq >= t.nextSeq {
		t.nextSeq = seq + 1
	}
}

// Restore rebuilds a tree from a snapshot. It checks that the root exists,
// every parent reference resolves, parent and child links agree, and depths
// step by one.
func Restore(snap TreeSnapshot) (*ExplorationTree, error) {
	t := &ExplorationTree{
		active:    make(map[string]*NarrativeState),
		pruned:    make(map[string]*NarrativeState),
		seq:       make(map[string]int),
		collapsed: append([]string(nil), snap.CollapsedPath...),
		history:   append([]CollapseRecord(nil), snap.History...),
		opts: Options{
			MaxActiveBranches:   snap.MaxActiveBranches,
			MaxDepth:            snap.MaxDepth,
			MinQualityThreshold: snap.MinQualityThreshold,
			Strategies:          snap.Strategies,
			Triggers:            snap.Triggers,
			AutoCollapse:        snap.AutoCollapse,
			Weights:             snap.Weights,
			InnovationBonus:     snap.InnovationBonus,
			MinSelectionWeight:  snap.MinSelectionWeight,
		}.normalized(),
	}

	for _, s := range snap.Active {
		if _, dup := t.active[s.ID]; dup {
			return nil, fmt.Errorf("duplicate branch id %s", s.ID)
		}
		t.active[s.ID] = stateFromSnapshot(s)
		t.track(s.ID, s.Seq)
	}
	for _, s := range snap.Pruned {
		if t.known(s.ID) {
			return nil, fmt.Errorf("duplicate branch id %s", s.ID)
		}
		t.pruned[s.ID] = stateFromSnapshot(s)
		t.track(s.ID, s.Seq)
	}

	root, ok := t.active[snap.RootID]
	if !ok {
		root, ok = t.pruned[snap.RootID]
	}
	if !ok {
		return nil, fmt.Errorf("root branch %s missing from snapshot", snap.RootID)
	}
	t.root = root

	if root.parentID != "" || root.depth != 0 {
		return nil, fmt.Errorf("root branch %s has a parent or nonzero depth", root.ID)
	}
	if err := t.checkLineage(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkLineage verifies that parent and child links agree and that every
// depth is one more than its parent's.
func (t *ExplorationTree) checkLineage() error {
	lookup := func(id string) (*NarrativeState, bool) {
		if s, ok := t.active[id]; ok {
			return s, true
		}
		s, ok := t.pruned[id]
		return s, ok
	}

	for _, states := range []map[string]*NarrativeState{t.active, t.pruned} {
		for _, s := range states {
			if s.ID == t.root.ID {
				continue
			}
			if s.parentID == "" {
				return fmt.Errorf("branch %s has no parent", s.ID)
			}
			parent, ok := lookup(s.parentID)
			if !ok {
				return fmt.Errorf("branch %s references unknown parent %s", s.ID, s.parentID)
			}
			if s.depth != parent.depth+1 {
				return fmt.Errorf("branch %s has depth %d under parent depth %d", s.ID, s.depth, parent.depth)
			}
			_, childActive := t.active[s.ID]
			_, parentActive := t.active[parent.ID]
			if childActive && parentActive && !contains(parent.children, s.ID) {
				return fmt.Errorf("branch %s missing from children of %s", s.ID, parent.ID)
			}
		}
	}

	for _, s := range t.active {
		for _, id := range s.children {
			child, ok := lookup(id)
			if !ok || child.parentID != s.ID {
				return fmt.Errorf("child %s of branch %s does not point back", id, s.ID)
			}
		}
	}
	return nil
}
