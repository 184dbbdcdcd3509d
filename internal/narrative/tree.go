package narrative

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kayz/thespian/internal/logger"
)

const (
	DefaultMaxActiveBranches   = 50
	DefaultMaxDepth            = 25
	DefaultMinQualityThreshold = 0.3

	// DefaultInnovationBonus is the constant preference for creative risk
	// applied during collapse.
	DefaultInnovationBonus = 0.1
	// DefaultMinSelectionWeight keeps every branch drawable.
	DefaultMinSelectionWeight = 0.01
)

// Options configures an ExplorationTree.
type Options struct {
	MaxActiveBranches   int
	MaxDepth            int
	MinQualityThreshold float64

	// Strategies and Triggers fall back to DefaultStrategies and
	// DefaultTriggers when nil. A non-nil empty slice registers none.
	Strategies []GenerationStrategy
	Triggers   []CollapseTrigger

	AutoCollapse bool

	Weights            QualityWeights
	InnovationBonus    float64
	MinSelectionWeight float64
}

// DefaultOptions returns the stock limits: 50 active branches, depth 25,
// quality floor 0.3, default strategies and triggers.
func DefaultOptions() Options {
	return Options{
		MaxActiveBranches:   DefaultMaxActiveBranches,
		MaxDepth:            DefaultMaxDepth,
		MinQualityThreshold: DefaultMinQualityThreshold,
		AutoCollapse:        true,
		Weights:             DefaultQualityWeights,
		InnovationBonus:     DefaultInnovationBonus,
		MinSelectionWeight:  DefaultMinSelectionWeight,
	}
}

func (o Options) normalized() Options {
	if o.MaxActiveBranches <= 0 {
		o.MaxActiveBranches = DefaultMaxActiveBranches
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MinQualityThreshold < 0 {
		o.MinQualityThreshold = DefaultMinQualityThreshold
	}
	if o.Strategies == nil {
		o.Strategies = DefaultStrategies()
	} else {
		o.Strategies = append([]GenerationStrategy(nil), o.Strategies...)
	}
	if o.Triggers == nil {
		o.Triggers = DefaultTriggers()
	} else {
		o.Triggers = append([]CollapseTrigger(nil), o.Triggers...)
	}
	if o.Weights.IsZero() {
		o.Weights = DefaultQualityWeights
	}
	if o.InnovationBonus < 0 {
		o.InnovationBonus = DefaultInnovationBonus
	}
	if o.MinSelectionWeight <= 0 {
		o.MinSelectionWeight = DefaultMinSelectionWeight
	}
	return o
}

// RandomSource supplies uniform draws in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// CollapseRecord is one entry of the exploration history.
type CollapseRecord struct {
	Timestamp    time.Time        `json:"timestamp"`
	Trigger      *CollapseTrigger `json:"trigger,omitempty"`
	SelectedID   string           `json:"selected_branch"`
	Alternatives []string         `json:"alternatives_pruned"`
	Probability  float64          `json:"selection_probability"`
}

// ExplorationTree owns every NarrativeState of one exploration, active or
// pruned. All methods are safe for concurrent use; mutations are serialized.
type ExplorationTree struct {
	mu sync.RWMutex

	root      *NarrativeState
	active    map[string]*NarrativeState
	pruned    map[string]*NarrativeState
	seq       map[string]int
	nextSeq   int
	collapsed []string
	history   []CollapseRecord

	opts Options
}

// NewExplorationTree returns a tree whose only active branch is root. The
// root's lineage is reset: it has no parent and depth 0.
func NewExplorationTree(root *NarrativeState, opts Options) *ExplorationTree {
	if root == nil {
		root = NewState()
	}
	root.parentID = ""
	root.depth = 0
	root.children = nil
	root.Scores = root.Scores.Clamped()

	t := &ExplorationTree{
		root:   root,
		active: make(map[string]*NarrativeState),
		pruned: make(map[string]*NarrativeState),
		seq:    make(map[string]int),
		opts:   opts.normalized(),
	}
	t.register(root)
	return t
}

func (t *ExplorationTree) register(s *NarrativeState) {
	t.active[s.ID] = s
	t.seq[s.ID] = t.nextSeq
	t.nextSeq++
}

func (t *ExplorationTree) quality(s *NarrativeState) float64 {
	return t.opts.Weights.Overall(s.Scores)
}

// Root returns the root state.
func (t *ExplorationTree) Root() *NarrativeState {
	return t.root
}

// Options returns the effective configuration.
func (t *ExplorationTree) Options() Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o := t.opts
	o.Strategies = append([]GenerationStrategy(nil), t.opts.Strategies...)
	o.Triggers = append([]CollapseTrigger(nil), t.opts.Triggers...)
	return o
}

// AddBranch admits candidate as a child of the active branch parentID. It
// returns false, leaving the tree untouched, when the parent is not active,
// the candidate would exceed the depth limit, the candidate's overall
// quality is below the threshold, or its id is already known. Admission may
// prune other branches to restore capacity but never the one just added; when
// the root, the collapsed path and the candidate's own lineage alone exceed
// capacity the candidate is rejected.
func (t *ExplorationTree) AddBranch(parentID string, candidate *NarrativeState) bool {
	if candidate == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.active[parentID]
	if !ok {
		logger.Warn("[Narrative] Parent branch %s not found in active branches", parentID)
		return false
	}
	if t.known(candidate.ID) {
		logger.Info("[Narrative] Branch %s already present, not adding", candidate.ID)
		return false
	}

	depth := parent.depth + 1
	if depth > t.opts.MaxDepth {
		logger.Info("[Narrative] Branch %s exceeds depth limit %d, not adding", candidate.ID, t.opts.MaxDepth)
		return false
	}

	scores := candidate.Scores.Clamped()
	if t.opts.Weights.Overall(scores) < t.opts.MinQualityThreshold {
		logger.Info("[Narrative] Branch %s below quality threshold %.2f, not adding", candidate.ID, t.opts.MinQualityThreshold)
		return false
	}

	candidate.Scores = scores
	candidate.ProbabilityWeight = Clamp01(candidate.ProbabilityWeight)
	candidate.CreativeRisk = Clamp01(candidate.CreativeRisk)
	candidate.InnovationScore = Clamp01(candidate.InnovationScore)
	candidate.parentID = parentID
	candidate.depth = depth
	candidate.children = nil

	parent.children = append(parent.children, candidate.ID)
	t.register(candidate)

	if len(t.active) > t.opts.MaxActiveBranches && !t.pruneToCapacity(candidate.ID) {
		parent.removeChild(candidate.ID)
		delete(t.active, candidate.ID)
		delete(t.seq, candidate.ID)
		logger.Info("[Narrative] Branch %s has no prunable room under capacity %d, not adding", candidate.ID, t.opts.MaxActiveBranches)
		return false
	}

	logger.Info("[Narrative] Added branch %s as child of %s", candidate.ID, parentID)
	return true
}

func (t *ExplorationTree) known(id string) bool {
	if _, ok := t.active[id]; ok {
		return true
	}
	_, ok := t.pruned[id]
	return ok
}

// pruneToCapacity drops the lowest quality branches until the active set
// fits. The root, the collapsed path, the protected branch and the ancestors
// of all of those are exempt, since pruning an ancestor would take them along.
// It reports false, pruning nothing, when the exempt branches alone exceed
// capacity.
func (t *ExplorationTree) pruneToCapacity(protect string) bool {
	exempt := t.pathExempt()
	t.exemptWithAncestors(protect, exempt)

	held := 0
	for id := range exempt {
		if _, ok := t.active[id]; ok {
			held++
		}
	}
	if held > t.opts.MaxActiveBranches {
		return false
	}

	candidates := make([]*NarrativeState, 0, len(t.active))
	for id, s := range t.active {
		if !exempt[id] {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		qi, qj := t.quality(candidates[i]), t.quality(candidates[j])
		if qi != qj {
			return qi < qj
		}
		return t.seq[candidates[i].ID] < t.seq[candidates[j].ID]
	})

	for _, s := range candidates {
		if len(t.active) <= t.opts.MaxActiveBranches {
			break
		}
		t.pruneBranch(s.ID)
	}
	return true
}

// pathExempt returns the root, the collapsed path and their ancestors.
func (t *ExplorationTree) pathExempt() map[string]bool {
	exempt := map[string]bool{t.root.ID: true}
	for _, id := range t.collapsed {
		t.exemptWithAncestors(id, exempt)
	}
	return exempt
}

func (t *ExplorationTree) exemptWithAncestors(id string, exempt map[string]bool) {
	for id != "" {
		exempt[id] = true
		s, ok := t.active[id]
		if !ok {
			return
		}
		id = s.parentID
	}
}

// Prune removes the branch id and all its descendants from the active set.
// Unknown or already pruned ids are ignored.
func (t *ExplorationTree) Prune(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneBranch(id)
}

func (t *ExplorationTree) pruneBranch(id string) {
	s, ok := t.active[id]
	if !ok {
		return
	}

	for _, child := range s.Children() {
		t.pruneBranch(child)
	}

	t.pruned[id] = s
	delete(t.active, id)

	if parent, ok := t.active[s.parentID]; ok {
		parent.removeChild(id)
	}

	logger.Debug("[Narrative] Pruned branch %s", id)
}

// EvaluateCollapseTriggers returns the first registered trigger, in
// registration order, that fires for ctx extended with the current branch
// count and capacity. It returns nil when none fires. ctx itself is not
// modified.
func (t *ExplorationTree) EvaluateCollapseTriggers(ctx Context) *CollapseTrigger {
	t.mu.RLock()
	defer t.mu.RUnlock()

	eval := ctx.Clone()
	eval[KeyBranchCount] = len(t.active)
	eval[KeyMaxBranches] = t.opts.MaxActiveBranches

	for _, trigger := range t.opts.Triggers {
		if trigger.ShouldTrigger(eval) {
			logger.Info("[Narrative] Collapse trigger activated: %s - %s", trigger.Kind, trigger.Reason)
			fired := trigger
			return &fired
		}
	}
	return nil
}

// Probability is the selection chance of one active branch.
type Probability struct {
	ID    string
	Value float64
}

// SelectionProbabilities returns the normalized collapse probabilities of
// the collapse candidates in admission order. Every active branch is a
// candidate, except the root while any other branch is active.
func (t *ExplorationTree) SelectionProbabilities(trigger *CollapseTrigger) []Probability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.probabilities(trigger)
}

func (t *ExplorationTree) probabilities(trigger *CollapseTrigger) []Probability {
	states := t.collapseCandidates()
	probs := make([]Probability, 0, len(states))
	total := 0.0

	for _, s := range states {
		p := t.quality(s)
		if trigger != nil {
			if trait, ok := trigger.Kind.favoredTrait(s.Scores); ok {
				p *= 1 + trait
			}
		}
		p *= 1 + s.InnovationScore*t.opts.InnovationBonus
		if p < t.opts.MinSelectionWeight {
			p = t.opts.MinSelectionWeight
		}
		probs = append(probs, Probability{ID: s.ID, Value: p})
		total += p
	}

	if total > 0 {
		for i := range probs {
			probs[i].Value /= total
		}
	}
	return probs
}

func weightedSelect(probs []Probability, draw float64) Probability {
	cumulative := 0.0
	for _, p := range probs {
		cumulative += p.Value
	}
	target := draw * cumulative

	running := 0.0
	for _, p := range probs {
		running += p.Value
		if target <= running {
			return p
		}
	}
	return probs[0]
}

// CollapseToPath selects one collapse candidate by weighted draw from rng, records
// the decision, and prunes every sibling of the selection together with
// their descendants, except siblings already on the collapsed path. A branch
// selected again is recorded in history but appears once on the path. With
// no active branches it returns the root unchanged.
// A nil rng falls back to a time-seeded source.
func (t *ExplorationTree) CollapseToPath(trigger *CollapseTrigger, rng RandomSource) *NarrativeState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.active) == 0 {
		logger.Warn("[Narrative] No active branches to collapse")
		return t.root
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	probs := t.probabilities(trigger)
	chosen := weightedSelect(probs, rng.Float64())
	selected := t.active[chosen.ID]

	alternatives := make([]string, 0, len(probs))
	for _, p := range probs {
		alternatives = append(alternatives, p.ID)
	}

	record := CollapseRecord{
		Timestamp:    time.Now(),
		SelectedID:   chosen.ID,
		Alternatives: alternatives,
		Probability:  chosen.Value,
	}
	if trigger != nil {
		snapshot := *trigger
		record.Trigger = &snapshot
	}
	t.history = append(t.history, record)
	if !contains(t.collapsed, chosen.ID) {
		t.collapsed = append(t.collapsed, chosen.ID)
	}

	t.pruneSiblings(selected)

	logger.Info("[Narrative] Collapsed to branch %s with probability %.3f", chosen.ID, chosen.Value)
	return selected
}

func (t *ExplorationTree) pruneSiblings(selected *NarrativeState) {
	if selected.parentID == "" {
		return
	}
	onPath := t.pathExempt()
	var siblings []string
	for _, s := range t.activeInOrder() {
		if s.ID != selected.ID && s.parentID == selected.parentID && !onPath[s.ID] {
			siblings = append(siblings, s.ID)
		}
	}
	for _, id := range siblings {
		t.pruneBranch(id)
	}
}

func (t *ExplorationTree) collapseCandidates() []*NarrativeState {
	states := t.activeInOrder()
	if len(states) < 2 {
		return states
	}
	out := states[:0]
	for _, s := range states {
		if s.ID != t.root.ID {
			out = append(out, s)
		}
	}
	return out
}

func (t *ExplorationTree) activeInOrder() []*NarrativeState {
	out := make([]*NarrativeState, 0, len(t.active))
	for _, s := range t.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.seq[out[i].ID] < t.seq[out[j].ID]
	})
	return out
}

// ActiveStates returns the active branches in admission order.
func (t *ExplorationTree) ActiveStates() []*NarrativeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.activeInOrder()
}

// ActiveIDs returns the active branch ids in admission order.
func (t *ExplorationTree) ActiveIDs() []string {
	states := t.ActiveStates()
	ids := make([]string, len(states))
	for i, s := range states {
		ids[i] = s.ID
	}
	return ids
}

// ActiveCount returns the size of the superposition.
func (t *ExplorationTree) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Get returns the active branch with id.
func (t *ExplorationTree) Get(id string) (*NarrativeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.active[id]
	return s, ok
}

// Quality returns the overall quality the tree admits and prunes s by,
// using the configured weights.
func (t *ExplorationTree) Quality(s *NarrativeState) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.quality(s)
}

// Pruned returns the pruned branch with id.
func (t *ExplorationTree) Pruned(id string) (*NarrativeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.pruned[id]
	return s, ok
}

// PrunedCount returns how many branches have been pruned.
func (t *ExplorationTree) PrunedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pruned)
}

// CollapsedPath returns the selected ids in decision order.
func (t *ExplorationTree) CollapsedPath() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.collapsed...)
}

// History returns the collapse records in decision order.
func (t *ExplorationTree) History() []CollapseRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]CollapseRecord(nil), t.history...)
}

// Strategies returns the registered strategies.
func (t *ExplorationTree) Strategies() []GenerationStrategy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]GenerationStrategy(nil), t.opts.Strategies...)
}

// Triggers returns the registered triggers in registration order.
func (t *ExplorationTree) Triggers() []CollapseTrigger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]CollapseTrigger(nil), t.opts.Triggers...)
}

// ApplicableStrategies returns the strategies that apply to state in ctx,
// highest priority first.
func (t *ExplorationTree) ApplicableStrategies(ctx Context, state *NarrativeState) []GenerationStrategy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []GenerationStrategy
	for _, g := range t.opts.Strategies {
		if g.ShouldApply(ctx, state) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
