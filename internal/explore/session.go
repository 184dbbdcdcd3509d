// Package explore drives a branching exploration of one scene: it grows the
// tree through the lens families its mode enables, evaluates collapse
// triggers and reports either the collapsed scene or the open superposition.
package explore

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kayz/thespian/internal/branching"
	"github.com/kayz/thespian/internal/config"
	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/promptbuild"
)

// DefaultExpansionDepth is the depth at which expansion stops.
const DefaultExpansionDepth = 3

// Options configures a Session.
type Options struct {
	Mode Mode
	Tree narrative.Options
	// ExpansionDepth stops expansion of branches at this depth or deeper.
	ExpansionDepth int
	// Concurrency bounds parallel producer calls within one lens family.
	Concurrency int
	// Seed makes collapse draws reproducible; zero seeds from the clock.
	Seed    int64
	Prompts *promptbuild.Builder
}

// OptionsFromConfig maps the exploration section of the config file.
func OptionsFromConfig(cfg config.ExplorationConfig) (Options, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	tree := narrative.DefaultOptions()
	tree.MaxActiveBranches = cfg.MaxActiveBranches
	tree.MaxDepth = cfg.MaxDepth
	tree.MinQualityThreshold = cfg.MinQualityThreshold
	tree.AutoCollapse = cfg.AutoCollapse
	if !cfg.Weights.IsZero() {
		tree.Weights = cfg.Weights
	}
	return Options{
		Mode:           mode,
		Tree:           tree,
		ExpansionDepth: cfg.ExpansionDepth,
		Concurrency:    cfg.Concurrency,
		Seed:           cfg.Seed,
	}, nil
}

// countingProducer numbers every producer call of a session.
type countingProducer struct {
	inner branching.Producer
	calls atomic.Int64
}

func (c *countingProducer) Generate(ctx context.Context, prompt string) (string, error) {
	n := c.calls.Add(1)
	logger.Debug("[Explore] Producer call #%d", n)
	return c.inner.Generate(ctx, prompt)
}

// Session explores one scene at a time. Its methods are serialized.
type Session struct {
	mu sync.Mutex

	producer *countingProducer
	profiles branching.ProfileSet
	gen      *branching.Generator
	prompts  *promptbuild.Builder
	opts     Options
	rng      *rand.Rand

	req  SceneRequirements
	tree *narrative.ExplorationTree
}

// NewSession returns a session generating through producer. profiles may be
// nil; profiles listed in scene requirements are added on Initialize.
func NewSession(producer branching.Producer, profiles branching.ProfileSet, opts Options) *Session {
	if opts.Mode == "" {
		opts.Mode = ModeFullExploration
	}
	if opts.ExpansionDepth <= 0 {
		opts.ExpansionDepth = DefaultExpansionDepth
	}
	if opts.Prompts == nil {
		opts.Prompts = promptbuild.NewBuilder(config.PromptConfig{})
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if profiles == nil {
		profiles = branching.NewProfileSet()
	}

	counted := &countingProducer{inner: producer}
	return &Session{
		producer: counted,
		profiles: profiles,
		gen: branching.NewGenerator(counted, profiles, branching.Options{
			Concurrency: opts.Concurrency,
			Prompts:     opts.Prompts,
		}),
		prompts: opts.Prompts,
		opts:    opts,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Mode returns the exploration mode.
func (s *Session) Mode() Mode { return s.opts.Mode }

// Tree returns the exploration tree, or nil before Initialize or Attach.
func (s *Session) Tree() *narrative.ExplorationTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Requirements returns the scene currently explored.
func (s *Session) Requirements() SceneRequirements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// Calls returns the number of producer calls made so far.
func (s *Session) Calls() int64 { return s.producer.calls.Load() }

// Initialize generates the opening scene and roots a new tree on it.
func (s *Session) Initialize(ctx context.Context, req SceneRequirements) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialize(ctx, req)
}

func (s *Session) initialize(ctx context.Context, req SceneRequirements) error {
	if err := req.Validate(); err != nil {
		return err
	}
	for _, p := range req.Profiles {
		s.profiles.Add(p)
	}

	content, err := s.generateScene(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to generate initial scene: %w", err)
	}

	root := narrative.NewState()
	root.Content = content
	root.Outline = fmt.Sprintf("Act %d, Scene %d", req.Act, req.Scene)
	root.DivergencePoint = "story_beginning"
	root.DivergenceType = narrative.DivergenceDramaticStructure
	root.DivergenceDescription = "Initial scene generation"
	for _, name := range req.Characters {
		root.CharacterStates[branching.CharacterID(name)] = map[string]any{
			"name":                name,
			"present_in_scene":    true,
			"emotional_state":     "initial",
			"character_arc_stage": "beginning",
		}
	}
	root.WorldState = map[string]any{
		"act_number":       req.Act,
		"scene_number":     req.Scene,
		"setting":          req.Setting,
		"central_conflict": req.KeyConflict,
		"thematic_tension": req.EmotionalArc,
		"style":            req.Style,
		"period":           req.Period,
	}
	root.Log("Initial state created from scene requirements")

	s.req = req
	s.tree = narrative.NewExplorationTree(root, s.opts.Tree)
	logger.Info("[Explore] Initialized %s in %s mode", req.Title(), s.opts.Mode)
	return nil
}

// Attach resumes exploration of a stored tree for req.
func (s *Session) Attach(tree *narrative.ExplorationTree, req SceneRequirements) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range req.Profiles {
		s.profiles.Add(p)
	}
	s.req = req
	s.tree = tree
}

func (s *Session) generateScene(ctx context.Context, req SceneRequirements) (string, error) {
	position := fmt.Sprintf("Act %d, Scene %d", req.Act, req.Scene)
	prompt, err := s.prompts.Build(promptbuild.BuildRequest{
		Lens: "initial_scene",
		Sections: []promptbuild.Section{
			{Title: "Scene", Content: position},
			{Title: "Setting", Content: req.Setting},
			{Title: "Characters", Content: strings.Join(req.Characters, ", ")},
			{Title: "Key Conflict", Content: req.KeyConflict},
			{Title: "Emotional Arc", Content: req.EmotionalArc},
			{Title: "Style", Content: strings.TrimSpace(req.Style + " " + req.Period)},
		},
		Instruction: "Write {position} as a theatrical scene of 300-400 words. Put character names in CAPS and stage directions in parentheses.",
		Vars:        map[string]string{"position": position},
	})
	if err != nil {
		return "", err
	}
	content, err := s.producer.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("producer returned an empty scene")
	}
	return content, nil
}

// ExplorationResult reports one expansion pass.
type ExplorationResult struct {
	BranchesGenerated int         `json:"branches_generated"`
	BestQuality       float64     `json:"best_branch_quality"`
	BestEvaluation    *Evaluation `json:"best_branch_evaluation,omitempty"`
	Notes             []string    `json:"exploration_notes"`
}

// Explore expands every active branch above the expansion depth once. focus
// restricts psychology lenses to one character; empty explores the first
// two characters of the scene.
func (s *Session) Explore(ctx context.Context, focus string) (ExplorationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.explore(ctx, focus)
}

func (s *Session) explore(ctx context.Context, focus string) (ExplorationResult, error) {
	var res ExplorationResult
	if s.tree == nil {
		return res, fmt.Errorf("session is not initialized")
	}

	weights := s.tree.Options().Weights
	for _, state := range s.tree.ActiveStates() {
		if state.Depth() >= s.opts.ExpansionDepth {
			continue
		}
		if _, ok := s.tree.Get(state.ID); !ok {
			continue
		}

		for _, b := range s.expand(ctx, state, focus) {
			if !s.tree.AddBranch(state.ID, b) {
				continue
			}
			res.BranchesGenerated++
			if q := weights.Overall(b.Scores); q > res.BestQuality {
				res.BestQuality = q
				res.BestEvaluation = evaluationOf(b, q)
			}
		}
		logger.Debug("[Explore] Expanded %s, %d branches active", state.ID, s.tree.ActiveCount())

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	res.Notes = []string{
		fmt.Sprintf("Generated %d branches", res.BranchesGenerated),
		fmt.Sprintf("Best branch quality: %.3f", res.BestQuality),
		fmt.Sprintf("Final active branches: %d", s.tree.ActiveCount()),
	}
	logger.Info("[Explore] %s", strings.Join(res.Notes, ", "))
	return res, nil
}

// expand generates the candidates of every lens family the mode enables and
// the tree's strategies allow for state.
func (s *Session) expand(ctx context.Context, state *narrative.NarrativeState, focus string) []*narrative.NarrativeState {
	applicable := s.tree.ApplicableStrategies(explorationContext(state, s.req), state)
	registered := make(map[string]bool)
	for _, g := range s.tree.Strategies() {
		registered[g.Name] = true
	}
	gate := func(name string) (bool, int) {
		for _, g := range applicable {
			if g.Name == name {
				return true, g.MaxBranchesPerCall
			}
		}
		return !registered[name], 0
	}

	var out []*narrative.NarrativeState
	if ok, limit := gate(narrative.StrategyCharacterPsychology); ok && s.opts.Mode.character() {
		for _, name := range s.focusCharacters(focus) {
			if _, present := state.CharacterStates[branching.CharacterID(name)]; !present {
				continue
			}
			decision := ExtractDecisionContext(state.Content, s.req)
			out = append(out, capBranches(s.gen.PsychologyBranches(ctx, name, decision, state), limit)...)
		}
	}
	if ok, limit := gate(narrative.StrategyThematicDivergence); ok && s.opts.Mode.thematic() {
		out = append(out, capBranches(s.gen.ThematicBranches(ctx, ThematicTension(state, s.req), state), limit)...)
	}
	if ok, limit := gate(narrative.StrategyDramaticStructure); ok && s.opts.Mode.structural() {
		out = append(out, capBranches(s.gen.StructuralBranches(ctx, state, s.req.Act, s.req.Scene), limit)...)
	}
	return out
}

func (s *Session) focusCharacters(focus string) []string {
	if focus != "" {
		return []string{focus}
	}
	if len(s.req.Characters) > 2 {
		return s.req.Characters[:2]
	}
	return s.req.Characters
}

func capBranches(branches []*narrative.NarrativeState, limit int) []*narrative.NarrativeState {
	if limit > 0 && len(branches) > limit {
		return branches[:limit]
	}
	return branches
}

// RunOptions tunes Run.
type RunOptions struct {
	// ForceCollapse collapses even when no trigger fires.
	ForceCollapse bool
	Focus         string
	// Rounds is the number of expansion passes; zero means one.
	Rounds int
}

// Run explores req and decides its timeline: collapsed when a trigger fires
// or a collapse is forced, superposition otherwise. A disabled mode generates
// the scene once without branching.
func (s *Session) Run(ctx context.Context, req SceneRequirements, opts RunOptions) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if s.opts.Mode == ModeDisabled {
		return s.linear(ctx, req, start)
	}

	if s.tree == nil {
		if err := s.initialize(ctx, req); err != nil {
			return nil, err
		}
	} else {
		s.req = req
	}

	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = 1
	}
	var exploration ExplorationResult
	for i := 0; i < rounds; i++ {
		pass, err := s.explore(ctx, opts.Focus)
		if err != nil {
			return nil, err
		}
		exploration.BranchesGenerated += pass.BranchesGenerated
		exploration.Notes = pass.Notes
		if pass.BestQuality > exploration.BestQuality {
			exploration.BestQuality = pass.BestQuality
			exploration.BestEvaluation = pass.BestEvaluation
		}
	}

	var trigger *narrative.CollapseTrigger
	if opts.ForceCollapse || s.tree.Options().AutoCollapse {
		trigger = s.tree.EvaluateCollapseTriggers(BuildCollapseContext(s.req, s.tree.ActiveCount(), s.tree.Options().MaxActiveBranches))
	}

	result := &Result{
		Mode:       s.opts.Mode,
		Trigger:    trigger,
		Evaluation: exploration.BestEvaluation,
		Notes:      exploration.Notes,
	}

	if trigger != nil || opts.ForceCollapse {
		reason := "forced"
		if trigger != nil {
			reason = trigger.Reason
		}
		logger.Info("[Explore] Collapsing: %s", reason)
		selected := s.tree.CollapseToPath(trigger, s.rng)
		result.TimelineState = TimelineCollapsed
		result.Scene = selected.Content
		result.SceneID = selected.ID
		result.Analysis = analysisOf(selected, s.tree.Options().Weights)
		result.CharacterDevelopment = characterDevelopmentOf(selected)
		result.ThematicElements = thematicElementsOf(selected)
	} else {
		result.TimelineState = TimelineSuperposition
		result.Scene = s.superpositionSummary()
	}

	summary := s.tree.Summary()
	result.Summary = &summary
	result.BranchesExplored = s.tree.ActiveCount()
	result.Alternatives = s.alternatives()
	result.ProducerCalls = s.Calls()
	result.ExplorationSeconds = time.Since(start).Seconds()
	return result, nil
}

func (s *Session) linear(ctx context.Context, req SceneRequirements, start time.Time) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	content, err := s.generateScene(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate scene: %w", err)
	}
	s.req = req
	return &Result{
		Scene:              content,
		Mode:               ModeDisabled,
		TimelineState:      TimelineLinear,
		BranchesExplored:   1,
		ProducerCalls:      s.Calls(),
		ExplorationSeconds: time.Since(start).Seconds(),
	}, nil
}

// CollapseOutcome reports a manual collapse.
type CollapseOutcome struct {
	SelectedID string            `json:"selected_branch_id"`
	Content    string            `json:"final_content"`
	Reason     string            `json:"collapse_reason"`
	Quality    float64           `json:"quality_score"`
	Summary    narrative.Summary `json:"exploration_summary"`
}

// Collapse settles the tree on one path on request.
func (s *Session) Collapse(reason string) (*CollapseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return nil, fmt.Errorf("session is not initialized")
	}

	trigger := narrative.ManualTrigger(reason)
	selected := s.tree.CollapseToPath(&trigger, s.rng)
	return &CollapseOutcome{
		SelectedID: selected.ID,
		Content:    selected.Content,
		Reason:     trigger.Reason,
		Quality:    s.tree.Quality(selected),
		Summary:    s.tree.Summary(),
	}, nil
}

// SuperpositionSummary describes the open branches, best first.
func (s *Session) SuperpositionSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superpositionSummary()
}

// Alternatives lists the active branches, best first.
func (s *Session) Alternatives() []Alternative {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alternatives()
}
