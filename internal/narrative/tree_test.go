package narrative

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func uniformScores(q float64) Scores {
	return Scores{
		EmotionalResonance:   q,
		ThematicAlignment:    q,
		DramaticTension:      q,
		CharacterConsistency: q,
		NarrativeCoherence:   q,
	}
}

func branch(id string, q float64) *NarrativeState {
	s := NewState()
	s.ID = id
	s.Content = "branch " + id
	s.Scores = uniformScores(q)
	s.InnovationScore = 0
	return s
}

func testTree(maxActive int) *ExplorationTree {
	opts := DefaultOptions()
	opts.MaxActiveBranches = maxActive
	return NewExplorationTree(branch("root", 0.5), opts)
}

type fixedDraw float64

func (f fixedDraw) Float64() float64 { return float64(f) }

func TestAddBranchScenario(t *testing.T) {
	tree := testTree(3)

	if !tree.AddBranch("root", branch("A", 0.9)) {
		t.Fatalf("expected A to be admitted")
	}
	assertActive(t, tree, "root", "A")

	if tree.AddBranch("root", branch("B", 0.2)) {
		t.Fatalf("expected B to be rejected below threshold")
	}
	assertActive(t, tree, "root", "A")

	if !tree.AddBranch("root", branch("C", 0.5)) {
		t.Fatalf("expected C to be admitted")
	}
	assertActive(t, tree, "root", "A", "C")

	if !tree.AddBranch("root", branch("D", 0.8)) {
		t.Fatalf("expected D to be admitted")
	}
	assertActive(t, tree, "root", "A", "D")

	if _, ok := tree.Pruned("C"); !ok {
		t.Fatalf("expected C in pruned set")
	}
	if got := tree.Root().Children(); !reflect.DeepEqual(got, []string{"A", "D"}) {
		t.Fatalf("root children = %v, want [A D]", got)
	}
}

func assertActive(t *testing.T, tree *ExplorationTree, want ...string) {
	t.Helper()
	if got := tree.ActiveIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("active = %v, want %v", got, want)
	}
}

func TestCollapseScenarioKeepsOneSibling(t *testing.T) {
	for _, draw := range []float64{0, 0.3, 0.5, 0.99} {
		tree := testTree(10)
		tree.AddBranch("root", branch("A", 0.6))
		tree.AddBranch("root", branch("D", 0.8))

		selected := tree.CollapseToPath(nil, fixedDraw(draw))

		var other string
		switch selected.ID {
		case "A":
			other = "D"
		case "D":
			other = "A"
		default:
			t.Fatalf("draw %.2f selected %s, want A or D", draw, selected.ID)
		}
		if _, ok := tree.Get(selected.ID); !ok {
			t.Fatalf("selected branch must stay active")
		}
		if _, ok := tree.Pruned(other); !ok {
			t.Fatalf("draw %.2f: sibling %s should be pruned", draw, other)
		}
		if path := tree.CollapsedPath(); len(path) != 1 || path[0] != selected.ID {
			t.Fatalf("collapsed path = %v", path)
		}
	}
}

func TestAddBranchRejections(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDepth = 2
	tree := NewExplorationTree(branch("root", 0.5), opts)
	tree.AddBranch("root", branch("a", 0.6))
	tree.AddBranch("a", branch("b", 0.6))

	before := tree.Snapshot()

	cases := []struct {
		name   string
		parent string
		cand   *NarrativeState
	}{
		{"unknown parent", "nope", branch("x", 0.9)},
		{"too deep", "b", branch("c", 0.9)},
		{"low quality", "root", branch("y", 0.1)},
		{"duplicate id", "root", branch("a", 0.9)},
		{"nil candidate", "root", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tree.AddBranch(tc.parent, tc.cand) {
				t.Fatalf("expected rejection")
			}
			if tc.cand != nil && tc.cand.ParentID() != "" {
				t.Fatalf("rejected candidate lineage changed: parent=%q", tc.cand.ParentID())
			}
		})
	}

	after := tree.Snapshot()
	if !reflect.DeepEqual(before.Active, after.Active) || !reflect.DeepEqual(before.Pruned, after.Pruned) {
		t.Fatalf("tree changed after rejected admissions")
	}
}

func TestAddBranchClampsScores(t *testing.T) {
	tree := testTree(10)
	s := branch("loud", 1.7)
	s.InnovationScore = -3
	if !tree.AddBranch("root", s) {
		t.Fatalf("expected admission")
	}
	if s.Scores != uniformScores(1) {
		t.Fatalf("scores not clamped: %+v", s.Scores)
	}
	if s.InnovationScore != 0 {
		t.Fatalf("innovation not clamped: %v", s.InnovationScore)
	}
}

func checkLineage(t *testing.T, tree *ExplorationTree) {
	t.Helper()
	tree.mu.RLock()
	defer tree.mu.RUnlock()

	all := map[string]*NarrativeState{}
	for id, s := range tree.active {
		all[id] = s
	}
	for id, s := range tree.pruned {
		all[id] = s
	}
	for id, s := range all {
		if s.parentID == "" {
			continue
		}
		p, ok := all[s.parentID]
		if !ok {
			t.Fatalf("%s has unknown parent %s", id, s.parentID)
		}
		if s.depth != p.depth+1 {
			t.Fatalf("%s depth %d, parent depth %d", id, s.depth, p.depth)
		}
		if _, active := tree.active[id]; active {
			if !contains(p.children, id) {
				t.Fatalf("%s missing from parent %s children %v", id, p.ID, p.children)
			}
		}
	}
	for _, s := range tree.active {
		for _, c := range s.children {
			child, ok := all[c]
			if !ok || child.parentID != s.ID {
				t.Fatalf("child %s of %s does not point back", c, s.ID)
			}
		}
	}
}

func TestRandomGrowthKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	opts := DefaultOptions()
	opts.MaxActiveBranches = 8
	opts.MaxDepth = 4
	tree := NewExplorationTree(branch("root", 0.5), opts)

	for i := 0; i < 200; i++ {
		ids := tree.ActiveIDs()
		parent := ids[rng.Intn(len(ids))]
		cand := NewState()
		cand.Scores = Scores{
			EmotionalResonance:   rng.Float64(),
			ThematicAlignment:    rng.Float64(),
			DramaticTension:      rng.Float64(),
			CharacterConsistency: rng.Float64(),
			NarrativeCoherence:   rng.Float64(),
		}
		tree.AddBranch(parent, cand)

		if n := tree.ActiveCount(); n > opts.MaxActiveBranches {
			t.Fatalf("active count %d exceeds capacity", n)
		}
		if i%50 == 49 {
			tree.CollapseToPath(nil, rng)
		}
	}
	checkLineage(t, tree)

	for _, s := range tree.ActiveStates() {
		q := s.OverallQuality()
		if q < 0 || q > 1 {
			t.Fatalf("quality out of bounds: %v", q)
		}
	}
}

func TestPruneRemovesDescendants(t *testing.T) {
	tree := testTree(10)
	tree.AddBranch("root", branch("a", 0.6))
	tree.AddBranch("a", branch("a1", 0.6))
	tree.AddBranch("a1", branch("a2", 0.6))
	tree.AddBranch("root", branch("b", 0.6))

	tree.Prune("a")
	assertActive(t, tree, "root", "b")
	for _, id := range []string{"a", "a1", "a2"} {
		if _, ok := tree.Pruned(id); !ok {
			t.Fatalf("%s should be pruned", id)
		}
	}
	if got := tree.Root().Children(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("root children = %v", got)
	}

	tree.Prune("missing")
	tree.Prune("a")
	if tree.PrunedCount() != 3 {
		t.Fatalf("pruned count = %d, want 3", tree.PrunedCount())
	}
	checkLineage(t, tree)
}

func TestCapacityPruneTieBreaksByAdmissionOrder(t *testing.T) {
	tree := testTree(3)
	tree.AddBranch("root", branch("first", 0.5))
	tree.AddBranch("root", branch("second", 0.5))
	tree.AddBranch("root", branch("third", 0.5))
	assertActive(t, tree, "root", "second", "third")
}

func TestCapacityPruneSparesCollapsedPath(t *testing.T) {
	tree := testTree(3)
	tree.AddBranch("root", branch("low", 0.4))
	tree.CollapseToPath(nil, fixedDraw(0))
	tree.AddBranch("low", branch("x", 0.9))
	tree.AddBranch("low", branch("y", 0.8))

	if _, ok := tree.Get("low"); !ok {
		t.Fatalf("collapsed branch must not be pruned for capacity")
	}
	assertActive(t, tree, "root", "low", "y")
}

func TestAddBranchRejectsWhenOnlyExemptBranchesRemain(t *testing.T) {
	tree := testTree(2)
	if !tree.AddBranch("root", branch("A", 0.6)) {
		t.Fatalf("expected A to be admitted")
	}
	if tree.AddBranch("A", branch("B", 0.9)) {
		t.Fatalf("B needs root and A kept, which exceeds capacity")
	}
	assertActive(t, tree, "root", "A")
	if a, _ := tree.Get("A"); len(a.Children()) != 0 {
		t.Fatalf("rejected branch left in children: %v", a.Children())
	}
	if _, ok := tree.Pruned("B"); ok {
		t.Fatalf("rejected branch must not be recorded as pruned")
	}
	checkLineage(t, tree)

	// a sibling still fits by pruning the chain
	if !tree.AddBranch("root", branch("C", 0.7)) {
		t.Fatalf("expected C to be admitted")
	}
	assertActive(t, tree, "root", "C")
}

func TestDeepChainStaysWithinCapacity(t *testing.T) {
	tree := testTree(3)
	parent := "root"
	for _, id := range []string{"a", "b", "c", "d"} {
		tree.AddBranch(parent, branch(id, 0.6))
		if n := tree.ActiveCount(); n > 3 {
			t.Fatalf("after %s active count %d exceeds capacity", id, n)
		}
		parent = id
	}
	assertActive(t, tree, "root", "a", "b")
	checkLineage(t, tree)
}

func TestCollapseSparesEarlierSelection(t *testing.T) {
	tree := testTree(10)
	tree.AddBranch("root", branch("A", 0.6))
	tree.AddBranch("root", branch("D", 0.8))
	if got := tree.CollapseToPath(nil, fixedDraw(0)); got.ID != "A" {
		t.Fatalf("zero draw should select A, got %s", got.ID)
	}

	tree.AddBranch("root", branch("E", 0.6))
	if got := tree.CollapseToPath(nil, fixedDraw(0.99)); got.ID != "E" {
		t.Fatalf("high draw should select E, got %s", got.ID)
	}
	if _, ok := tree.Get("A"); !ok {
		t.Fatalf("earlier collapse selection must stay active")
	}
	assertActive(t, tree, "root", "A", "E")

	tree.CollapseToPath(nil, fixedDraw(0))
	if path := tree.CollapsedPath(); !reflect.DeepEqual(path, []string{"A", "E"}) {
		t.Fatalf("collapsed path = %v, want [A E]", path)
	}
	if n := len(tree.History()); n != 3 {
		t.Fatalf("every collapse is recorded, got %d", n)
	}
	checkLineage(t, tree)
}

func TestQualityUsesConfiguredWeights(t *testing.T) {
	opts := DefaultOptions()
	opts.Weights = QualityWeights{DramaticTension: 1}
	tree := NewExplorationTree(branch("root", 0.5), opts)

	s := NewState()
	s.ID = "tense"
	s.Scores = Scores{DramaticTension: 1}
	if !tree.AddBranch("root", s) {
		t.Fatalf("expected tense branch to be admitted")
	}
	if q := tree.Quality(s); math.Abs(q-1) > 1e-9 {
		t.Fatalf("tree quality = %v, want 1", q)
	}
	if q := s.OverallQuality(); math.Abs(q-0.2) > 1e-9 {
		t.Fatalf("default-weight quality = %v, want 0.2", q)
	}
}

func TestEvaluateCollapseTriggers(t *testing.T) {
	tree := testTree(2)

	if got := tree.EvaluateCollapseTriggers(Context{}); got != nil {
		t.Fatalf("no trigger expected, got %v", got.Kind)
	}

	ctx := Context{KeyClimaxApproaching: true}
	got := tree.EvaluateCollapseTriggers(ctx)
	if got == nil || got.Kind != TriggerDramaticNecessity {
		t.Fatalf("expected dramatic necessity, got %#v", got)
	}
	if _, ok := ctx[KeyBranchCount]; ok {
		t.Fatalf("caller context must not be modified")
	}

	ctx[KeyIrreversibleChoice] = true
	if got := tree.EvaluateCollapseTriggers(ctx); got.Kind != TriggerCharacterCommitment {
		t.Fatalf("expected registration order to win, got %v", got.Kind)
	}
}

func TestEvaluateCollapseTriggersResourceConstraint(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxActiveBranches = 2
	opts.Triggers = []CollapseTrigger{DefaultTriggers()[2]}
	tree := NewExplorationTree(branch("root", 0.5), opts)
	tree.AddBranch("root", branch("a", 0.6))
	if got := tree.EvaluateCollapseTriggers(nil); got != nil {
		t.Fatalf("two of two branches should not fire")
	}
}

func TestSelectionProbabilitiesNormalized(t *testing.T) {
	tree := testTree(10)
	tree.AddBranch("root", branch("a", 0.4))
	tree.AddBranch("root", branch("b", 0.9))
	tree.AddBranch("b", branch("c", 0.6))

	triggers := append(DefaultTriggers(), ManualTrigger(""))
	for _, trig := range triggers {
		trig := trig
		probs := tree.SelectionProbabilities(&trig)
		sum := 0.0
		for _, p := range probs {
			sum += p.Value
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("%s: probabilities sum to %v", trig.Kind, sum)
		}
		if len(probs) != 3 {
			t.Fatalf("root should not be a candidate when alternatives exist: %v", probs)
		}
	}
}

func TestSelectionProbabilitiesFavorTrait(t *testing.T) {
	tree := testTree(10)
	calm := branch("calm", 0.6)
	tense := branch("tense", 0.6)
	tense.Scores.DramaticTension = 1
	tense.Scores.CharacterConsistency = 0.2
	tree.AddBranch("root", calm)
	tree.AddBranch("root", tense)

	trig := DefaultTriggers()[1]
	probs := tree.SelectionProbabilities(&trig)
	if probs[1].Value <= probs[0].Value {
		t.Fatalf("dramatic necessity should favor tense branch: %v", probs)
	}
}

func TestCollapseDeterministicWithSeed(t *testing.T) {
	build := func() *ExplorationTree {
		tree := testTree(20)
		for i, q := range []float64{0.4, 0.55, 0.7, 0.85, 0.6} {
			tree.AddBranch("root", branch(string(rune('a'+i)), q))
		}
		return tree
	}
	for seed := int64(1); seed <= 5; seed++ {
		x := build().CollapseToPath(nil, rand.New(rand.NewSource(seed)))
		y := build().CollapseToPath(nil, rand.New(rand.NewSource(seed)))
		if x.ID != y.ID {
			t.Fatalf("seed %d selected %s and %s", seed, x.ID, y.ID)
		}
	}
}

func TestCollapseRecordsHistory(t *testing.T) {
	tree := testTree(10)
	tree.AddBranch("root", branch("a", 0.6))
	tree.AddBranch("root", branch("b", 0.6))

	trig := ManualTrigger("editor picked")
	selected := tree.CollapseToPath(&trig, fixedDraw(0))
	if selected.ID != "a" {
		t.Fatalf("zero draw should select first candidate, got %s", selected.ID)
	}

	history := tree.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d", len(history))
	}
	rec := history[0]
	if rec.SelectedID != "a" || rec.Trigger == nil || rec.Trigger.Reason != "editor picked" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !reflect.DeepEqual(rec.Alternatives, []string{"a", "b"}) {
		t.Fatalf("alternatives = %v", rec.Alternatives)
	}
	if math.Abs(rec.Probability-0.5) > 1e-9 {
		t.Fatalf("probability = %v", rec.Probability)
	}

	trig.Reason = "mutated"
	if tree.History()[0].Trigger.Reason != "editor picked" {
		t.Fatalf("history must keep a trigger snapshot")
	}
}

func TestCollapseDegenerateReturnsRoot(t *testing.T) {
	tree := testTree(10)
	tree.Prune("root")
	if got := tree.CollapseToPath(nil, fixedDraw(0.5)); got != tree.Root() {
		t.Fatalf("expected root on empty superposition")
	}
	if len(tree.History()) != 0 {
		t.Fatalf("degenerate collapse must not record history")
	}
}

func TestCollapseOnlyRoot(t *testing.T) {
	tree := testTree(10)
	if got := tree.CollapseToPath(nil, fixedDraw(0.5)); got.ID != "root" {
		t.Fatalf("expected root, got %s", got.ID)
	}
	assertActive(t, tree, "root")
}

func TestApplicableStrategiesSortedByPriority(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategies = []GenerationStrategy{
		NewStrategy("low", 1),
		NewStrategy("high", 9),
		NewStrategy("thematic_probe", 5),
	}
	tree := NewExplorationTree(branch("root", 0.5), opts)

	got := tree.ApplicableStrategies(Context{}, tree.Root())
	if len(got) != 2 || got[0].Name != "high" || got[1].Name != "low" {
		t.Fatalf("unexpected strategies %v", got)
	}

	got = tree.ApplicableStrategies(Context{KeyThematicTension: true}, tree.Root())
	if len(got) != 3 || got[1].Name != "thematic_probe" {
		t.Fatalf("unexpected strategies %v", got)
	}
}

func TestNewTreeDefaults(t *testing.T) {
	tree := NewExplorationTree(nil, Options{})
	opts := tree.Options()
	if opts.MaxActiveBranches != 50 || opts.MaxDepth != 25 || opts.MinQualityThreshold != 0 {
		t.Fatalf("unexpected limits %+v", opts)
	}
	if len(tree.Strategies()) != 4 || len(tree.Triggers()) != 3 {
		t.Fatalf("default strategies and triggers expected")
	}
	if tree.ActiveCount() != 1 || tree.Root().Depth() != 0 {
		t.Fatalf("tree must start with the root only")
	}

	empty := NewExplorationTree(nil, Options{Triggers: []CollapseTrigger{}})
	if len(empty.Triggers()) != 0 {
		t.Fatalf("explicit empty trigger set must be kept")
	}
}

func TestSummaryAndVisualization(t *testing.T) {
	tree := testTree(10)
	tree.AddBranch("root", branch("a", 0.6))
	tree.AddBranch("a", branch("a1", 0.8))
	tree.AddBranch("root", branch("b", 0.4))
	tree.Prune("b")

	sum := tree.Summary()
	if sum.ActiveCount != 3 || sum.PrunedCount != 1 || sum.MaxDepthSeen != 2 || sum.RootID != "root" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if math.Abs(sum.AverageQuality-(0.5+0.6+0.8)/3) > 1e-9 {
		t.Fatalf("average quality = %v", sum.AverageQuality)
	}

	tree.CollapseToPath(nil, fixedDraw(0))
	view := tree.Visualization()
	if view.Tree.ID != "root" || len(view.Tree.Children) != 1 {
		t.Fatalf("unexpected view %+v", view.Tree)
	}
	a := view.Tree.Children[0]
	if a.ID != "a" || a.Depth != 1 || !a.OnCollapsedPath || len(a.Children) != 1 {
		t.Fatalf("unexpected branch view %+v", a)
	}
	if view.Metadata.CollapsedCount != 1 {
		t.Fatalf("metadata should reflect collapse")
	}
}
