package persist

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kayz/thespian/internal/narrative"
)

type fixedDraw float64

func (f fixedDraw) Float64() float64 { return float64(f) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func snapshotOf(tree *narrative.ExplorationTree) *narrative.TreeSnapshot {
	snap := tree.Snapshot()
	return &snap
}

func collapsedTree(t *testing.T) *narrative.ExplorationTree {
	t.Helper()
	root := narrative.NewState()
	root.Content = "Act 1, Scene 1"
	tree := narrative.NewExplorationTree(root, narrative.DefaultOptions())
	for _, content := range []string{"a", "b", "c"} {
		b := root.Derive()
		b.Content = content
		if !tree.AddBranch(root.ID, b) {
			t.Fatalf("branch %s rejected", content)
		}
	}
	trigger := narrative.ManualTrigger("director")
	tree.CollapseToPath(&trigger, fixedDraw(0))
	return tree
}

func TestSaveAndLoadSession(t *testing.T) {
	store := newTestStore(t)
	tree := collapsedTree(t)

	session := &Session{Title: "Elsinore", Mode: "full_exploration", Tree: snapshotOf(tree)}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if session.ID == "" || session.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps to be assigned")
	}

	loaded, err := store.LoadSession(session.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Title != "Elsinore" || loaded.Mode != "full_exploration" {
		t.Fatalf("unexpected session %+v", loaded)
	}

	restored, err := narrative.Restore(*loaded.Tree)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.ActiveCount() != tree.ActiveCount() || restored.PrunedCount() != tree.PrunedCount() {
		t.Fatalf("restored tree differs: %d/%d vs %d/%d",
			restored.ActiveCount(), restored.PrunedCount(), tree.ActiveCount(), tree.PrunedCount())
	}
	if got, want := restored.CollapsedPath(), tree.CollapsedPath(); len(got) != 1 || got[0] != want[0] {
		t.Fatalf("unexpected collapsed path %v, want %v", got, want)
	}
}

func TestSaveSessionUpdatesInPlace(t *testing.T) {
	store := newTestStore(t)
	root := narrative.NewState()
	tree := narrative.NewExplorationTree(root, narrative.DefaultOptions())

	session := &Session{Title: "draft", Tree: snapshotOf(tree)}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	created := session.CreatedAt

	b := root.Derive()
	b.Content = "late idea"
	tree.AddBranch(root.ID, b)
	session.Title = "final"
	session.Tree = snapshotOf(tree)
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("second SaveSession failed: %v", err)
	}

	infos, err := store.ListSessions(0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected one session, got %d", len(infos))
	}
	if infos[0].Title != "final" || infos[0].ActiveBranches != 2 {
		t.Fatalf("unexpected listing %+v", infos[0])
	}
	if infos[0].CreatedAt.Unix() != created.Unix() {
		t.Fatalf("creation time must survive updates")
	}
}

func TestListSessionsOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	for _, title := range []string{"first", "second", "third"} {
		tree := narrative.NewExplorationTree(narrative.NewState(), narrative.DefaultOptions())
		if err := store.SaveSession(&Session{Title: title, Tree: snapshotOf(tree)}); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	infos, err := store.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(infos) != 2 || infos[0].Title != "third" || infos[1].Title != "second" {
		t.Fatalf("unexpected order %v", titles(infos))
	}
}

func titles(infos []*SessionInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Title
	}
	return out
}

func TestListCollapses(t *testing.T) {
	store := newTestStore(t)
	tree := collapsedTree(t)
	session := &Session{Tree: snapshotOf(tree)}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	entries, err := store.ListCollapses(session.ID)
	if err != nil {
		t.Fatalf("ListCollapses failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one collapse, got %d", len(entries))
	}
	e := entries[0]
	history := tree.History()
	if e.SelectedID != history[0].SelectedID || len(e.Alternatives) != 3 {
		t.Fatalf("unexpected collapse entry %+v", e)
	}
	if e.Trigger == nil || e.Trigger.Reason != "director" {
		t.Fatalf("trigger not stored: %+v", e.Trigger)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	session := &Session{Tree: snapshotOf(collapsedTree(t))}
	if err := store.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := store.DeleteSession(session.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.LoadSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if entries, _ := store.ListCollapses(session.ID); len(entries) != 0 {
		t.Fatalf("collapses must be removed with the session")
	}
	if err := store.DeleteSession(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}

func TestSaveSessionRequiresTree(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSession(&Session{Title: "empty"}); err == nil {
		t.Fatalf("expected error for session without tree")
	}
}
