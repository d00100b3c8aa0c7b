package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
)

type widget struct {
	ID    string
	Count int
}

func TestInsertGetRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := Open[widget](filepath.Join(dir, "widgets.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Insert("a", widget{ID: "a", Count: 1}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, ok := s.Get("a")
	if !ok || got.Count != 1 {
		t.Fatalf("Get() = %v, %v, want Count=1, true", got, ok)
	}

	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("Get() after Remove() found a value, want none")
	}
}

func TestPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.json")

	s1, err := Open[widget](path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s1.Insert("a", widget{ID: "a", Count: 7}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	s2, err := Open[widget](path)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	got, ok := s2.Get("a")
	if !ok || got.Count != 7 {
		t.Fatalf("Get() after reopen = %v, %v, want Count=7, true", got, ok)
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open[widget](filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(s.Values()) != 0 {
		t.Fatalf("Values() = %v, want empty", s.Values())
	}
}

func TestOpenEmptyFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	s, err := Open[widget](path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(s.Values()) != 0 {
		t.Fatalf("Values() = %v, want empty", s.Values())
	}
}

func TestUpdateNotFound(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open[widget](filepath.Join(dir, "widgets.json"))

	_, err := s.Update("missing", func(current widget, ok bool) (widget, error) {
		if !ok {
			return widget{}, apierr.NotFound("widget", "missing")
		}
		return current, nil
	})
	if !apierr.Is(err, apierr.KindNotFound) {
		t.Fatalf("Update() error = %v, want NotFound", err)
	}
}

func TestUpdateMutatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.json")
	s, _ := Open[widget](path)
	_ = s.Insert("a", widget{ID: "a", Count: 1})

	updated, err := s.Update("a", func(current widget, ok bool) (widget, error) {
		current.Count++
		return current, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Count != 2 {
		t.Fatalf("Update() result Count = %d, want 2", updated.Count)
	}

	s2, _ := Open[widget](path)
	got, _ := s2.Get("a")
	if got.Count != 2 {
		t.Fatalf("persisted Count = %d, want 2", got.Count)
	}
}

func TestFindAndValuesAreSortedByKey(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open[widget](filepath.Join(dir, "widgets.json"))
	_ = s.Insert("b", widget{ID: "b", Count: 2})
	_ = s.Insert("a", widget{ID: "a", Count: 1})

	values := s.Values()
	if len(values) != 2 || values[0].ID != "a" || values[1].ID != "b" {
		t.Fatalf("Values() = %v, want sorted [a, b]", values)
	}

	found, ok := s.Find(func(w widget) bool { return w.Count == 2 })
	if !ok || found.ID != "b" {
		t.Fatalf("Find() = %v, %v, want b, true", found, ok)
	}

	if _, ok := s.Find(func(w widget) bool { return w.Count == 99 }); ok {
		t.Fatal("Find() matched nothing, want ok=false")
	}
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open[widget](filepath.Join(dir, "widgets.json"))
	if err := s.Remove("missing"); err != nil {
		t.Fatalf("Remove() of missing key error = %v, want nil", err)
	}
}
