package registry

import "testing"

func TestAddFindRelease(t *testing.T) {
	r := New()

	if err := r.Add("nio0", TypeNIO, "payload", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("nio0", TypeNIO, "payload2", nil); err == nil {
		t.Fatal("expected duplicate error")
	}

	h, err := r.Find("nio0", TypeNIO)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if h.Data() != "payload" {
		t.Fatalf("unexpected data: %v", h.Data())
	}

	// two refs outstanding (Add's implicit + Find's): delete must fail
	if err := r.DeleteIfUnused("nio0", TypeNIO); err == nil {
		t.Fatal("expected ErrInUse")
	}

	h.Release()

	if err := r.DeleteIfUnused("nio0", TypeNIO); err != nil {
		t.Fatalf("DeleteIfUnused after release: %v", err)
	}

	if _, err := r.Find("nio0", TypeNIO); err == nil {
		t.Fatal("expected not-found after delete")
	}
}

func TestRename(t *testing.T) {
	r := New()
	r.Add("a", TypeNIO, 1, nil)

	if err := r.Rename("a", "b", TypeNIO); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if r.Exists("a", TypeNIO) != nil {
		t.Fatal("old name should no longer exist")
	}
	if r.Exists("b", TypeNIO) == nil {
		t.Fatal("new name should exist")
	}
}

func TestForeachDeleteDuringVisit(t *testing.T) {
	r := New()
	r.Add("a", TypeNIO, 1, nil)
	r.Add("b", TypeNIO, 2, nil)

	seen := 0
	r.ForeachType(TypeNIO, func(name string, data any) {
		seen++
		// deletion from within a visitor must not invalidate iteration
		r.DeleteIfUnused(name, TypeNIO)
	})
	if seen != 2 {
		t.Fatalf("expected to visit 2 objects, saw %d", seen)
	}

	remaining := 0
	r.ForeachType(TypeNIO, func(string, any) { remaining++ })
	if remaining != 0 {
		t.Fatalf("expected all objects deleted, %d remain", remaining)
	}
}

func TestFreeCallbackOnDelete(t *testing.T) {
	r := New()
	freed := false
	r.Add("a", TypeNIO, 1, func(any) { freed = true })

	if err := r.DeleteIfUnused("a", TypeNIO); err != nil {
		t.Fatalf("DeleteIfUnused: %v", err)
	}
	if !freed {
		t.Fatal("free callback was not invoked")
	}
}
