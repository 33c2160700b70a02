package memalloc

import "testing"

func TestAllocateAndRelease(t *testing.T) {
	a := New()

	region, err := a.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	if len(region.Bytes()) != 4096 {
		t.Fatalf("region length = %d, want 4096", len(region.Bytes()))
	}

	region.Bytes()[0] = 0xAB
	if region.Bytes()[0] != 0xAB {
		t.Fatal("region is not writable")
	}

	if err := region.Release(); err != nil {
		t.Fatal(err)
	}
	if region.Bytes() != nil {
		t.Fatal("region should be nil after release")
	}
}

func TestAllocateRejectsNonPositiveSize(t *testing.T) {
	a := New()
	if _, err := a.Allocate(0); err == nil {
		t.Fatal("expected an error for a zero-size allocation")
	}
	if _, err := a.Allocate(-1); err == nil {
		t.Fatal("expected an error for a negative-size allocation")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := New()
	region, err := a.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	if err := region.Release(); err != nil {
		t.Fatal(err)
	}
	if err := region.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestWithHugePagesFallsBackOnFailure(t *testing.T) {
	a := New(WithHugePages(true))
	region, err := a.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer region.Release()
	if len(region.Bytes()) != 4096 {
		t.Fatalf("region length = %d, want 4096", len(region.Bytes()))
	}
}
