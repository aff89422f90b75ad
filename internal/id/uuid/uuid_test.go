package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if id1 >= id2 {
		t.Fatalf("expected time-ordered IDs, got %s then %s", id1, id2)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !Valid("0190a3c4-7b2e-7c3d-8e4f-123456789abc") {
		t.Fatal("expected valid uuid")
	}
	if Valid("job-1") {
		t.Fatal("expected job-1 to be rejected")
	}
}
