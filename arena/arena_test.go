package arena

import "testing"

func TestReserveBumpsCursor(t *testing.T) {
	a, err := New(pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	before := a.Remaining()
	addr1, buf1, err := a.Reserve(16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(buf1) != 16 {
		t.Fatalf("expected 16-byte slice, got %d", len(buf1))
	}
	addr2, _, err := a.Reserve(16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if addr2 != addr1+16 {
		t.Fatalf("expected contiguous addresses, got %x then %x", addr1, addr2)
	}
	if a.Remaining() != before-32 {
		t.Fatalf("remaining not decremented correctly: %d vs %d", a.Remaining(), before-32)
	}
}

func TestReserveFailsWhenFull(t *testing.T) {
	a, err := New(pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Reserve(a.capacity + 1); err != ErrArenaFull {
		t.Fatalf("expected ErrArenaFull, got %v", err)
	}
}

func TestResetRestoresCursor(t *testing.T) {
	a, err := New(pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	a.Reserve(64)
	a.MarkEndOfPrelude()
	a.Reserve(64)
	a.Reset(a.EndOfPrelude())
	if a.Remaining() != a.capacity-64 {
		t.Fatalf("reset did not restore cursor: remaining=%d want=%d", a.Remaining(), a.capacity-64)
	}
}

func TestContains(t *testing.T) {
	a, err := New(pageSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	addr, _, err := a.Reserve(8)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !a.Contains(addr) {
		t.Fatalf("expected arena to contain reserved address")
	}
	if a.Contains(addr + uintptr(a.capacity)) {
		t.Fatalf("expected arena to reject out-of-range address")
	}
}
