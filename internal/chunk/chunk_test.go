package chunk

import (
	"testing"

	"github.com/frozenpine/mcdump/internal/memalloc"
)

func newTestChunk(t *testing.T, maxRecords, snaplen int) *Chunk {
	t.Helper()
	c, err := New(memalloc.New(), maxRecords, snaplen)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Release() })
	return c
}

func TestCompleteFillsSlotsInOrder(t *testing.T) {
	c := newTestChunk(t, 4, 128)

	copy(c.SlotBuffer(0), []byte("hello"))
	if err := c.Complete(0, 5); err != nil {
		t.Fatal(err)
	}
	if c.NRecords() != 1 {
		t.Fatalf("NRecords() = %d, want 1", c.NRecords())
	}
	if c.Full() {
		t.Fatal("chunk with 1/4 slots filled must not be Full")
	}
}

func TestCompleteRejectsOutOfOrder(t *testing.T) {
	c := newTestChunk(t, 4, 128)
	if err := c.Complete(1, 5); err == nil {
		t.Fatal("expected an error completing slot 1 before slot 0")
	}
}

func TestCompleteRejectsOverflow(t *testing.T) {
	c := newTestChunk(t, 1, 128)
	if err := c.Complete(0, 5); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(1, 5); err == nil {
		t.Fatal("expected an error completing past capacity")
	}
}

func TestCompleteWithTimestampStampsHeader(t *testing.T) {
	c := newTestChunk(t, 1, 128)
	if err := c.CompleteWithTimestamp(0, 10, 1700000000, 500); err != nil {
		t.Fatal(err)
	}

	vecs := c.IOVecs()
	hdr := vecs[0]
	ts := uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24
	if ts != 1700000000 {
		t.Fatalf("encoded TSSec = %d, want 1700000000", ts)
	}
}

func TestDiscardSlotConsumesButDoesNotCountAsPacket(t *testing.T) {
	c := newTestChunk(t, 2, 128)
	if err := c.DiscardSlot(0); err != nil {
		t.Fatal(err)
	}
	if c.NRecords() != 1 {
		t.Fatalf("NRecords() = %d, want 1 after a discard", c.NRecords())
	}

	vecs := c.IOVecs()
	if len(vecs) != 2 {
		t.Fatalf("IOVecs() len = %d, want 2 (header+payload for the discarded slot)", len(vecs))
	}
	if len(vecs[1]) != 0 {
		t.Fatalf("discarded slot payload length = %d, want 0", len(vecs[1]))
	}
}

func TestFullAndReset(t *testing.T) {
	c := newTestChunk(t, 2, 128)
	if err := c.Complete(0, 5); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(1, 5); err != nil {
		t.Fatal(err)
	}
	if !c.Full() {
		t.Fatal("expected Full() after filling every slot")
	}

	c.Reset()
	if c.NRecords() != 0 || c.NBytes() != 0 {
		t.Fatal("Reset() must clear occupancy")
	}
	if c.Full() {
		t.Fatal("a reset chunk must not report Full")
	}
}

func TestIOVecsOrderAndContent(t *testing.T) {
	c := newTestChunk(t, 2, 128)
	copy(c.SlotBuffer(0), []byte("AAAA"))
	copy(c.SlotBuffer(1), []byte("BB"))
	if err := c.Complete(0, 4); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(1, 2); err != nil {
		t.Fatal(err)
	}

	vecs := c.IOVecs()
	if len(vecs) != 4 {
		t.Fatalf("IOVecs() len = %d, want 4", len(vecs))
	}
	if string(vecs[1]) != "AAAA" {
		t.Fatalf("first payload = %q, want %q", vecs[1], "AAAA")
	}
	if string(vecs[3]) != "BB" {
		t.Fatalf("second payload = %q, want %q", vecs[3], "BB")
	}
}
