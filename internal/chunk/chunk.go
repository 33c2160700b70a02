// Package chunk implements the pool of fixed-capacity packet batches
// that are the unit of hand-off between the network and disk
// goroutines.
package chunk

import (
	"github.com/pkg/errors"

	"github.com/frozenpine/mcdump/internal/memalloc"
	"github.com/frozenpine/mcdump/internal/pcapformat"
)

// Chunk holds up to MaxRecords captured packets sharing one DMA-registered
// payload arena. The arena, record array and slot layout are fixed at
// construction and never relocated — the same memory serves both the
// NIC receive path and the buffered disk writer.
type Chunk struct {
	maxRecords int
	snaplen    int

	arena   *memalloc.Region
	records []pcapformat.RecordHeader
	filled  []uint32 // bytes actually received per slot, valid for i < nRecords

	nRecords uint32
	nBytes   uint64

	// Registration is an opaque slot for a NIC-side handle (memory
	// region, scatter/gather list, etc.). Only a device backend would
	// interpret it; neither the ibv nor the afring backend sets it.
	Registration any
}

// New allocates a chunk with maxRecords slots of snaplen bytes each.
func New(alloc *memalloc.Allocator, maxRecords, snaplen int) (*Chunk, error) {
	if maxRecords <= 0 || snaplen <= 0 {
		return nil, errors.New("maxRecords and snaplen must be positive")
	}

	region, err := alloc.Allocate(maxRecords * snaplen)
	if err != nil {
		return nil, errors.Wrap(err, "allocate chunk payload arena")
	}

	return &Chunk{
		maxRecords: maxRecords,
		snaplen:    snaplen,
		arena:      region,
		records:    make([]pcapformat.RecordHeader, maxRecords),
		filled:     make([]uint32, maxRecords),
	}, nil
}

// MaxRecords returns the slot capacity of the chunk.
func (c *Chunk) MaxRecords() int { return c.maxRecords }

// Snaplen returns the per-slot capture length.
func (c *Chunk) Snaplen() int { return c.snaplen }

// NRecords returns the number of slots filled so far.
func (c *Chunk) NRecords() uint32 { return c.nRecords }

// NBytes returns the total bytes queued for disk (header + payload).
func (c *Chunk) NBytes() uint64 { return c.nBytes }

// SlotBuffer returns the DMA target for slot i: a snaplen-sized window
// into the chunk's payload arena. NIC backends register this address
// as the scatter/gather target for the slot's receive work request.
func (c *Chunk) SlotBuffer(i int) []byte {
	base := c.arena.Bytes()
	off := i * c.snaplen
	return base[off : off+c.snaplen]
}

// Arena exposes the full registered region, for backends that register
// the whole arena once rather than per-slot.
func (c *Chunk) Arena() []byte { return c.arena.Bytes() }

// Complete records a successful completion for slot idx with byteLen
// bytes received, stamping a zero timestamp. idx must equal
// NRecords(): completions are assumed to arrive in posting order
// within a chunk.
func (c *Chunk) Complete(idx int, byteLen uint32) error {
	return c.completeAt(idx, byteLen, 0, 0)
}

// CompleteWithTimestamp behaves like Complete but stamps the record
// with a software receive timestamp, for capture.Options.Timestamp.
func (c *Chunk) CompleteWithTimestamp(idx int, byteLen uint32, tsSec, tsUsec uint32) error {
	return c.completeAt(idx, byteLen, tsSec, tsUsec)
}

func (c *Chunk) completeAt(idx int, byteLen, tsSec, tsUsec uint32) error {
	if uint32(idx) != c.nRecords {
		return errors.Errorf("completion out of order: slot %d, expected %d", idx, c.nRecords)
	}
	if idx >= c.maxRecords {
		return errors.Errorf("completion slot %d exceeds capacity %d", idx, c.maxRecords)
	}

	c.records[idx] = pcapformat.RecordHeader{TSSec: tsSec, TSUsec: tsUsec, InclLen: byteLen, OrigLen: byteLen}
	c.filled[idx] = byteLen
	c.nRecords++
	c.nBytes += uint64(byteLen) + pcapformat.RecordHeaderSize
	return nil
}

// DiscardSlot consumes slot idx without counting it as a packet: a
// failed completion still consumes a slot but does not increment the
// packet count. The slot index must still equal NRecords so chunk
// occupancy stays gapless.
func (c *Chunk) DiscardSlot(idx int) error {
	if uint32(idx) != c.nRecords {
		return errors.Errorf("discard out of order: slot %d, expected %d", idx, c.nRecords)
	}
	if idx >= c.maxRecords {
		return errors.Errorf("discard slot %d exceeds capacity %d", idx, c.maxRecords)
	}

	c.records[idx] = pcapformat.RecordHeader{}
	c.filled[idx] = 0
	c.nRecords++
	c.nBytes += pcapformat.RecordHeaderSize
	return nil
}

// Full reports whether every slot has been consumed.
func (c *Chunk) Full() bool { return c.nRecords == uint32(c.maxRecords) }

// Reset clears occupancy so the chunk can be re-armed and returned to
// the free ring. Must only be called on a full chunk: a short chunk
// still has outstanding receive work requests on slots past NRecords,
// so resetting and re-posting it would double-post.
func (c *Chunk) Reset() {
	c.nRecords = 0
	c.nBytes = 0
}

// IOVecs returns the interleaved [header, payload] byte slices for
// every filled slot, in acquisition order, for the disk writer to
// emit.
func (c *Chunk) IOVecs() [][]byte {
	out := make([][]byte, 0, 2*c.nRecords)
	for i := uint32(0); i < c.nRecords; i++ {
		hdr := c.records[i].Encode()
		out = append(out, hdr[:])
		out = append(out, c.SlotBuffer(int(i))[:c.filled[i]])
	}
	return out
}

// Release unmaps the chunk's payload arena. A NIC memory registration
// of the arena is not touched here; the device backend owns it.
func (c *Chunk) Release() error {
	return c.arena.Release()
}
