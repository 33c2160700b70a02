package chunk

import "github.com/frozenpine/mcdump/internal/memalloc"

// NewPool allocates nChunks identical chunks of maxRecords slots each.
// Arming (posting receive work requests) and enqueueing onto the free
// ring are the caller's responsibility — the pool only owns memory
// layout; the NIC context that each chunk borrows a registration from
// is a separate concern.
func NewPool(alloc *memalloc.Allocator, maxRecords, snaplen, nChunks int) ([]*Chunk, error) {
	chunks := make([]*Chunk, 0, nChunks)
	for i := 0; i < nChunks; i++ {
		c, err := New(alloc, maxRecords, snaplen)
		if err != nil {
			for _, prev := range chunks {
				prev.Release()
			}
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
