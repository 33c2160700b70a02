package chunk

import "github.com/pkg/errors"

// nominalChunkSize is the target size of a single chunk's payload
// arena before accounting for snaplen.
const nominalChunkSize = 2 * 1024 * 1024

// Sizes computes maxRecords and nChunks for a given snaplen and total
// buffer budget. It is a pure function of its two inputs, safe to call
// repeatedly.
func Sizes(snaplen, buffer int) (maxRecords, nChunks int, err error) {
	if snaplen <= 0 {
		return 0, 0, errors.New("snaplen must be positive")
	}

	maxRecords = nominalChunkSize / snaplen
	if maxRecords == 0 {
		maxRecords = 1
	}

	chunkSize := maxRecords * snaplen
	nChunks = buffer / chunkSize
	if nChunks == 0 {
		nChunks = 1
	}

	// 32-bit slot counter overflow guard: n_chunks * max_records must
	// fit in a uint32, since completion slot indices are tracked as such.
	const maxUint32 = 1<<32 - 1
	if maxUint32/maxRecords <= nChunks {
		return 0, 0, errors.New("too many buffered packets: n_chunks * max_records overflows a 32-bit slot counter")
	}

	return maxRecords, nChunks, nil
}
