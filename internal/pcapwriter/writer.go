// Package pcapwriter implements the large staged write buffer that
// batches pcap bytes to disk: Write copies into the buffer and flushes
// when full, Flush emits the buffered bytes with a single write call
// and fails loudly on short writes, Close flushes then closes.
package pcapwriter

import (
	"os"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/frozenpine/mcdump/internal/memalloc"
	"github.com/frozenpine/mcdump/internal/pcapformat"
)

// DefaultBufferSize is the default staging buffer size.
const DefaultBufferSize = 8 * 1024 * 1024

// scratchPool supplies reusable byte buffers for header encoding,
// avoiding a fresh allocation every time WriteFileHeader runs.
var scratchPool bytebufferpool.Pool

// Writer owns a file descriptor and a pinned staging buffer.
type Writer struct {
	file   *os.File
	region *memalloc.Region
	nBytes int

	syncOnFlush bool
}

// Options configures Open.
type Options struct {
	BufferSize int
	// SyncOnFlush issues sync_file_range after every flush as an
	// advisory write-back hint.
	SyncOnFlush bool
}

// Open creates (truncating) or opens file for writing and allocates
// its staging buffer from alloc.
func Open(path string, alloc *memalloc.Allocator, opts Options) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "open output file")
	}

	region, err := alloc.Allocate(opts.BufferSize)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "allocate write buffer")
	}

	return &Writer{
		file:        f,
		region:      region,
		syncOnFlush: opts.SyncOnFlush,
	}, nil
}

// WriteFileHeader writes the pcap global header for the given snaplen.
func (w *Writer) WriteFileHeader(snaplen uint32) error {
	buf := scratchPool.Get()
	defer scratchPool.Put(buf)

	hdr := pcapformat.FileHeader{Snaplen: snaplen}.Encode()
	buf.Write(hdr[:])
	return w.Write(buf.B)
}

// Write copies data into the staging buffer, flushing whenever it
// fills. Data larger than the remaining room (including data bigger
// than the whole buffer) is copied in pieces, with a flush after each
// piece that fills the buffer.
func (w *Writer) Write(data []byte) error {
	buf := w.region.Bytes()

	for len(data) > 0 {
		room := len(buf) - w.nBytes
		n := len(data)
		if n > room {
			n = room
		}

		copy(buf[w.nBytes:], data[:n])
		w.nBytes += n
		data = data[n:]

		if w.nBytes == len(buf) {
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}

	return nil
}

// WriteVec writes each slice in iov in order, matching a chunk's
// interleaved [header, payload] vectors.
func (w *Writer) WriteVec(iov [][]byte) error {
	for _, v := range iov {
		if err := w.Write(v); err != nil {
			return err
		}
	}
	return nil
}

// Flush emits the buffered bytes with a single write call, failing
// loudly on a short write.
func (w *Writer) Flush() error {
	if w.nBytes == 0 {
		return nil
	}

	n, err := w.file.Write(w.region.Bytes()[:w.nBytes])
	if err != nil {
		return errors.Wrap(err, "write failed")
	}
	if n != w.nBytes {
		return errors.Errorf("short write: wrote %d of %d bytes", n, w.nBytes)
	}

	if w.syncOnFlush {
		syncFileRange(w.file)
	}

	w.nBytes = 0
	return nil
}

// Close flushes then closes the file and releases the staging buffer.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "close failed")
	}
	return w.region.Release()
}
