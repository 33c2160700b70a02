// Package memalloc provides page-aligned, optionally huge-page, mlock-able
// buffers suitable as DMA targets for the capture pipeline's chunk pool and
// disk write buffer.
package memalloc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Allocator hands out pinned memory regions. Buffers returned by Allocate
// are never relocated or resized; the caller owns the returned slice for
// the lifetime of the registration it backs.
type Allocator struct {
	hugePages bool
	lock      bool
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithHugePages requests transparent/explicit huge pages when the
// platform supports them. Falls back silently to regular pages on
// failure.
func WithHugePages(enabled bool) Option {
	return func(a *Allocator) { a.hugePages = enabled }
}

// WithMlock requests the allocated region be pinned via mlock so it
// cannot be swapped out from under an in-flight DMA transfer.
func WithMlock(enabled bool) Option {
	return func(a *Allocator) { a.lock = enabled }
}

// New creates an Allocator with the given options.
func New(opts ...Option) *Allocator {
	a := &Allocator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Region is a single pinned allocation.
type Region struct {
	buf []byte
}

// Bytes returns the backing slice. Callers must not grow or
// re-slice past cap(Bytes()); the region's length is fixed at
// Allocate time.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Release unmaps the region. The region must not be used afterward.
func (r *Region) Release() error {
	if r.buf == nil {
		return nil
	}
	if err := unix.Munmap(r.buf); err != nil {
		return errors.Wrap(err, "munmap failed")
	}
	r.buf = nil
	return nil
}

// Allocate reserves a zeroed region of the requested size.
func (a *Allocator) Allocate(size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.New("allocation size must be positive")
	}

	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if a.hugePages {
		flags |= mapHugeTLBFlag()
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil && a.hugePages {
		// Huge pages unavailable; fall back to a regular mapping.
		buf, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANON)
	}
	if err != nil {
		return nil, errors.Wrap(err, "mmap failed")
	}

	if a.lock {
		if err := unix.Mlock(buf); err != nil {
			// Not fatal: capture can proceed without pinning, it just
			// risks a swap-induced stall under memory pressure.
			_ = err
		}
	}

	return &Region{buf: buf}, nil
}
