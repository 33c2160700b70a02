package capture

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/pcapformat"
)

// fakeFlow is a no-op nic.FlowHandle for the fake device below.
type fakeFlow struct{}

func (fakeFlow) Remove() error { return nil }

// fakeDevice is an in-memory stand-in for a real flow-steering NIC: it
// delivers a fixed sequence of synthetic completions (simulating
// frames the hardware would have DMA'd into posted slots) and then
// idles, letting the caller's stop flag end the run.
type fakeDevice struct {
	mu       sync.Mutex
	posted   map[int][]byte // slot index -> buffer, across whatever chunk most recently posted it
	payloads [][]byte
	next     atomic.Int32
}

func newFakeDevice(payloads [][]byte) *fakeDevice {
	return &fakeDevice{posted: make(map[int][]byte), payloads: payloads}
}

func (d *fakeDevice) Bind(net.IP) error    { return nil }
func (d *fakeDevice) Allocate(int) error   { return nil }
func (d *fakeDevice) TransitionRTR() error { return nil }
func (d *fakeDevice) Close() error         { return nil }

func (d *fakeDevice) InstallFlow(nic.Endpoint) (nic.FlowHandle, error) {
	return fakeFlow{}, nil
}

func (d *fakeDevice) PostChunk(c nic.ChunkPoster) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < c.MaxRecords(); i++ {
		d.posted[i] = c.SlotBuffer(i)
	}
	return nil
}

func (d *fakeDevice) PollCompletions(wc []nic.Completion) (int, error) {
	idx := int(d.next.Load())
	if idx >= len(d.payloads) {
		return 0, nil
	}
	d.next.Add(1)

	d.mu.Lock()
	buf := d.posted[idx]
	d.mu.Unlock()

	n := copy(buf, d.payloads[idx])
	wc[0] = nic.Completion{SlotIndex: idx, ByteLen: uint32(n), Success: true}
	return 1, nil
}

func TestRunCapturesSyntheticFrames(t *testing.T) {
	payloads := [][]byte{
		make([]byte, 106),
		make([]byte, 122),
		make([]byte, 82),
	}

	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.pcap")

	opts := Options{
		Interface: "127.0.0.1",
		File:      outFile,
		Endpoints: []nic.Endpoint{{Group: net.IPv4(239, 1, 1, 1).To4(), Port: 7148}},
		Snaplen:   200,
		Buffer:    1024 * 1024,
	}

	dev := newFakeDevice(payloads)
	c, err := New(opts, dev, nil)
	if err != nil {
		t.Fatal(err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run() }()

	// Give the network goroutine time to drain the synthetic completions,
	// then request a clean shutdown exactly as SIGINT would. If Run has
	// already returned (a setup failure), no SIGINT is sent: its handler
	// is gone by then and the signal would kill the test process.
	select {
	case err := <-runErr:
		runErr <- err
	case <-time.After(200 * time.Millisecond):
		if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
			t.Fatalf("send SIGINT: %v", err)
		}
	}

	select {
	case err := <-runErr:
		if err != nil {
			if strings.Contains(err.Error(), "join group") {
				t.Skipf("multicast join not available in this environment: %v", err)
			}
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after SIGINT")
	}

	if c.Stats.Packets.Load() != uint64(len(payloads)) {
		t.Fatalf("packets = %d, want %d", c.Stats.Packets.Load(), len(payloads))
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < pcapformat.FileHeaderSize {
		t.Fatalf("file too short: %d bytes", len(data))
	}

	off := pcapformat.FileHeaderSize
	for i, p := range payloads {
		if off+pcapformat.RecordHeaderSize > len(data) {
			t.Fatalf("record %d: truncated header", i)
		}
		hdr := pcapformat.Decode(data[off : off+pcapformat.RecordHeaderSize])
		if hdr.InclLen != uint32(len(p)) {
			t.Fatalf("record %d: incl_len = %d, want %d", i, hdr.InclLen, len(p))
		}
		off += pcapformat.RecordHeaderSize + int(hdr.InclLen)
	}
	if off != len(data) {
		t.Fatalf("trailing bytes after last record: file is %d bytes, consumed %d", len(data), off)
	}
}
