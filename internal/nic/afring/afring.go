//go:build linux

// Package afring is the portable fallback NIC backend: it stands in
// for real RDMA/verbs flow steering using an AF_PACKET TPacket ring
// (github.com/google/gopacket/afpacket), classifying frames in
// software against the installed endpoint set instead of a hardware
// flow table.
package afring

import (
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/frozenpine/mcdump/internal/ifaceutil"
	"github.com/frozenpine/mcdump/internal/nic"
)

const (
	frameSize = 4096
	blockSize = frameSize * 512
	numBlocks = 128
)

type pendingSlot struct {
	buf []byte
	idx int
}

type flowHandle struct {
	dev *Device
	ep  nic.Endpoint
}

func (h *flowHandle) Remove() error {
	h.dev.removeEndpoint(h.ep)
	return nil
}

// Device implements nic.Device over an AF_PACKET ring.
type Device struct {
	iface *net.Interface

	mu        sync.Mutex
	endpoints map[nic.Endpoint]struct{}

	handle *afpacket.TPacket

	pending     chan pendingSlot
	completions chan nic.Completion

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates an unbound afring Device.
func New() *Device {
	return &Device{
		endpoints: make(map[nic.Endpoint]struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Bind resolves the local interface carrying ifaceAddr. The AF_PACKET
// ring on it is opened later, by Allocate.
func (d *Device) Bind(ifaceAddr net.IP) error {
	iface, err := ifaceutil.ResolveByIP(ifaceAddr)
	if err != nil {
		return err
	}
	d.iface = iface
	return nil
}

// Allocate opens the TPacket ring. nSlots only bounds the software
// completion queue's depth; AF_PACKET has no hardware receive-queue
// sizing knob to match it against.
func (d *Device) Allocate(nSlots int) error {
	if d.iface == nil {
		return errors.New("device not bound")
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(d.iface.Name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(50*time.Millisecond),
	)
	if err != nil {
		return errors.Wrap(err, "open AF_PACKET ring")
	}

	d.handle = handle
	d.pending = make(chan pendingSlot, nSlots)
	d.completions = make(chan nic.Completion, nSlots)
	return nil
}

// InstallFlow registers ep in the software classification set.
func (d *Device) InstallFlow(ep nic.Endpoint) (nic.FlowHandle, error) {
	d.mu.Lock()
	d.endpoints[ep] = struct{}{}
	d.mu.Unlock()
	return &flowHandle{dev: d, ep: ep}, nil
}

func (d *Device) removeEndpoint(ep nic.Endpoint) {
	d.mu.Lock()
	delete(d.endpoints, ep)
	d.mu.Unlock()
}

func (d *Device) matches(ip net.IP, port uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ep := range d.endpoints {
		if ep.Group.Equal(ip) && ep.Port == port {
			return true
		}
	}
	return false
}

// TransitionRTR starts the classification goroutine. There is no real
// queue-pair state machine for AF_PACKET; this just begins consuming
// the ring once every receive slot has been posted, matching the
// ordering the real backend enforces.
func (d *Device) TransitionRTR() error {
	if d.handle == nil {
		return errors.New("device not allocated")
	}

	d.wg.Add(1)
	go d.readLoop()
	return nil
}

func (d *Device) readLoop() {
	defer d.wg.Done()

	var eth layers.Ethernet
	var ip4 layers.IPv4
	var udp layers.UDP
	var payload gopacket.Payload
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &udp, &payload)
	decoded := make([]gopacket.LayerType, 0, 3)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		data, _, err := d.handle.ZeroCopyReadPacketData()
		if err != nil {
			continue
		}

		if err := parser.DecodeLayers(data, &decoded); err != nil {
			continue
		}

		var isUDP bool
		for _, lt := range decoded {
			if lt == layers.LayerTypeUDP {
				isUDP = true
			}
		}
		if !isUDP || !d.matches(ip4.DstIP, uint16(udp.DstPort)) {
			continue
		}

		var slot pendingSlot
		select {
		case slot = <-d.pending:
		case <-d.stopCh:
			return
		}

		n := copy(slot.buf, data)
		select {
		case d.completions <- nic.Completion{SlotIndex: slot.idx, ByteLen: uint32(n), Success: true}:
		case <-d.stopCh:
			return
		}
	}
}

// PostChunk enqueues every slot of c as a pending receive target.
func (d *Device) PostChunk(c nic.ChunkPoster) error {
	for i := 0; i < c.MaxRecords(); i++ {
		select {
		case d.pending <- pendingSlot{buf: c.SlotBuffer(i), idx: i}:
		default:
			return errors.New("pending slot queue full: chunk pool misconfigured")
		}
	}
	return nil
}

// PollCompletions drains up to len(wc) completions without blocking,
// matching the real backend's bounded-spin contract.
func (d *Device) PollCompletions(wc []nic.Completion) (int, error) {
	n := 0
	for n < len(wc) {
		select {
		case c := <-d.completions:
			wc[n] = c
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Close tears down the ring and stops the classification goroutine.
func (d *Device) Close() error {
	d.once.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
	if d.handle != nil {
		d.handle.Close()
	}
	return nil
}
