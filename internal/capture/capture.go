// Package capture wires the chunk pool, NIC device, ring pair and
// buffered writer into the producer/consumer pipeline: a network
// goroutine polling completions and a disk goroutine draining filled
// chunks to a pcap file, coupled by two bounded rings and a shared
// stop flag.
package capture

import (
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/frozenpine/mcdump/internal/affinity"
	"github.com/frozenpine/mcdump/internal/chunk"
	"github.com/frozenpine/mcdump/internal/errs"
	"github.com/frozenpine/mcdump/internal/ifaceutil"
	"github.com/frozenpine/mcdump/internal/mcast"
	"github.com/frozenpine/mcdump/internal/memalloc"
	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/pcapwriter"
	"github.com/frozenpine/mcdump/internal/ring"
)

// Stats holds the run's monotone counters: written only by the
// network goroutine, safe to read after it has joined.
type Stats struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
	Errors  atomic.Uint64
}

// Capture owns one run of the pipeline end to end.
type Capture struct {
	opts Options
	dev  nic.Device
	log  *logrus.Entry

	maxRecords int
	nChunks    int

	alloc  *memalloc.Allocator
	writer *pcapwriter.Writer

	chunks []*chunk.Chunk
	free   *ring.Ring[*chunk.Chunk]
	ready  *ring.Ring[*chunk.Chunk]

	flows []nic.FlowHandle

	stop  atomic.Bool
	Stats Stats
}

// New validates opts and constructs a Capture bound to dev. dev must
// already exist but need not yet be bound/allocated — Run performs
// the full setup sequence.
func New(opts Options, dev nic.Device, log *logrus.Entry) (*Capture, error) {
	if opts.Interface == "" {
		return nil, errs.Config(errors.New("interface address is required"))
	}
	if opts.File == "" {
		return nil, errs.Config(errors.New("output file is required"))
	}
	if len(opts.Endpoints) == 0 {
		return nil, errs.Config(errors.New("at least one endpoint is required"))
	}
	if opts.Snaplen <= 0 {
		opts.Snaplen = DefaultSnaplen
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	maxRecords, nChunks, err := chunk.Sizes(opts.Snaplen, opts.Buffer)
	if err != nil {
		return nil, errs.Config(err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Capture{
		opts:       opts,
		dev:        dev,
		log:        log,
		maxRecords: maxRecords,
		nChunks:    nChunks,
		alloc:      memalloc.New(memalloc.WithMlock(true)),
	}, nil
}

// Run executes the full lifecycle: setup, capture, teardown. It
// returns an errs-classified error on failure and nil on a clean
// SIGINT shutdown.
func (c *Capture) Run() (err error) {
	ifaceAddr := net.ParseIP(c.opts.Interface)
	if ifaceAddr == nil {
		return errs.Config(errors.Errorf("invalid interface address: %s", c.opts.Interface))
	}

	c.writer, err = pcapwriter.Open(c.opts.File, c.alloc, pcapwriter.Options{
		SyncOnFlush: c.opts.Sync,
	})
	if err != nil {
		return errs.Setup(err)
	}
	defer c.writer.Close()

	if err := c.dev.Bind(ifaceAddr); err != nil {
		return errs.Setup(errors.Wrap(err, "bind NIC context"))
	}

	nSlots := c.nChunks * c.maxRecords
	if err := c.dev.Allocate(nSlots); err != nil {
		return errs.Setup(errors.Wrap(err, "allocate completion queue / queue pair"))
	}
	defer c.dev.Close()

	for _, ep := range c.opts.Endpoints {
		h, err := c.dev.InstallFlow(ep)
		if err != nil {
			return errs.Setup(errors.Wrapf(err, "install flow for %s", ep))
		}
		c.flows = append(c.flows, h)
	}

	chunks, err := chunk.NewPool(c.alloc, c.maxRecords, c.opts.Snaplen, c.nChunks)
	if err != nil {
		return errs.Setup(errors.Wrap(err, "allocate chunk pool"))
	}
	c.chunks = chunks
	defer c.releaseChunks()

	c.free = ring.New[*chunk.Chunk](c.nChunks)
	c.ready = ring.New[*chunk.Chunk](c.nChunks)

	for _, ch := range chunks {
		if err := c.dev.PostChunk(ch); err != nil {
			return errs.Setup(errors.Wrap(err, "post receive work requests"))
		}
		c.free.Push(ch)
	}

	if err := c.dev.TransitionRTR(); err != nil {
		return errs.Setup(errors.Wrap(err, "transition queue pair to RTR"))
	}

	iface, err := ifaceutil.ResolveByIP(ifaceAddr)
	if err != nil {
		return errs.Setup(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		signal.Stop(sigCh) // one-shot: a second Ctrl-C uses the default disposition
		c.stop.Store(true)
	}()
	defer signal.Stop(sigCh)

	var diskErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		diskErr = c.diskLoop()
	}()

	joinSocket, err := mcast.Join(iface, c.opts.Endpoints)
	if err != nil {
		c.stop.Store(true)
		c.ready.Stop() // wakes the disk goroutine, which is blocked on ready.Pop
		wg.Wait()
		return errs.Setup(err)
	}

	c.networkLoop()

	joinSocket.Close()
	wg.Wait()

	for _, h := range c.flows {
		h.Remove()
	}

	c.log.Infof("%d packets captured (%d bytes)", c.Stats.Packets.Load(), c.Stats.Bytes.Load())
	c.log.Infof("%d errors", c.Stats.Errors.Load())

	if diskErr != nil {
		return errs.Fatal(diskErr)
	}
	return nil
}

// releaseChunks unmaps every pooled chunk's payload arena.
// Deferred right after the pool is built so it runs on every exit
// path out of Run, including an early return from a later setup step.
func (c *Capture) releaseChunks() {
	for _, ch := range c.chunks {
		if err := ch.Release(); err != nil {
			c.log.WithError(err).Warn("chunk release failed")
		}
	}
}

// networkLoop pops a free chunk, polls completions into it until full
// or stopped, and pushes it to ready. Runs on the calling goroutine.
func (c *Capture) networkLoop() {
	if err := affinity.Pin(c.opts.NetworkCPU); err != nil {
		c.log.WithError(err).Warn("network CPU pinning failed")
	}

	wc := make([]nic.Completion, c.maxRecords)

	for !c.stop.Load() {
		ch, ok := c.free.Pop()
		if !ok {
			break
		}

		expect := c.maxRecords
		for !c.stop.Load() && expect > 0 {
			n, err := c.dev.PollCompletions(wc[:expect])
			if err != nil {
				c.log.WithError(err).Error("completion poll failed")
				c.stop.Store(true)
				break
			}

			for i := 0; i < n; i++ {
				cpl := wc[i]
				if !cpl.Success {
					c.Stats.Errors.Add(1)
					if err := ch.DiscardSlot(cpl.SlotIndex); err != nil {
						c.log.WithError(err).Error("discard slot invariant violated")
						c.stop.Store(true)
					}
					continue
				}

				var completeErr error
				if c.opts.Timestamp {
					now := time.Now()
					completeErr = ch.CompleteWithTimestamp(cpl.SlotIndex, cpl.ByteLen,
						uint32(now.Unix()), uint32(now.Nanosecond()/1000))
				} else {
					completeErr = ch.Complete(cpl.SlotIndex, cpl.ByteLen)
				}
				if completeErr != nil {
					c.log.WithError(completeErr).Error("completion ordering invariant violated")
					c.stop.Store(true)
					continue
				}
				c.Stats.Packets.Add(1)
				c.Stats.Bytes.Add(uint64(cpl.ByteLen))
			}

			expect -= n
		}

		c.ready.Push(ch)
	}

	c.ready.Stop()
}

// diskLoop drains ready chunks, emits their iovecs, and recycles only
// full chunks (re-arming a short chunk would double-post its still-
// outstanding work requests).
func (c *Capture) diskLoop() error {
	if err := affinity.Pin(c.opts.DiskCPU); err != nil {
		c.log.WithError(err).Warn("disk CPU pinning failed")
	}

	if err := c.writer.WriteFileHeader(uint32(c.opts.Snaplen)); err != nil {
		c.stop.Store(true)
		return err
	}

	for {
		ch, ok := c.ready.Pop()
		if !ok {
			c.free.Stop()
			return nil
		}

		if err := c.writer.WriteVec(ch.IOVecs()); err != nil {
			c.stop.Store(true)
			c.free.Stop()
			return err
		}

		if ch.Full() {
			ch.Reset()
			if err := c.dev.PostChunk(ch); err != nil {
				c.stop.Store(true)
				c.free.Stop()
				return errors.Wrap(err, "re-arm recycled chunk")
			}
			c.free.Push(ch)
		}
		// else: this was the final short chunk; do not re-arm it.
	}
}
