// Package nic defines the device-independent NIC context contract:
// binding to a local interface, installing L2/L3/L4 flow-steering
// rules for a set of multicast endpoints, and polling a completion
// queue that feeds the network goroutine. Two backends implement
// Device: ibv (real RDMA/verbs raw-packet QPs, Linux-only,
// build-tagged) and afring (a portable AF_PACKET software stand-in).
package nic

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Endpoint is a (multicast IPv4, UDP port) tuple, rejected unless the
// address falls in 224.0.0.0/4.
type Endpoint struct {
	Group net.IP
	Port  uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Group, e.Port)
}

// ParseEndpoint parses a "<ipv4-group>:<udp-port>" positional argument.
// It splits on the rightmost colon (net.SplitHostPort's rule, which
// tolerates bracketed IPv6 syntax), but rejects the result unless it
// resolves to an IPv4 multicast address.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid endpoint %q", s)
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, portStr))
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid endpoint %q", s)
	}

	v4 := addr.IP.To4()
	if v4 == nil {
		return Endpoint{}, errors.Errorf("not a multicast address: %s (IPv6 multicast groups are not supported)", s)
	}
	if !addr.IP.IsMulticast() {
		return Endpoint{}, errors.Errorf("not a multicast address: %s", s)
	}

	return Endpoint{Group: v4, Port: uint16(addr.Port)}, nil
}

// MACAddr is a fixed 6-byte ethernet hardware address with a
// colon-separated string form.
type MACAddr [6]byte

func (a MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// MulticastMAC derives the IPv4 multicast MAC address for group:
// 01:00:5e followed by the low-23 bits of the group address.
func MulticastMAC(group net.IP) MACAddr {
	v4 := group.To4()
	return MACAddr{0x01, 0x00, 0x5e, v4[1] & 0x7f, v4[2], v4[3]}
}

// FlowRule is a packed classification rule: match destination MAC,
// destination IPv4, and destination UDP port, each with an all-ones
// mask.
type FlowRule struct {
	DstMAC  MACAddr
	DstIP   [4]byte
	DstPort uint16
}

// BuildFlowRule constructs the flow rule for endpoint ep.
func BuildFlowRule(ep Endpoint) FlowRule {
	rule := FlowRule{DstMAC: MulticastMAC(ep.Group), DstPort: ep.Port}
	copy(rule.DstIP[:], ep.Group.To4())
	return rule
}

// Completion is one NIC receive completion: the slot it was posted
// against, the number of bytes delivered, and whether it succeeded.
type Completion struct {
	SlotIndex int
	ByteLen   uint32
	Success   bool
}

// FlowHandle is an installed flow rule, held until teardown.
type FlowHandle interface {
	Remove() error
}

// ChunkPoster is the subset of *chunk.Chunk the Device needs to post
// receive work requests against a chunk's slots. Defined here (rather
// than importing package chunk) so nic has no dependency on chunk;
// chunk.Chunk satisfies it structurally.
type ChunkPoster interface {
	MaxRecords() int
	SlotBuffer(i int) []byte
}

// Device is the NIC context contract every backend implements.
type Device interface {
	// Bind selects the physical device and port number serving
	// ifaceAddr.
	Bind(ifaceAddr net.IP) error
	// Allocate sizes the completion queue and raw-packet queue pair
	// for nSlots outstanding receives.
	Allocate(nSlots int) error
	// InstallFlow installs a classification rule for ep, returning a
	// handle held until teardown.
	InstallFlow(ep Endpoint) (FlowHandle, error)
	// TransitionRTR moves the queue pair from INIT to RTR. Must be
	// called after every receive work request has been posted and
	// every flow installed.
	TransitionRTR() error
	// PostChunk posts receive work requests for every slot of c,
	// chained as a single batch.
	PostChunk(c ChunkPoster) error
	// PollCompletions polls up to len(wc) completions, returning the
	// number filled. Must not block indefinitely; the network
	// goroutine depends on it returning promptly so it can observe the
	// stop flag.
	PollCompletions(wc []Completion) (int, error)
	// Close tears down the queue pair, completion queue, protection
	// domain, connection id and event channel, in that order.
	Close() error
}
