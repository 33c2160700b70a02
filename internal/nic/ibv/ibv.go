//go:build linux && ibverbs

// Package ibv implements nic.Device over real RDMA/verbs raw-packet
// queue pairs: binding a verbs queue pair to a local interface,
// installing L2/L3/L4 classification rules, and polling a completion
// queue.
package ibv

/*
#cgo LDFLAGS: -libverbs -lrdmacm

#include <stdlib.h>
#include <string.h>
#include <arpa/inet.h>
#include <infiniband/verbs.h>
#include <rdma/rdma_cma.h>

// flow_rule is the packed classification rule: one Ethernet spec, one
// IPv4 spec, one UDP spec, each with an all-ones mask, attached to a
// raw-packet QP.
struct flow_rule {
	struct ibv_flow_attr attr;
	struct ibv_flow_spec_eth eth;
	struct ibv_flow_spec_ipv4 ip;
	struct ibv_flow_spec_tcp_udp udp;
} __attribute__((packed));

static inline struct ibv_flow *install_flow(
	struct ibv_qp *qp,
	const uint8_t *dst_mac, const uint8_t *dst_ip, uint16_t dst_port_be,
	uint8_t port_num)
{
	struct flow_rule rule;
	memset(&rule, 0, sizeof(rule));

	rule.attr.type = IBV_FLOW_ATTR_NORMAL;
	rule.attr.priority = 0;
	rule.attr.size = sizeof(rule);
	rule.attr.num_of_specs = 3;
	rule.attr.port = port_num;

	rule.eth.type = IBV_FLOW_SPEC_ETH;
	rule.eth.size = sizeof(rule.eth);
	memcpy(rule.eth.val.dst_mac, dst_mac, 6);
	memset(rule.eth.mask.dst_mac, 0xFF, 6);

	rule.ip.type = IBV_FLOW_SPEC_IPV4;
	rule.ip.size = sizeof(rule.ip);
	memcpy(&rule.ip.val.dst_ip, dst_ip, 4);
	memset(&rule.ip.mask.dst_ip, 0xFF, 4);

	rule.udp.type = IBV_FLOW_SPEC_UDP;
	rule.udp.size = sizeof(rule.udp);
	rule.udp.val.dst_port = dst_port_be;
	rule.udp.mask.dst_port = 0xFFFF;

	return ibv_create_flow(qp, &rule.attr);
}
*/
import "C"

import (
	"net"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/frozenpine/mcdump/internal/nic"
)

// Device is the real verbs-backed NIC context: event channel,
// address-bound connection id, protection domain, completion queue,
// raw-packet queue pair and installed flows.
type Device struct {
	eventChannel *C.struct_rdma_event_channel
	cmID         *C.struct_rdma_cm_id
	pd           *C.struct_ibv_pd
	cq           *C.struct_ibv_cq
	qp           *C.struct_ibv_qp
	portNum      C.uint8_t

	mu            sync.Mutex
	registrations map[uintptr]*C.struct_ibv_mr

	once sync.Once
}

type flowHandle struct {
	flow *C.struct_ibv_flow
}

func (h *flowHandle) Remove() error {
	if h.flow == nil {
		return nil
	}
	if rc := C.ibv_destroy_flow(h.flow); rc != 0 {
		return errors.Errorf("ibv_destroy_flow failed: rc=%d", rc)
	}
	h.flow = nil
	return nil
}

// New creates an unbound Device.
func New() *Device {
	return &Device{registrations: make(map[uintptr]*C.struct_ibv_mr)}
}

// Bind opens an event channel and an address-bound UDP-service
// connection id on ifaceAddr, selecting the physical device and port
// number.
func (d *Device) Bind(ifaceAddr net.IP) error {
	ch := C.rdma_create_event_channel()
	if ch == nil {
		return errors.New("rdma_create_event_channel failed")
	}

	var cmID *C.struct_rdma_cm_id
	if rc := C.rdma_create_id(ch, &cmID, nil, C.RDMA_PS_UDP); rc != 0 {
		C.rdma_destroy_event_channel(ch)
		return errors.New("rdma_create_id failed")
	}

	v4 := ifaceAddr.To4()
	if v4 == nil {
		C.rdma_destroy_id(cmID)
		C.rdma_destroy_event_channel(ch)
		return errors.New("capture interface address must be IPv4")
	}

	var sa C.struct_sockaddr_in
	sa.sin_family = C.AF_INET
	C.memcpy(unsafe.Pointer(&sa.sin_addr), unsafe.Pointer(&v4[0]), 4)

	if rc := C.rdma_bind_addr(cmID, (*C.struct_sockaddr)(unsafe.Pointer(&sa))); rc != 0 {
		C.rdma_destroy_id(cmID)
		C.rdma_destroy_event_channel(ch)
		return errors.New("rdma_bind_addr failed")
	}

	d.eventChannel = ch
	d.cmID = cmID
	d.portNum = cmID.port_num
	return nil
}

// Allocate creates the protection domain, a completion queue sized
// nSlots, and a raw-packet queue pair with max_recv_wr = nSlots,
// max_send_wr = 1.
func (d *Device) Allocate(nSlots int) error {
	pd := C.ibv_alloc_pd(d.cmID.verbs)
	if pd == nil {
		return errors.New("ibv_alloc_pd failed")
	}

	cq := C.ibv_create_cq(d.cmID.verbs, C.int(nSlots), nil, nil, 0)
	if cq == nil {
		C.ibv_dealloc_pd(pd)
		return errors.New("ibv_create_cq failed")
	}

	var attr C.struct_ibv_qp_init_attr
	C.memset(unsafe.Pointer(&attr), 0, C.sizeof_struct_ibv_qp_init_attr)
	attr.send_cq = cq
	attr.recv_cq = cq
	attr.qp_type = C.IBV_QPT_RAW_PACKET
	attr.cap.max_send_wr = 1
	attr.cap.max_recv_wr = C.uint32_t(nSlots)
	attr.cap.max_send_sge = 1
	attr.cap.max_recv_sge = 1

	qp := C.ibv_create_qp(pd, &attr)
	if qp == nil {
		C.ibv_destroy_cq(cq)
		C.ibv_dealloc_pd(pd)
		return errors.New("ibv_create_qp failed")
	}

	var qpAttr C.struct_ibv_qp_attr
	C.memset(unsafe.Pointer(&qpAttr), 0, C.sizeof_struct_ibv_qp_attr)
	qpAttr.qp_state = C.IBV_QPS_INIT
	qpAttr.port_num = d.portNum
	if rc := C.ibv_modify_qp(qp, &qpAttr, C.IBV_QP_STATE|C.IBV_QP_PORT); rc != 0 {
		C.ibv_destroy_qp(qp)
		C.ibv_destroy_cq(cq)
		C.ibv_dealloc_pd(pd)
		return errors.New("ibv_modify_qp(INIT) failed")
	}

	d.pd = pd
	d.cq = cq
	d.qp = qp
	return nil
}

// InstallFlow installs the classification rule for ep: destination MAC
// derived from the multicast group, destination IPv4, destination UDP
// port, each with an all-ones mask.
func (d *Device) InstallFlow(ep nic.Endpoint) (nic.FlowHandle, error) {
	rule := nic.BuildFlowRule(ep)

	portBE := C.htons(C.uint16_t(rule.DstPort))

	flow := C.install_flow(
		d.qp,
		(*C.uint8_t)(unsafe.Pointer(&rule.DstMAC[0])),
		(*C.uint8_t)(unsafe.Pointer(&rule.DstIP[0])),
		portBE,
		d.portNum,
	)
	if flow == nil {
		return nil, errors.Errorf("ibv_create_flow failed for %s", ep)
	}

	return &flowHandle{flow: flow}, nil
}

// TransitionRTR moves the queue pair INIT -> RTR. No SQ transitions
// are required for pure capture.
func (d *Device) TransitionRTR() error {
	var attr C.struct_ibv_qp_attr
	C.memset(unsafe.Pointer(&attr), 0, C.sizeof_struct_ibv_qp_attr)
	attr.qp_state = C.IBV_QPS_RTR

	if rc := C.ibv_modify_qp(d.qp, &attr, C.IBV_QP_STATE); rc != 0 {
		return errors.New("ibv_modify_qp(RTR) failed")
	}
	return nil
}

// registerArena registers ptr/length once per chunk arena and caches
// the resulting memory region so repeated PostChunk calls against the
// same recycled chunk don't re-register; a chunk's arena is allocated
// once and never relocated.
func (d *Device) registerArena(arena []byte) (*C.struct_ibv_mr, error) {
	if len(arena) == 0 {
		return nil, errors.New("empty chunk arena")
	}
	key := uintptr(unsafe.Pointer(&arena[0]))

	d.mu.Lock()
	defer d.mu.Unlock()

	if mr, ok := d.registrations[key]; ok {
		return mr, nil
	}

	mr := C.ibv_reg_mr(d.pd, unsafe.Pointer(&arena[0]), C.size_t(len(arena)), C.IBV_ACCESS_LOCAL_WRITE)
	if mr == nil {
		return nil, errors.New("ibv_reg_mr failed")
	}
	d.registrations[key] = mr
	return mr, nil
}

// arenaOf extracts the full registered arena from a chunk via its
// per-slot buffers: slot 0's buffer starts the arena, and slots are
// laid out contiguously.
func arenaOf(c nic.ChunkPoster) []byte {
	slot0 := c.SlotBuffer(0)
	snaplen := len(slot0)
	full := unsafe.Slice(&slot0[0], snaplen*c.MaxRecords())
	return full
}

// PostChunk posts receive work requests for every slot of c, chained
// as a single batch.
func (d *Device) PostChunk(c nic.ChunkPoster) error {
	n := c.MaxRecords()
	mr, err := d.registerArena(arenaOf(c))
	if err != nil {
		return err
	}

	wrs := make([]C.struct_ibv_recv_wr, n)
	sges := make([]C.struct_ibv_sge, n)

	for i := 0; i < n; i++ {
		buf := c.SlotBuffer(i)
		sges[i] = C.struct_ibv_sge{
			addr:   C.uint64_t(uintptr(unsafe.Pointer(&buf[0]))),
			length: C.uint32_t(len(buf)),
			lkey:   mr.lkey,
		}
		wrs[i].wr_id = C.uint64_t(i)
		wrs[i].num_sge = 1
		wrs[i].sg_list = &sges[i]
		if i+1 < n {
			wrs[i].next = &wrs[i+1]
		}
	}

	var bad *C.struct_ibv_recv_wr
	if rc := C.ibv_post_recv(d.qp, &wrs[0], &bad); rc != 0 {
		return errors.Errorf("ibv_post_recv failed: rc=%d", rc)
	}
	return nil
}

// PollCompletions polls up to len(wc) entries from the completion
// queue.
func (d *Device) PollCompletions(wc []nic.Completion) (int, error) {
	raw := make([]C.struct_ibv_wc, len(wc))
	n := C.ibv_poll_cq(d.cq, C.int(len(wc)), &raw[0])
	if n < 0 {
		return 0, errors.New("ibv_poll_cq failed")
	}

	for i := 0; i < int(n); i++ {
		wc[i] = nic.Completion{
			SlotIndex: int(raw[i].wr_id),
			ByteLen:   uint32(raw[i].byte_len),
			Success:   raw[i].status == C.IBV_WC_SUCCESS,
		}
	}
	return int(n), nil
}

// Close tears down the queue pair, completion queue, memory
// registrations, protection domain, connection id and event channel,
// in that order.
func (d *Device) Close() error {
	d.once.Do(func() {
		if d.qp != nil {
			C.ibv_destroy_qp(d.qp)
		}
		if d.cq != nil {
			C.ibv_destroy_cq(d.cq)
		}
		for _, mr := range d.registrations {
			C.ibv_dereg_mr(mr)
		}
		if d.pd != nil {
			C.ibv_dealloc_pd(d.pd)
		}
		if d.cmID != nil {
			C.rdma_destroy_id(d.cmID)
		}
		if d.eventChannel != nil {
			C.rdma_destroy_event_channel(d.eventChannel)
		}
	})
	return nil
}
