package replay

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/frozenpine/mcdump/internal/memalloc"
	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/pcapformat"
	"github.com/frozenpine/mcdump/internal/pcapwriter"
)

func buildFrame(t *testing.T, group net.IP, port uint16, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr(nic.MulticastMAC(group)[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    group,
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize frame: %v", err)
	}
	return buf.Bytes()
}

func TestReadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pcap")

	group := net.IPv4(239, 1, 1, 1).To4()
	frame := buildFrame(t, group, 7148, []byte("hello world"))

	alloc := memalloc.New()
	w, err := pcapwriter.Open(path, alloc, pcapwriter.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFileHeader(9230); err != nil {
		t.Fatal(err)
	}
	hdr := pcapformat.RecordHeader{InclLen: uint32(len(frame)), OrigLen: uint32(len(frame))}.Encode()
	if err := w.WriteVec([][]byte{hdr[:], frame}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].Endpoint.Group.Equal(group) || records[0].Endpoint.Port != 7148 {
		t.Fatalf("endpoint = %s, want %s:7148", records[0].Endpoint, group)
	}

	matched, unmatched := VerifyEndpoints(records, []nic.Endpoint{{Group: group, Port: 7148}})
	if matched != 1 || unmatched != 0 {
		t.Fatalf("matched=%d unmatched=%d, want 1/0", matched, unmatched)
	}

	_, unmatched = VerifyEndpoints(records, []nic.Endpoint{{Group: net.IPv4(239, 1, 1, 2), Port: 7148}})
	if unmatched != 1 {
		t.Fatalf("unmatched=%d, want 1", unmatched)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
