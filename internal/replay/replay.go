// Package replay reads back a pcap file produced by pcapwriter and
// decodes it with gopacket, verifying the round trip: every record's
// raw bytes parse as a valid Ethernet/IPv4/UDP frame destined to a
// multicast group and port that was actually being captured.
package replay

import (
	"net"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/frozenpine/mcdump/internal/nic"
)

// Record is one decoded packet read back from a capture file.
type Record struct {
	Endpoint nic.Endpoint
	Length   int
}

// ReadAll opens path with libpcap and decodes every packet, returning
// one Record per frame that carries a UDP payload. Frames that fail to
// parse as Ethernet/IPv4/UDP are skipped rather than treated as a
// fatal error, since a capture file may legitimately contain frames
// the flow steering rules let through only approximately (e.g. an
// AF_PACKET fallback backend without a hardware filter).
func ReadAll(path string) ([]Record, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrap(err, "open capture file")
	}
	defer handle.Close()

	var eth layers.Ethernet
	var ip4 layers.IPv4
	var udp layers.UDP
	var payload gopacket.Payload
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &udp, &payload)
	decoded := make([]gopacket.LayerType, 0, 3)

	source := gopacket.NewPacketSource(handle, handle.LinkType())

	var records []Record
	for packet := range source.Packets() {
		if err := parser.DecodeLayers(packet.Data(), &decoded); err != nil {
			continue
		}

		var isUDP bool
		for _, lt := range decoded {
			if lt == layers.LayerTypeUDP {
				isUDP = true
			}
		}
		if !isUDP {
			continue
		}

		records = append(records, Record{
			Endpoint: nic.Endpoint{Group: ip4.DstIP, Port: uint16(udp.DstPort)},
			Length:   len(packet.Data()),
		})
	}

	return records, nil
}

// VerifyEndpoints checks that every record in records was addressed to
// one of the endpoints the capture was configured for, returning the
// count of records that matched and the count that didn't.
func VerifyEndpoints(records []Record, endpoints []nic.Endpoint) (matched, unmatched int) {
	set := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		set[key(ep)] = struct{}{}
	}

	for _, r := range records {
		if _, ok := set[key(r.Endpoint)]; ok {
			matched++
		} else {
			unmatched++
		}
	}
	return matched, unmatched
}

func key(ep nic.Endpoint) string {
	return net.JoinHostPort(ep.Group.String(), strconv.Itoa(int(ep.Port)))
}
