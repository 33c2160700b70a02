package nic

import (
	"net"
	"testing"
)

func TestParseEndpointValid(t *testing.T) {
	ep, err := ParseEndpoint("239.1.1.1:7148")
	if err != nil {
		t.Fatal(err)
	}
	if !ep.Group.Equal(net.IPv4(239, 1, 1, 1)) {
		t.Fatalf("group = %s, want 239.1.1.1", ep.Group)
	}
	if ep.Port != 7148 {
		t.Fatalf("port = %d, want 7148", ep.Port)
	}
}

func TestParseEndpointRejectsNonMulticast(t *testing.T) {
	if _, err := ParseEndpoint("10.0.0.1:7148"); err == nil {
		t.Fatal("expected an error for a non-multicast address")
	}
}

func TestParseEndpointRejectsMalformed(t *testing.T) {
	for _, s := range []string{"not-an-endpoint", "239.1.1.1", "239.1.1.1:not-a-port"} {
		if _, err := ParseEndpoint(s); err == nil {
			t.Fatalf("expected an error for %q", s)
		}
	}
}

func TestMulticastMACDerivation(t *testing.T) {
	mac := MulticastMAC(net.IPv4(239, 1, 1, 1))
	want := MACAddr{0x01, 0x00, 0x5e, 0x01, 0x01, 0x01}
	if mac != want {
		t.Fatalf("mac = %s, want %s", mac, want)
	}
}

func TestMulticastMACMasksHighBit(t *testing.T) {
	// 239.255.1.1 -> low 23 bits drop the top bit of the second octet.
	mac := MulticastMAC(net.IPv4(239, 255, 1, 1))
	want := MACAddr{0x01, 0x00, 0x5e, 0x7f, 0x01, 0x01}
	if mac != want {
		t.Fatalf("mac = %s, want %s", mac, want)
	}
}

func TestBuildFlowRule(t *testing.T) {
	ep := Endpoint{Group: net.IPv4(239, 1, 1, 1), Port: 7148}
	rule := BuildFlowRule(ep)

	if rule.DstMAC != MulticastMAC(ep.Group) {
		t.Fatal("flow rule MAC mismatch")
	}
	if rule.DstIP != [4]byte{239, 1, 1, 1} {
		t.Fatalf("flow rule IP = %v, want 239.1.1.1", rule.DstIP)
	}
	if rule.DstPort != 7148 {
		t.Fatalf("flow rule port = %d, want 7148", rule.DstPort)
	}
}

func TestEndpointString(t *testing.T) {
	ep := Endpoint{Group: net.IPv4(239, 1, 1, 1), Port: 7148}
	if got, want := ep.String(), "239.1.1.1:7148"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
