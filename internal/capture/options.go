package capture

import "github.com/frozenpine/mcdump/internal/nic"

// Options configures a Capture run.
type Options struct {
	// Interface is the IPv4 address of the local capture interface.
	Interface string
	// File is the output pcap path (truncated, created 0666).
	File string
	// Endpoints is the set of multicast (group, port) tuples to steer
	// into the capture ring. At least one is required.
	Endpoints []nic.Endpoint
	// Snaplen is the maximum frame bytes captured per packet.
	Snaplen int
	// Buffer is the total memory budget for the chunk pool.
	Buffer int
	// NetworkCPU pins the network goroutine to a CPU core; -1 disables
	// pinning.
	NetworkCPU int
	// DiskCPU pins the disk goroutine to a CPU core; -1 disables
	// pinning.
	DiskCPU int
	// Sync enables the sync_file_range write-back hint after every
	// flush, where available.
	Sync bool
	// Timestamp enables a wall-clock software timestamp (time.Now)
	// stamped at completion time. Off by default: record timestamps are left
	// zeroed, matching a pure software-free-running capture where no
	// clock source is assumed wired to the NIC.
	Timestamp bool
}

// DefaultSnaplen is large enough to capture a full Ethernet frame with
// jumbo-frame headroom.
const DefaultSnaplen = 9230

// DefaultBuffer is the default chunk-pool memory budget.
const DefaultBuffer = 128 * 1024 * 1024
