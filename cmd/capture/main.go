// Command capture is mcdump: it streams raw Ethernet frames destined
// to one or more multicast (group, port) tuples straight from a NIC's
// receive queue into a pcap file, bypassing the kernel's own socket
// receive path wherever a real flow-steering-capable backend is
// available.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/frozenpine/mcdump/internal/capture"
	"github.com/frozenpine/mcdump/internal/errs"
	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/replay"
)

func verifyCapture(log *logrus.Logger, path string, endpoints []nic.Endpoint) {
	records, err := replay.ReadAll(path)
	if err != nil {
		log.WithError(err).Warn("verification read failed")
		return
	}

	matched, unmatched := replay.VerifyEndpoints(records, endpoints)
	log.WithFields(logrus.Fields{
		"records":   len(records),
		"matched":   matched,
		"unmatched": unmatched,
	}).Info("capture file verified")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: capture [options] -i <iface-addr> <file> <group>:<port>...")
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}

	iface := fs.StringP("interface", "i", "", "IPv4 address of the local capture interface (required)")
	snaplen := fs.IntP("snaplen", "s", capture.DefaultSnaplen, "maximum frame bytes captured per packet")
	buffer := fs.Int("buffer", capture.DefaultBuffer, "total memory budget for the chunk pool, in bytes")
	networkCPU := fs.IntP("network-cpu", "N", -1, "pin the network goroutine to this CPU core (-1 = no pin)")
	diskCPU := fs.IntP("disk-cpu", "D", -1, "pin the disk goroutine to this CPU core (-1 = no pin)")
	sync := fs.Bool("sync", false, "issue a sync_file_range write-back hint after every flush, where available")
	timestamp := fs.Bool("timestamp", false, "stamp a software receive timestamp on every record")
	verify := fs.Bool("verify", false, "re-read the capture file after a clean exit and log endpoint match counts")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *iface == "" {
		fmt.Fprintln(os.Stderr, "error: -i/--interface is required")
		fs.Usage()
		return 2
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "error: an output file and at least one <group>:<port> endpoint are required")
		fs.Usage()
		return 2
	}

	outFile := rest[0]
	endpoints := make([]nic.Endpoint, 0, len(rest)-1)
	for _, arg := range rest[1:] {
		ep, err := nic.ParseEndpoint(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return errs.ExitCode(errs.Fatal(err))
		}
		endpoints = append(endpoints, ep)
	}

	dev, err := newDevice()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return errs.ExitCode(errs.Setup(err))
	}
	log.WithField("backend", backendName).Info("selected capture backend")

	opts := capture.Options{
		Interface:  *iface,
		File:       outFile,
		Endpoints:  endpoints,
		Snaplen:    *snaplen,
		Buffer:     *buffer,
		NetworkCPU: *networkCPU,
		DiskCPU:    *diskCPU,
		Sync:       *sync,
		Timestamp:  *timestamp,
	}

	c, err := capture.New(opts, dev, logrus.NewEntry(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return errs.ExitCode(err)
	}

	if err := c.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errors.Cause(err))
		return errs.ExitCode(err)
	}

	if *verify {
		verifyCapture(log, outFile, endpoints)
	}

	return 0
}
