// Package pcapformat implements the exact on-disk layout of the pcap
// classic (non-ng) file format: the global file header and the
// per-packet record header, both little-endian.
package pcapformat

import "encoding/binary"

const (
	// Magic is the pcap classic little-endian magic number.
	Magic uint32 = 0xA1B23C4D

	versionMajor uint16 = 2
	versionMinor uint16 = 4

	// LinkTypeEthernet is DLT_EN10MB.
	LinkTypeEthernet uint32 = 1

	// FileHeaderSize is the on-disk size of FileHeader.
	FileHeaderSize = 24
	// RecordHeaderSize is the on-disk size of RecordHeader.
	RecordHeaderSize = 16
)

// FileHeader is the pcap global header.
type FileHeader struct {
	Snaplen uint32
}

// Encode writes the file header to a fixed 24-byte buffer.
func (h FileHeader) Encode() [FileHeaderSize]byte {
	var buf [FileHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], versionMajor)
	binary.LittleEndian.PutUint16(buf[6:8], versionMinor)
	// this_zone (int32) and sigfigs are always zero.
	binary.LittleEndian.PutUint32(buf[16:20], h.Snaplen)
	binary.LittleEndian.PutUint32(buf[20:24], LinkTypeEthernet)
	return buf
}

// RecordHeader is the pcap per-packet header. Timestamps are left at
// zero unless software timestamping is enabled by the caller (see
// capture.Options.Timestamp).
type RecordHeader struct {
	TSSec   uint32
	TSUsec  uint32
	InclLen uint32
	OrigLen uint32
}

// Encode writes the record header to a fixed 16-byte buffer.
func (h RecordHeader) Encode() [RecordHeaderSize]byte {
	var buf [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.TSSec)
	binary.LittleEndian.PutUint32(buf[4:8], h.TSUsec)
	binary.LittleEndian.PutUint32(buf[8:12], h.InclLen)
	binary.LittleEndian.PutUint32(buf[12:16], h.OrigLen)
	return buf
}

// Decode parses a record header from a 16-byte buffer, used by tests
// to re-read a produced capture file.
func Decode(buf []byte) RecordHeader {
	return RecordHeader{
		TSSec:   binary.LittleEndian.Uint32(buf[0:4]),
		TSUsec:  binary.LittleEndian.Uint32(buf[4:8]),
		InclLen: binary.LittleEndian.Uint32(buf[8:12]),
		OrigLen: binary.LittleEndian.Uint32(buf[12:16]),
	}
}
