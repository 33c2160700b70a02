//go:build !linux

package memalloc

func mapHugeTLBFlag() int {
	return 0
}
