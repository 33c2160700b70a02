//go:build linux

package memalloc

import "golang.org/x/sys/unix"

func mapHugeTLBFlag() int {
	return unix.MAP_HUGETLB
}
