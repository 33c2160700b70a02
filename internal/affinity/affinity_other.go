//go:build !linux

package affinity

import "errors"

func pin(cpu int) error {
	return errors.New("CPU affinity pinning is not supported on this platform")
}
