// Package affinity pins the calling goroutine's OS thread to a single
// CPU core. It is a thin wrapper around the platform scheduler call,
// treated as an external collaborator the capture core merely invokes.
package affinity

// Pin locks the calling goroutine to its current OS thread and pins
// that thread to cpu. cpu < 0 means "no pinning" and is a no-op.
func Pin(cpu int) error {
	if cpu < 0 {
		return nil
	}
	return pin(cpu)
}
