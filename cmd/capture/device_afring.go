//go:build linux && !ibverbs

package main

import (
	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/nic/afring"
)

const backendName = "afring"

func newDevice() (nic.Device, error) {
	return afring.New(), nil
}
