//go:build linux && ibverbs

package main

import (
	"github.com/frozenpine/mcdump/internal/nic"
	"github.com/frozenpine/mcdump/internal/nic/ibv"
)

const backendName = "ibv"

func newDevice() (nic.Device, error) {
	return ibv.New(), nil
}
