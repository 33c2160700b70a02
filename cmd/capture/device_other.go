//go:build !linux

package main

import (
	"github.com/pkg/errors"

	"github.com/frozenpine/mcdump/internal/nic"
)

const backendName = "none"

func newDevice() (nic.Device, error) {
	return nil, errors.New("no capture backend available on this platform")
}
