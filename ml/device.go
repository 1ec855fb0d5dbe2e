package ml

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

const (
	DeviceAuto        DeviceKind = "auto"
	DeviceCPU         DeviceKind = "cpu"
	DeviceAccelerator DeviceKind = "accelerator"
)

var ErrDeviceUnavailable = errors.New("device unavailable")

type DeviceKind string

// Device is where forward/backward passes run. Workers is the number of
// goroutines that split every batch between them.
type Device struct {
	Kind    DeviceKind
	Workers int
}

// AcceleratorAvailable reports whether an accelerator backend is linked in.
// This build only ships the CPU kernels.
func AcceleratorAvailable() bool { return false }

// SelectDevice resolves a preference. "auto" actually probes for an
// accelerator and reports the CPU fallback; asking for the accelerator
// explicitly when none exists is an error. workers <= 0 means GOMAXPROCS.
func SelectDevice(kind DeviceKind, workers int, logger *logrus.Logger) (Device, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	switch kind {
	case DeviceCPU:
		return Device{Kind: DeviceCPU, Workers: workers}, nil
	case DeviceAccelerator:
		if !AcceleratorAvailable() {
			return Device{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, kind)
		}
		return Device{Kind: DeviceAccelerator, Workers: workers}, nil
	case "", DeviceAuto:
		if AcceleratorAvailable() {
			return Device{Kind: DeviceAccelerator, Workers: workers}, nil
		}
		logger.WithField("workers", workers).Warn("no accelerator found, running on cpu")
		return Device{Kind: DeviceCPU, Workers: workers}, nil
	default:
		return Device{}, fmt.Errorf("unknown device %q", kind)
	}
}

func (d Device) String() string {
	return fmt.Sprintf("%s(%d workers)", d.Kind, d.Workers)
}
