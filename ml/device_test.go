package ml

import (
	"errors"
	"runtime"
	"testing"
)

func TestSelectDevice(t *testing.T) {
	log := quietLogger()

	dev, err := SelectDevice(DeviceAuto, 0, log)
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if dev.Kind != DeviceCPU || dev.Workers != runtime.GOMAXPROCS(0) {
		t.Fatalf("auto resolved to %s", dev)
	}

	if dev, err := SelectDevice(DeviceCPU, 3, log); err != nil || dev.Workers != 3 {
		t.Fatalf("cpu: %v %v", dev, err)
	}
	if _, err := SelectDevice(DeviceAccelerator, 1, log); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := SelectDevice("tpu", 1, log); err == nil {
		t.Fatal("expected error for unknown device")
	}
}
