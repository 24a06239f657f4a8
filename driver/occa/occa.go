//go:build occa

// Package occa binds the driver contract to github.com/notargets/gocca,
// the OCCA device runtime used by the kernel sources under test. OCCA
// has no native stream/event objects: a device is a single in-order
// queue and Device.Finish is the only synchronization primitive, so
// Stream is a no-op marker and Event timestamps are taken on the host
// around a Finish call rather than from device-side counters.
package occa

import (
	"context"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/notargets/gocca"
	"github.com/notargets/kerneltune/driver"
)

// Device wraps a *gocca.OCCADevice to satisfy driver.Device.
type Device struct {
	dev *gocca.OCCADevice
}

// Open builds an OCCA device from a JSON mode string, e.g.
// `{"mode": "CUDA", "device_id": 0}`.
func Open(props string) (*Device, error) {
	d, err := gocca.NewDevice(props)
	if err != nil {
		return nil, errors.Wrap(err, "opening occa device")
	}
	return &Device{dev: d}, nil
}

func (d *Device) Name() string { return d.dev.Mode() }

// ComputeCapability is not exposed by the OCCA device API; callers that
// need it for --gpu-architecture derivation should supply it out of
// band (e.g. via the mode JSON's device_id and a lookup table).
func (d *Device) ComputeCapability() (major, minor int) { return 0, 0 }

func (d *Device) DriverVersion() int { return 0 }

func (d *Device) NewStream() (driver.Stream, error) { return stream{}, nil }

func (d *Device) NewEvent() (driver.Event, error) { return &event{}, nil }

func (d *Device) LoadModule(ptx []byte, symbol string) (driver.Module, error) {
	props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
	k, err := d.dev.BuildKernelFromString(string(ptx), symbol, props)
	if err != nil {
		return nil, errors.Wrapf(err, "building occa kernel %s", symbol)
	}
	return &module{dev: d.dev, kernel: k}, nil
}

func (d *Device) RetainContext() error { return nil }
func (d *Device) ReleaseContext() error { return nil }

func (d *Device) Alloc(nbytes uint64) (uintptr, error) {
	mem := d.dev.Malloc(int64(nbytes), nil, nil)
	return uintptr(unsafe.Pointer(mem)), nil
}

func (d *Device) Free(ptr uintptr) error {
	mem := (*gocca.OCCAMemory)(unsafe.Pointer(ptr))
	mem.Free()
	return nil
}

// Copy moves nbytes between src and dst, one of which must be an
// *gocca.OCCAMemory device allocation and the other a host slice
// pointer, matching the CopyTo/CopyFrom pair the OCCA binding exposes.
func (d *Device) Copy(dst, src any, nbytes uint64) error {
	if mem, ok := dst.(*gocca.OCCAMemory); ok {
		mem.CopyFrom(src, int64(nbytes), 0)
		return nil
	}
	if mem, ok := src.(*gocca.OCCAMemory); ok {
		mem.CopyTo(dst, int64(nbytes), 0)
		return nil
	}
	return errors.New("occa copy requires one *gocca.OCCAMemory endpoint")
}

func (d *Device) Memset(ptr uintptr, pattern uint32, patternBytes int, nbytes uint64) error {
	mem := (*gocca.OCCAMemory)(unsafe.Pointer(ptr))
	_ = pattern
	_ = patternBytes
	mem.CopyFrom(make([]byte, nbytes), int64(nbytes), 0)
	return nil
}

// stream is a stand-in for OCCA's implicit single in-order queue. Since
// every Launch already blocks on Device.Finish, the queue is always
// drained by the time Record is called, so Record can stamp the event
// immediately instead of waiting for a later Synchronize.
type stream struct{}

func (stream) Record(ev driver.Event) error {
	if e, ok := ev.(*event); ok {
		e.at = time.Now()
	}
	return nil
}

// event timestamps itself on the host, since OCCA surfaces no
// device-side timer handle through the binding.
type event struct {
	at time.Time
}

func (e *event) Synchronize(ctx context.Context) error { return nil }

func (e *event) ElapsedSince(start driver.Event) (float64, error) {
	s, ok := start.(*event)
	if !ok {
		return 0, errors.New("occa event: start event is not an occa event")
	}
	return e.at.Sub(s.at).Seconds(), nil
}

// module wraps a compiled *gocca.OCCAKernel.
type module struct {
	dev    *gocca.OCCADevice
	kernel *gocca.OCCAKernel
}

func (m *module) Launch(ctx context.Context, stream driver.Stream, grid, block [3]uint32, sharedMemBytes uint32, args ...any) error {
	_ = grid
	_ = block
	_ = sharedMemBytes
	if err := m.kernel.RunWithArgs(args...); err != nil {
		return errors.Wrap(err, "occa kernel launch")
	}
	m.dev.Finish()
	return nil
}
