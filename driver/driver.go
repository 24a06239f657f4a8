// Package driver defines the GPU driver contract the tuner depends on
// but does not implement: stream and event management, module loading,
// kernel launch, device queries, and device memory. See driver/occa for
// a reference binding.
package driver

import "context"

// Stream is an ordered GPU command queue. All launches for a given
// tuning.Session are enqueued on the caller's stream in program order.
type Stream interface {
	// Record enqueues ev to be signaled once every command submitted to
	// the stream before this call has completed.
	Record(ev Event) error
}

// Event marks a point in a stream's execution.
type Event interface {
	// Synchronize blocks the calling goroutine until the event fires.
	Synchronize(ctx context.Context) error
	// ElapsedSince returns the time in seconds between start and this
	// event, both already recorded and synchronized.
	ElapsedSince(start Event) (float64, error)
}

// Module is a loaded compiled binary with a resolved, launchable symbol.
type Module interface {
	// Launch enqueues the kernel on stream with the given grid/block
	// dimensions, shared-memory byte count, and argument pointers.
	Launch(ctx context.Context, stream Stream, grid, block [3]uint32, sharedMemBytes uint32, args ...any) error
}

// Device is the GPU driver's device-level contract: context management,
// module loading, identification, and memory.
type Device interface {
	// Name, ComputeCapability, and DriverVersion identify the device for
	// cache-header validation and --gpu-architecture derivation.
	Name() string
	ComputeCapability() (major, minor int)
	DriverVersion() int

	// NewStream and NewEvent create stream/event objects bound to this
	// device.
	NewStream() (Stream, error)
	NewEvent() (Event, error)

	// LoadModule loads a compiled PTX blob and resolves symbol into a
	// launchable Module.
	LoadModule(ptx []byte, symbol string) (Module, error)

	// RetainContext/ReleaseContext manage the device's primary context,
	// as CUDA-style driver APIs require around kernel launches.
	RetainContext() error
	ReleaseContext() error

	// Alloc/Free/Copy/Memset manage device memory. Copy moves nbytes
	// from src to dst; either may be a device pointer or a host slice.
	Alloc(nbytes uint64) (uintptr, error)
	Free(ptr uintptr) error
	Copy(dst, src any, nbytes uint64) error
	Memset(ptr uintptr, pattern uint32, patternBytes int, nbytes uint64) error
}
