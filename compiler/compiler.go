// Package compiler defines the NVRTC-like source-to-PTX compiler
// contract the tuner depends on but does not implement: this repo
// specifies the interface and a worker-pool-backed way to turn a
// synchronous Compile call into the asynchronous Future the tuning
// state machine polls, per spec.md's "thread-pool execution of
// asynchronous compilations" collaborator.
package compiler

import (
	"context"

	"github.com/notargets/kerneltune/value"
)

// SourceHandle names a kernel's source: exactly one of Inline or Path
// is populated.
type SourceHandle struct {
	Inline string
	Path   string
}

// DeviceInfo carries the target device's identity, used to derive
// --gpu-architecture=compute_MM and to validate a tuning cache header.
type DeviceInfo struct {
	Name          string
	ComputeMajor  int
	ComputeMinor  int
	DriverVersion int
}

// Request is everything the compiler contract needs to produce a
// module: the fully-mangled entry symbol is constructed by the
// implementation from Entry and TemplateArgs.
type Request struct {
	Source       SourceHandle
	Entry        string
	TemplateArgs []string
	ParamTypes   []value.Type
	Flags        []string
	Device       *DeviceInfo
}

// Module is a compiled GPU binary plus its lowered, launchable symbol.
type Module struct {
	PTX    []byte
	Symbol string
}

// Future is a handle to an eventually-available Module. The tuning
// state machine must never busy-wait on it: it polls Ready
// non-blockingly and falls back to the best-known module, only ever
// calling Wait when there is no fallback.
type Future interface {
	Ready() bool
	Wait(ctx context.Context) (Module, error)
}

// Compiler is the source-to-PTX contract. Implementations must
// construct the fully-mangled symbol of the form
// (void(*)(T1,...,Tn))entry<A1,...,Am>, invoke the underlying toolchain
// with -std=c++11 unless the caller already specified a standard,
// append --gpu-architecture=compute_MM derived from req.Device, and
// surface the compiler's program log via *errs.CompileError on failure.
type Compiler interface {
	Compile(ctx context.Context, req Request) (Future, error)
}
