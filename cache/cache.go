// Package cache implements the header-validated, append-only tuning
// cache: a JSON header line followed by newline-delimited JSON records,
// keyed by a canonical pipe-joined parameter string.
package cache

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/value"
)

const (
	Magic   = "kernel_launcher"
	Version = "0.1"
)

// ParamDescriptor records one parameter's name, type, domain, and
// (optional) human-readable description in a cache header.
type ParamDescriptor struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Values      []value.Value `json:"values"`
	Description string        `json:"description,omitempty"`
}

// Header is the cache file's first line: metadata identifying the
// kernel, device, and host this cache was built against.
type Header struct {
	Magic        string            `json:"magic"`
	Version      string            `json:"version"`
	KernelName   string            `json:"kernel_name"`
	KernelSource string            `json:"kernel_source"`
	Device       string            `json:"device"`
	Hostname     string            `json:"hostname"`
	Date         string            `json:"date"`
	CudaDriver   int               `json:"cuda_driver"`
	Parameters   []ParamDescriptor `json:"parameters"`
}

// Record is one append-only body line: a configuration and its
// measured performance (higher is better).
type Record struct {
	Key         string                 `json:"key"`
	Config      map[string]value.Value `json:"config"`
	Date        string                 `json:"date"`
	Performance float64                `json:"performance"`
}

// TuningCache is a header-validated append-only log on disk, keyed by
// canonical configuration string, replayable for the best-known record.
type TuningCache struct {
	mu    sync.Mutex
	file  *os.File
	space *space.ConfigSpace
	order []*param.Parameter // canonical, name-sorted

	best map[string]float64
}

func canonicalOrder(sp *space.ConfigSpace) []*param.Parameter {
	ps := append([]*param.Parameter(nil), sp.Parameters()...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name() < ps[j].Name() })
	return ps
}

// key produces the canonical pipe-joined identity for cfg: each
// parameter's canonical value string, in name order, so the same
// configuration always maps to the same cache key regardless of the
// order its values were set in.
func key(cfg space.Config, order []*param.Parameter) string {
	parts := make([]string, 0, len(order))
	for _, p := range order {
		v, _ := cfg.Get(p)
		parts = append(parts, v.CanonicalString())
	}
	return strings.Join(parts, "|")
}

// Open opens or creates the cache at path. If the file does not exist,
// it is created with a freshly written header and Open returns with no
// prior best configuration. If it exists, its header is validated
// against sp and meta, and the body is replayed to recover the
// best-known configuration, tolerating truncated trailing lines from a
// torn write.
func Open(path string, sp *space.ConfigSpace, meta Header) (*TuningCache, space.Config, bool, error) {
	order := canonicalOrder(sp)

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, space.Config{}, false, errors.Wrap(err, "creating tuning cache")
		}
		header := buildHeader(meta, order)
		enc, err := json.Marshal(header)
		if err != nil {
			f.Close()
			return nil, space.Config{}, false, err
		}
		if _, err := f.Write(append(enc, '\n')); err != nil {
			f.Close()
			return nil, space.Config{}, false, errors.Wrap(err, "writing cache header")
		}
		tc := &TuningCache{file: f, space: sp, order: order, best: make(map[string]float64)}
		return tc, space.Config{}, false, nil
	}
	if err != nil {
		return nil, space.Config{}, false, errors.Wrap(err, "opening tuning cache")
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	if !scanner.Scan() {
		f.Close()
		return nil, space.Config{}, false, &errs.CacheIncompatibleError{Reason: "empty cache file"}
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		f.Close()
		return nil, space.Config{}, false, &errs.CacheIncompatibleError{Reason: "unreadable header: " + err.Error()}
	}
	if err := validateHeader(header, meta, order); err != nil {
		f.Close()
		return nil, space.Config{}, false, err
	}

	tc := &TuningCache{file: f, space: sp, order: order, best: make(map[string]float64)}

	var best Record
	haveBest := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn write: a partially flushed trailing line. Skip it.
			continue
		}
		if prev, ok := tc.best[rec.Key]; !ok || rec.Performance > prev {
			tc.best[rec.Key] = rec.Performance
		}
		if !haveBest || rec.Performance > best.Performance {
			best = rec
			haveBest = true
		}
	}

	if !haveBest {
		return tc, space.Config{}, false, nil
	}

	cfg, err := sp.LoadConfig(mustMarshalConfig(best.Config))
	if err != nil {
		// The best record no longer maps onto this space; treat as if
		// no prior best were found rather than failing the whole open.
		return tc, space.Config{}, false, nil
	}
	return tc, cfg, true, nil
}

func mustMarshalConfig(m map[string]value.Value) []byte {
	b, _ := json.Marshal(m)
	return b
}

func buildHeader(meta Header, order []*param.Parameter) Header {
	h := meta
	h.Magic = Magic
	h.Version = Version
	if h.Date == "" {
		h.Date = time.Now().UTC().Format(time.RFC3339)
	}
	h.Parameters = make([]ParamDescriptor, 0, len(order))
	for _, p := range order {
		h.Parameters = append(h.Parameters, ParamDescriptor{
			Name:        p.Name(),
			Type:        p.Type().String(),
			Values:      p.Domain(),
			Description: p.Description(),
		})
	}
	return h
}

func validateHeader(got, want Header, order []*param.Parameter) error {
	if got.Magic != Magic {
		return &errs.CacheIncompatibleError{Reason: "bad magic: " + got.Magic}
	}
	if got.Version != Version {
		return &errs.CacheIncompatibleError{Reason: "version mismatch: " + got.Version}
	}
	if want.KernelName != "" && got.KernelName != want.KernelName {
		return &errs.CacheIncompatibleError{Reason: "kernel name mismatch"}
	}
	if want.Device != "" && got.Device != want.Device {
		return &errs.CacheIncompatibleError{Reason: "device mismatch"}
	}
	if len(got.Parameters) != len(order) {
		return &errs.CacheIncompatibleError{Reason: "parameter count mismatch"}
	}
	for i, p := range order {
		if got.Parameters[i].Name != p.Name() {
			return &errs.CacheIncompatibleError{Reason: "parameter name mismatch: " + got.Parameters[i].Name}
		}
	}
	return nil
}

// Append records cfg's measured performance.
func (tc *TuningCache) Append(cfg space.Config, performance float64) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	k := key(cfg, tc.order)
	m := make(map[string]value.Value, len(tc.order))
	for _, p := range tc.order {
		m[p.Name()], _ = cfg.Get(p)
	}
	rec := Record{Key: k, Config: m, Date: time.Now().UTC().Format(time.RFC3339), Performance: performance}
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := tc.file.Write(append(enc, '\n')); err != nil {
		return errors.Wrap(err, "appending to tuning cache")
	}
	if prev, ok := tc.best[k]; !ok || performance > prev {
		tc.best[k] = performance
	}
	return nil
}

// Find reports the best previously recorded performance for cfg, if any.
func (tc *TuningCache) Find(cfg space.Config) (float64, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	p, ok := tc.best[key(cfg, tc.order)]
	return p, ok
}

// Close flushes and closes the underlying file.
func (tc *TuningCache) Close() error {
	return tc.file.Close()
}
