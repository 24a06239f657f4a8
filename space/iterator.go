package space

import (
	"math/rand"
)

// ConfigIterator yields every valid configuration of a ConfigSpace
// exactly once, in a pseudo-random order, without ever materializing
// the full Cartesian product. It uses Feistel-network index encryption:
// counting integers 0,1,2,... are put through four Feistel rounds over
// a domain sized to the next power of four at or above the space size,
// and any decrypted output landing outside [0, size) is skipped.
type ConfigIterator struct {
	space   *ConfigSpace
	size    uint64
	bits    int // total bits of the Feistel domain (even, half per side)
	half    int
	mask    uint64
	keys    [4]uint32
	counter uint64
	domain  uint64 // 2^bits
}

// Iterate returns a fresh iterator over s's valid configurations.
func (s *ConfigSpace) Iterate() (*ConfigIterator, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	log4 := 0
	for (uint64(1) << uint(2*log4)) < size {
		log4++
	}
	if log4 == 0 {
		log4 = 1
	}
	bits := 2 * log4
	half := log4
	it := &ConfigIterator{
		space:  s,
		size:   size,
		bits:   bits,
		half:   half,
		mask:   (uint64(1) << uint(half)) - 1,
		domain: uint64(1) << uint(bits),
	}
	for i := range it.keys {
		it.keys[i] = rand.Uint32()
	}
	return it, nil
}

// Next produces the next valid configuration, or false once every valid
// configuration in the space has been yielded exactly once.
func (it *ConfigIterator) Next() (Config, bool, error) {
	if it.size == 0 {
		return Config{}, false, nil
	}
	for it.counter < it.domain {
		idx := it.counter
		it.counter++
		permuted := it.feistel(idx)
		if permuted >= it.size {
			continue
		}
		cfg, valid, err := it.space.Get(permuted)
		if err != nil {
			return Config{}, false, err
		}
		if valid {
			return cfg, true, nil
		}
	}
	return Config{}, false, nil
}

// feistel runs v (a bits-wide integer) through four Feistel rounds,
// producing a bijection over [0, 2^bits).
func (it *ConfigIterator) feistel(v uint64) uint64 {
	l := (v >> uint(it.half)) & it.mask
	r := v & it.mask
	for i := 0; i < 4; i++ {
		f := uint64(murmurMix(uint32(r)^it.keys[i])) & it.mask
		l, r = r, (l^f)&it.mask
	}
	return (l << uint(it.half)) | r
}

// murmurMix is MurmurHash3's 32-bit finalizer, used as the Feistel
// round function.
func murmurMix(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
