// Package seed folds recent VRF outputs into the tournament seed and turns a
// seed into a deterministic stream of integers.
package seed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/arena/internal/domain/types"
	"golang.org/x/crypto/blake2b"
)

// Seed is the auditable tournament seed.
type Seed = types.Digest

// DefaultWindow is the default number of blocks folded into a seed.
const DefaultWindow = 8

const (
	foldDomain  = "arena/seed/v1"
	finalDomain = "arena/seed/final"
)

// GenesisOutput stands in for missing VRF outputs early in the chain.
var GenesisOutput = blake2b.Sum256([]byte("arena/genesis/vrf")) //nolint:gochecknoglobals // protocol constant

// ErrOutOfOrder is returned when a window receives a height it already covers.
var ErrOutOfOrder = errors.New("vrf output out of order")

// Combine folds the most recent k outputs, oldest first. When fewer than k
// are available, GenesisOutput is folded in first.
func Combine(outputs [][]byte, k int) Seed {
	k = max(k, 1)
	if len(outputs) > k {
		outputs = outputs[len(outputs)-k:]
	}
	acc := blake2b.Sum256([]byte(foldDomain))
	n := 0
	if len(outputs) < k {
		acc = fold(acc, n, GenesisOutput[:])
		n++
	}
	for _, out := range outputs {
		acc = fold(acc, n, out)
		n++
	}

	h, _ := blake2b.New256(acc[:])
	_, _ = h.Write([]byte(finalDomain))
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(n)) //nolint:gosec // n <= k+1
	_, _ = h.Write(cnt[:])
	var s Seed
	copy(s[:], h.Sum(nil))
	return s
}

// fold computes H_key=acc(index | len | out).
func fold(acc [32]byte, index int, out []byte) [32]byte {
	h, _ := blake2b.New256(acc[:])
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(index))    //nolint:gosec // bounded by window size
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(out))) //nolint:gosec // vrf outputs are short
	_, _ = h.Write(hdr[:])
	_, _ = h.Write(out)
	var next [32]byte
	copy(next[:], h.Sum(nil))
	return next
}

type entry struct {
	height uint64
	output []byte
}

// Window keeps the VRF outputs of the last k blocks.
type Window struct {
	k int

	mu      sync.RWMutex
	entries []entry
}

// NewWindow creates a window of k blocks.
func NewWindow(k int) *Window {
	if k <= 0 {
		k = DefaultWindow
	}
	return &Window{k: k}
}

// K returns the window length.
func (w *Window) K() int { return w.k }

// Push records the VRF output of a block. Heights must increase.
func (w *Window) Push(height uint64, output []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.entries); n > 0 && height <= w.entries[n-1].height {
		return fmt.Errorf("%w: height %d after %d", ErrOutOfOrder, height, w.entries[n-1].height)
	}
	cp := make([]byte, len(output))
	copy(cp, output)
	w.entries = append(w.entries, entry{height: height, output: cp})
	if len(w.entries) > w.k {
		w.entries = append(w.entries[:0:0], w.entries[len(w.entries)-w.k:]...)
	}
	return nil
}

// Latest returns the most recent height pushed, or false when empty.
func (w *Window) Latest() (uint64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.entries) == 0 {
		return 0, false
	}
	return w.entries[len(w.entries)-1].height, true
}

// Outputs returns the held outputs, oldest first.
func (w *Window) Outputs() [][]byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([][]byte, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.output
	}
	return out
}

// Seed combines the current window.
func (w *Window) Seed() Seed { return Combine(w.Outputs(), w.k) }
