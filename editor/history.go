package editor

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// History keeps the source GIF and the encodings made from it, compressed,
// so an export can be undone.
type History struct {
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	limit int

	entries [][]byte // entries[0] is the source
	size    int      // compressed bytes held
}

// NewHistory retains up to limit encodings on top of the source.
func NewHistory(limit int, level zstd.EncoderLevel) (*History, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	return &History{enc: enc, dec: dec, limit: max(1, limit)}, nil
}

// Reset discards every entry and starts over from source.
func (h *History) Reset(source []byte) {
	h.entries = h.entries[:0]
	h.size = 0
	h.push(source)
}

// Push records an encoding, evicting the oldest encoding past the limit.
// The source is never evicted.
func (h *History) Push(encoded []byte) {
	h.push(encoded)
	for len(h.entries)-1 > h.limit {
		h.size -= len(h.entries[1])
		h.entries = append(h.entries[:1], h.entries[2:]...)
	}
}

func (h *History) push(b []byte) {
	c := h.enc.EncodeAll(b, nil)
	h.entries = append(h.entries, c)
	h.size += len(c)
}

// Len returns the number of retained encodings, excluding the source.
func (h *History) Len() int {
	return max(0, len(h.entries)-1)
}

// Size returns the compressed bytes held.
func (h *History) Size() int {
	return h.size
}

// Previous returns the entry below the latest encoding without removing
// anything. source reports whether that entry is the source.
func (h *History) Previous() (b []byte, source bool, err error) {
	if len(h.entries) < 2 {
		return nil, false, fmt.Errorf("history: nothing to undo")
	}
	below := len(h.entries) - 2
	b, err = h.dec.DecodeAll(h.entries[below], nil)
	if err != nil {
		return nil, false, fmt.Errorf("history: %w", err)
	}
	return b, below == 0, nil
}

// Drop removes the latest encoding. The source is never removed.
func (h *History) Drop() {
	if len(h.entries) < 2 {
		return
	}
	last := len(h.entries) - 1
	h.size -= len(h.entries[last])
	h.entries[last] = nil
	h.entries = h.entries[:last]
}

// Pop drops the latest encoding and returns the entry below it, which is the
// source when source is true.
func (h *History) Pop() (b []byte, source bool, err error) {
	if b, source, err = h.Previous(); err != nil {
		return nil, false, err
	}
	h.Drop()
	return b, source, nil
}

// Release frees every entry and the codec state. The History is unusable
// afterwards.
func (h *History) Release() {
	clear(h.entries)
	h.entries = nil
	h.size = 0
	h.enc.Close()
	h.dec.Close()
}
