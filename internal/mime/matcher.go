package mime

import (
	"bytes"
	"encoding/binary"
)

// Checker is implemented by everything that can classify a byte buffer:
// single signatures, structural matchers, groups and the heuristics.
type Checker interface {
	Classify(data []byte) (Type, bool)
}

// ByteMatcher is a single fixed signature. Pattern and Mask have the same
// length; Ignore lists bytes that may precede the pattern in any number.
type ByteMatcher struct {
	Pattern []byte
	Mask    []byte
	Ignore  []byte
	Type    Type
}

// Matches reports whether data starts with the signature, after skipping
// any leading bytes from Ignore. Short buffers never match.
func (m *ByteMatcher) Matches(data []byte) bool {
	n := len(m.Pattern)
	if len(data) < n {
		return false
	}
	last := len(data) - n
	off := 0
	for bytes.IndexByte(m.Ignore, data[off]) >= 0 {
		off++
		if off > last {
			return false
		}
	}
	for i := 0; i < n; i++ {
		if data[off+i]&m.Mask[i] != m.Pattern[i]&m.Mask[i] {
			return false
		}
	}
	return true
}

func (m *ByteMatcher) Classify(data []byte) (Type, bool) {
	if m.Matches(data) {
		return m.Type, true
	}
	return Type{}, false
}

var (
	ftypTag  = []byte("ftyp")
	mp4Brand = []byte("mp4")
)

// Mp4Matcher recognises an ISO base media file by its leading ftyp box.
type Mp4Matcher struct{}

func (Mp4Matcher) Matches(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	boxSize := binary.BigEndian.Uint32(data[:4])
	if uint64(len(data)) < uint64(boxSize) || boxSize%4 != 0 {
		return false
	}
	if !bytes.Equal(data[4:8], ftypTag) {
		return false
	}
	if bytes.Equal(data[8:11], mp4Brand) {
		return true
	}
	// compatible brands start after major brand + minor version
	for off := 16; off < int(boxSize) && off+len(mp4Brand) <= len(data); off += 4 {
		if bytes.Equal(data[off:off+len(mp4Brand)], mp4Brand) {
			return true
		}
	}
	return false
}

func (m Mp4Matcher) Classify(data []byte) (Type, bool) {
	if m.Matches(data) {
		return VideoMP4, true
	}
	return Type{}, false
}

// BinaryOrPlaintext is the fallback of last resort. It always classifies.
type BinaryOrPlaintext struct{}

func (BinaryOrPlaintext) Sniff(data []byte) Type {
	if bytes.HasPrefix(data, bomUTF16BE) ||
		bytes.HasPrefix(data, bomUTF16LE) ||
		bytes.HasPrefix(data, bomUTF8) {
		return TextPlain
	}
	for _, b := range data {
		if isBinaryByte(b) {
			return OctetStream
		}
	}
	return TextPlain
}

func (c BinaryOrPlaintext) Classify(data []byte) (Type, bool) { return c.Sniff(data), true }

// isBinaryByte reports control bytes that never appear in text: C0 minus
// TAB, LF, FF, CR and ESC.
func isBinaryByte(b byte) bool {
	return b <= 0x08 ||
		b == 0x0B ||
		(b >= 0x0E && b <= 0x1A) ||
		(b >= 0x1C && b <= 0x1F)
}

// Group tries its members in registration order; the first match wins.
type Group struct {
	Name     string
	checkers []Checker
}

func NewGroup(name string, checkers ...Checker) *Group {
	return &Group{Name: name, checkers: checkers}
}

func (g *Group) Classify(data []byte) (Type, bool) {
	for _, c := range g.checkers {
		if t, ok := c.Classify(data); ok {
			return t, true
		}
	}
	return Type{}, false
}

// Len returns the number of members.
func (g *Group) Len() int { return len(g.checkers) }
