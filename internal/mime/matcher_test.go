package mime

import (
	"bytes"
	"math/rand"
	"testing"
)

// allByteMatchers returns every signature registered in a classifier group.
func allByteMatchers(t *testing.T) []*ByteMatcher {
	t.Helper()
	var out []*ByteMatcher
	for _, g := range NewClassifier().Groups() {
		for _, c := range g.checkers {
			if m, ok := c.(*ByteMatcher); ok {
				out = append(out, m)
			}
		}
	}
	if len(out) < 40 {
		t.Fatalf("found %d signatures, want at least 40", len(out))
	}
	return out
}

// ByteMatcher

func TestByteMatcher_SelfMatch(t *testing.T) {
	for _, m := range allByteMatchers(t) {
		if !m.Matches(m.Pattern) {
			t.Errorf("%s signature %q does not match its own pattern", m.Type, m.Pattern)
		}
		if got, ok := m.Classify(m.Pattern); !ok || got != m.Type {
			t.Errorf("Classify(%q) = %v, %v; want %v, true", m.Pattern, got, ok, m.Type)
		}
	}
}

func TestByteMatcher_SelfMatchAfterIgnoredBytes(t *testing.T) {
	for _, m := range allByteMatchers(t) {
		if len(m.Ignore) == 0 {
			continue
		}
		var prefix []byte
		for i := 0; i < 3; i++ {
			prefix = append(prefix, m.Ignore...)
		}
		data := append(prefix, m.Pattern...)
		if !m.Matches(data) {
			t.Errorf("%s signature %q does not match after %d ignorable bytes", m.Type, m.Pattern, len(prefix))
		}
	}
}

func TestByteMatcher_ShortBufferNeverMatches(t *testing.T) {
	for _, m := range allByteMatchers(t) {
		for n := 0; n < len(m.Pattern); n++ {
			if m.Matches(m.Pattern[:n]) {
				t.Errorf("%s signature matched a %d-byte prefix of itself", m.Type, n)
			}
		}
	}
}

func TestByteMatcher_TrailingBytesIgnored(t *testing.T) {
	m := sigPNG
	data := append(append([]byte{}, m.Pattern...), []byte("IHDR and the rest")...)
	if !m.Matches(data) {
		t.Fatal("PNG signature should match with trailing data")
	}
}

func TestByteMatcher_IgnoreOnlyInput(t *testing.T) {
	m := markup("<P>", TextHTML)
	if m.Matches([]byte("      ")) {
		t.Fatal("whitespace-only input matched")
	}
	if m.Matches([]byte("   <P")) {
		t.Fatal("truncated tag after whitespace matched")
	}
}

func TestByteMatcher_CaseInsensitiveMask(t *testing.T) {
	m := markup("<HTML>", TextHTML)
	for _, in := range []string{"<html>", "<HTML>", "<HtMl>", "\n\t <html>"} {
		if !m.Matches([]byte(in)) {
			t.Errorf("Matches(%q) = false, want true", in)
		}
	}
	if m.Matches([]byte("<htmx>")) {
		t.Error("Matches(<htmx>) = true, want false")
	}
}

func TestByteMatcher_ZeroMaskIgnoresField(t *testing.T) {
	data := []byte{'R', 'I', 'F', 'F', 0xDE, 0xAD, 0xBE, 0xEF, 'W', 'A', 'V', 'E'}
	if !sigWave.Matches(data) {
		t.Fatal("WAVE signature should ignore the masked size field")
	}
	if sigAVI.Matches(data) {
		t.Fatal("AVI signature matched WAVE data")
	}
}

func TestByteMatcher_NoIgnoreMeansAnchored(t *testing.T) {
	if sigPDF.Matches([]byte(" %PDF-1.7")) {
		t.Fatal("PDF signature has no ignorable bytes and must be anchored at 0")
	}
}

// Mp4Matcher

func mp4Box(size uint32, major string, compat ...string) []byte {
	b := []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size)}
	b = append(b, "ftyp"...)
	b = append(b, major...)
	b = append(b, 0, 0, 2, 0)
	for _, c := range compat {
		b = append(b, c...)
	}
	return b
}

func TestMp4Matcher_MajorBrand(t *testing.T) {
	data := mp4Box(16, "mp42")
	if !(Mp4Matcher{}).Matches(data) {
		t.Fatal("mp42 major brand should match")
	}
	if got, ok := (Mp4Matcher{}).Classify(data); !ok || got != VideoMP4 {
		t.Fatalf("Classify = %v, %v; want video/mp4, true", got, ok)
	}
}

func TestMp4Matcher_CompatibleBrand(t *testing.T) {
	data := mp4Box(24, "isom", "isom", "mp41")
	if !(Mp4Matcher{}).Matches(data) {
		t.Fatal("mp41 compatible brand should match")
	}
}

func TestMp4Matcher_NoMp4Brand(t *testing.T) {
	data := mp4Box(24, "qt  ", "qt  ", "avc1")
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("quicktime box without an mp4 brand matched")
	}
}

func TestMp4Matcher_BoxLargerThanBuffer(t *testing.T) {
	data := mp4Box(256, "isom", "isom", "mp41")
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("box size exceeding the buffer must not match")
	}
}

func TestMp4Matcher_ZeroSizeBox(t *testing.T) {
	data := append([]byte{0, 0, 0, 0}, []byte("ftypisom\x00\x00\x02\x00")...)
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("zero-size box without an mp4 brand matched")
	}
}

func TestMp4Matcher_SizeNotMultipleOfFour(t *testing.T) {
	data := append(mp4Box(18, "mp42"), 0, 0)
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("box size 18 is not a multiple of 4 and must not match")
	}
}

func TestMp4Matcher_BigEndianSize(t *testing.T) {
	// 0x00000100 = 256. A matcher that shifted by bit position would read 4
	// and wrongly accept this 20 byte buffer.
	data := mp4Box(0x100, "isom", "mp41")
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("size must be read as a 32-bit big-endian integer")
	}
}

func TestMp4Matcher_WrongTag(t *testing.T) {
	data := mp4Box(16, "mp42")
	copy(data[4:8], "FTYP")
	if (Mp4Matcher{}).Matches(data) {
		t.Fatal("ftyp tag comparison is case-sensitive")
	}
}

func TestMp4Matcher_ShortInput(t *testing.T) {
	for n := 0; n < 12; n++ {
		if (Mp4Matcher{}).Matches(mp4Box(16, "mp42")[:n]) {
			t.Fatalf("matched %d-byte input", n)
		}
	}
}

// BinaryOrPlaintext

func TestBinaryOrPlaintext_BOMs(t *testing.T) {
	for _, bom := range [][]byte{bomUTF8, bomUTF16BE, bomUTF16LE} {
		data := append(append([]byte{}, bom...), 0x00, 0x01, 0x02)
		if got := (BinaryOrPlaintext{}).Sniff(data); got != TextPlain {
			t.Errorf("Sniff(% x) = %v, want text/plain", data, got)
		}
	}
}

func TestBinaryOrPlaintext_ControlBytes(t *testing.T) {
	for b := 0; b < 0x20; b++ {
		data := []byte{'o', 'k', byte(b)}
		got := (BinaryOrPlaintext{}).Sniff(data)
		want := OctetStream
		switch b {
		case 0x09, 0x0A, 0x0C, 0x0D, 0x1B:
			want = TextPlain
		}
		if got != want {
			t.Errorf("Sniff with byte 0x%02X = %v, want %v", b, got, want)
		}
	}
}

func TestBinaryOrPlaintext_Total(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	inputs := [][]byte{nil, {}, {0xFE}, {0xEF, 0xBB}}
	for i := 0; i < 200; i++ {
		b := make([]byte, r.Intn(64))
		r.Read(b)
		inputs = append(inputs, b)
	}
	for _, in := range inputs {
		got, ok := (BinaryOrPlaintext{}).Classify(in)
		if !ok {
			t.Fatalf("Classify(% x) returned no type", in)
		}
		if got != TextPlain && got != OctetStream {
			t.Fatalf("Classify(% x) = %v, want text/plain or application/octet-stream", in, got)
		}
	}
}

func TestBinaryOrPlaintext_Empty(t *testing.T) {
	if got := (BinaryOrPlaintext{}).Sniff(nil); got != TextPlain {
		t.Fatalf("Sniff(nil) = %v, want text/plain", got)
	}
}

// Group

func TestGroup_FirstMatchWins(t *testing.T) {
	a := exact([]byte("AB"), Type{"x", "first"})
	b := exact([]byte("A"), Type{"x", "second"})
	g := NewGroup("test", a, b)
	if got, _ := g.Classify([]byte("ABC")); got.Subtype != "first" {
		t.Fatalf("Classify = %v, want x/first", got)
	}
	if got, _ := g.Classify([]byte("AC")); got.Subtype != "second" {
		t.Fatalf("Classify = %v, want x/second", got)
	}
	if _, ok := g.Classify([]byte("Z")); ok {
		t.Fatal("Classify matched unrelated input")
	}
}

func TestGroup_Empty(t *testing.T) {
	if _, ok := NewGroup("empty").Classify([]byte("anything")); ok {
		t.Fatal("empty group matched")
	}
}

func TestGroup_ScriptableOrder(t *testing.T) {
	g := scriptableGroup()
	if g.Len() != 2*len(scriptableTags)+2 {
		t.Fatalf("scriptable group has %d members, want %d", g.Len(), 2*len(scriptableTags)+2)
	}
	first := g.checkers[0].(*ByteMatcher)
	if !bytes.Equal(first.Pattern, []byte("<!DOCTYPE HTML ")) {
		t.Fatalf("first scriptable signature = %q, want doctype", first.Pattern)
	}
	second := g.checkers[1].(*ByteMatcher)
	if second.Pattern[len(second.Pattern)-1] != '>' {
		t.Fatalf("second scriptable signature = %q, want '>' terminated doctype", second.Pattern)
	}
	last := g.checkers[g.Len()-1].(*ByteMatcher)
	if last.Type != (Type{"application", "pdf"}) {
		t.Fatalf("last scriptable signature = %v, want application/pdf", last.Type)
	}
}

func TestSignatures_MaskLengths(t *testing.T) {
	for _, m := range allByteMatchers(t) {
		if len(m.Mask) != len(m.Pattern) {
			t.Errorf("%s: mask length %d, pattern length %d", m.Type, len(m.Mask), len(m.Pattern))
		}
	}
}
