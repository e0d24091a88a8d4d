package mime

// Signature tables. Everything here is built once at package init and only
// read afterwards, so the matchers are shared by every classification call.

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}

	// whitespace allowed before a markup signature
	wsIgnore = []byte{0x09, 0x0A, 0x0C, 0x0D, 0x20}
)

func exact(pattern []byte, t Type) *ByteMatcher {
	mask := make([]byte, len(pattern))
	for i := range mask {
		mask[i] = 0xFF
	}
	return &ByteMatcher{Pattern: pattern, Mask: mask, Type: t}
}

func masked(pattern, mask []byte, t Type) *ByteMatcher {
	if len(pattern) != len(mask) {
		panic("mime: signature mask length mismatch for " + t.String())
	}
	return &ByteMatcher{Pattern: pattern, Mask: mask, Type: t}
}

// markup builds a case-insensitive signature for an ASCII prefix: letters
// are masked with 0xDF, everything else must match exactly. Leading
// whitespace is skipped.
func markup(prefix string, t Type) *ByteMatcher {
	p := []byte(prefix)
	mask := make([]byte, len(p))
	for i, c := range p {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			mask[i] = 0xDF
			p[i] = c &^ 0x20
		} else {
			mask[i] = 0xFF
		}
	}
	return &ByteMatcher{Pattern: p, Mask: mask, Ignore: wsIgnore, Type: t}
}

// htmlTag returns the space-terminated and '>'-terminated forms of an
// opening tag, in that order.
func htmlTag(open string) []Checker {
	return []Checker{
		markup(open+" ", TextHTML),
		markup(open+">", TextHTML),
	}
}

// Image signatures.
var (
	sigIcon   = exact([]byte{0x00, 0x00, 0x01, 0x00}, Type{"image", "x-icon"})
	sigCursor = exact([]byte{0x00, 0x00, 0x02, 0x00}, Type{"image", "x-icon"})
	sigBMP    = exact([]byte("BM"), Type{"image", "bmp"})
	sigGIF89a = exact([]byte("GIF89a"), Type{"image", "gif"})
	sigGIF87a = exact([]byte("GIF87a"), Type{"image", "gif"})
	sigWebP   = masked(
		[]byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'E', 'B', 'P', 'V', 'P'},
		[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		Type{"image", "webp"})
	sigPNG  = exact([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, Type{"image", "png"})
	sigJPEG = exact([]byte{0xFF, 0xD8, 0xFF}, Type{"image", "jpeg"})
)

// Audio and video signatures.
var (
	sigWebM  = exact([]byte{0x1A, 0x45, 0xDF, 0xA3}, Type{"video", "webm"})
	sigBasic = exact([]byte(".snd"), Type{"audio", "basic"})
	sigAIFF  = masked(
		[]byte{'F', 'O', 'R', 'M', 0, 0, 0, 0, 'A', 'I', 'F', 'F'},
		[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF},
		Type{"audio", "aiff"})
	sigMPEG = exact([]byte("ID3"), Type{"audio", "mpeg"})
	sigOgg  = exact([]byte{'O', 'g', 'g', 'S', 0x00}, Type{"application", "ogg"})
	sigMIDI = exact([]byte{'M', 'T', 'h', 'd', 0, 0, 0, 6}, Type{"audio", "midi"})
	sigAVI  = masked(
		[]byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'A', 'V', 'I', ' '},
		[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF},
		Type{"video", "avi"})
	sigWave = masked(
		[]byte{'R', 'I', 'F', 'F', 0, 0, 0, 0, 'W', 'A', 'V', 'E'},
		[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF},
		Type{"audio", "wave"})
)

// Scriptable signatures other than the HTML tags.
var (
	sigXML = &ByteMatcher{Pattern: []byte("<?xml"), Mask: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, Ignore: wsIgnore, Type: TextXML}
	sigPDF = exact([]byte("%PDF-"), Type{"application", "pdf"})
)

// Plain text and PostScript.
var (
	sigUTF8BOM    = masked([]byte{0xEF, 0xBB, 0xBF, 0x00}, []byte{0xFF, 0xFF, 0xFF, 0x00}, TextPlain)
	sigUTF16LEBOM = masked([]byte{0xFF, 0xFE, 0x00, 0x00}, []byte{0xFF, 0xFF, 0x00, 0x00}, TextPlain)
	sigUTF16BEBOM = masked([]byte{0xFE, 0xFF, 0x00, 0x00}, []byte{0xFF, 0xFF, 0x00, 0x00}, TextPlain)
	sigPostScript = exact([]byte("%!PS-Adobe-"), Type{"application", "postscript"})
)

// Archives.
var (
	sigGzip = exact([]byte{0x1F, 0x8B, 0x08}, Type{"application", "x-gzip"})
	sigZip  = exact([]byte{'P', 'K', 0x03, 0x04}, Type{"application", "zip"})
	sigRar  = exact([]byte{'R', 'a', 'r', ' ', 0x1A, 0x07, 0x00}, Type{"application", "x-rar-compressed"})
)

// Fonts.
var (
	sigWOFF = exact([]byte("wOFF"), Type{"font", "woff"})
	sigTTC  = exact([]byte("ttcf"), Type{"font", "collection"})
	sigOTF  = exact([]byte("OTTO"), Type{"font", "otf"})
	sigTTF  = exact([]byte{0x00, 0x01, 0x00, 0x00}, Type{"font", "ttf"})
	// 34 arbitrary bytes followed by "LP"
	sigEOT = masked(
		append(make([]byte, 34), 'L', 'P'),
		append(make([]byte, 34), 0xFF, 0xFF),
		Type{"application", "vnd.ms-fontobject"})
)

// Group names.
const (
	GroupImage      = "image"
	GroupAudioVideo = "audio-video"
	GroupScriptable = "scriptable"
	GroupPlaintext  = "plaintext"
	GroupArchive    = "archive"
	GroupFont       = "font"
)

func imageGroup() *Group {
	return NewGroup(GroupImage,
		sigIcon, sigCursor, sigBMP, sigGIF89a, sigGIF87a, sigWebP, sigPNG, sigJPEG,
	)
}

func audioVideoGroup() *Group {
	return NewGroup(GroupAudioVideo,
		sigWebM, sigBasic, sigAIFF, sigMPEG, sigOgg, sigMIDI, sigAVI, sigWave, Mp4Matcher{},
	)
}

// scriptableTags is the precedence order of the HTML landmarks.
var scriptableTags = []string{
	"<!DOCTYPE HTML", "<HTML", "<HEAD", "<SCRIPT", "<IFRAME", "<H1", "<DIV",
	"<FONT", "<TABLE", "<A", "<STYLE", "<TITLE", "<B", "<BODY", "<BR", "<P",
	"<!--",
}

func scriptableGroup() *Group {
	cs := make([]Checker, 0, 2*len(scriptableTags)+2)
	for _, tag := range scriptableTags {
		cs = append(cs, htmlTag(tag)...)
	}
	cs = append(cs, sigXML, sigPDF)
	return NewGroup(GroupScriptable, cs...)
}

func plaintextGroup() *Group {
	return NewGroup(GroupPlaintext, sigUTF8BOM, sigUTF16LEBOM, sigUTF16BEBOM, sigPostScript)
}

func archiveGroup() *Group {
	return NewGroup(GroupArchive, sigGzip, sigZip, sigRar)
}

func fontGroup() *Group {
	return NewGroup(GroupFont, sigWOFF, sigTTC, sigOTF, sigTTF, sigEOT)
}
