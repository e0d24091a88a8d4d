package mime

import (
	stdmime "mime"
	"strings"
)

// Type is a (type, subtype) pair without parameters. Both halves are
// compared case-sensitively. The zero value means "no declared type".
type Type struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// Common types produced by the classifier.
var (
	TextPlain   = Type{"text", "plain"}
	TextHTML    = Type{"text", "html"}
	TextXML     = Type{"text", "xml"}
	OctetStream = Type{"application", "octet-stream"}
	RSS         = Type{"application", "rss+xml"}
	Atom        = Type{"application", "atom+xml"}
	VideoMP4    = Type{"video", "mp4"}
)

// IsZero reports whether t carries no type at all.
func (t Type) IsZero() bool { return t.Type == "" && t.Subtype == "" }

func (t Type) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Type + "/" + t.Subtype
}

// IsUnknown reports whether t is one of the placeholder forms that servers
// send when they do not know the type.
func (t Type) IsUnknown() bool {
	switch t {
	case Type{"unknown", "unknown"}, Type{"application", "unknown"}, Type{"*", "*"}:
		return true
	}
	return false
}

// IsXML reports whether t must never be re-sniffed.
func (t Type) IsXML() bool {
	return strings.HasSuffix(t.Subtype, "+xml") ||
		t == Type{"application", "xml"} ||
		t == TextXML
}

func (t Type) IsHTML() bool { return t == TextHTML }

// Parse extracts the type pair and charset parameter from a Content-Type
// header value. ok is false when v is empty or malformed.
func Parse(v string) (t Type, charset string, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Type{}, "", false
	}
	mt, params, err := stdmime.ParseMediaType(v)
	if err != nil {
		// ParseMediaType rejects some parameter junk that browsers tolerate,
		// retry with the bare media type
		if i := strings.IndexByte(v, ';'); i >= 0 {
			mt, _, err = stdmime.ParseMediaType(v[:i])
		}
		if err != nil {
			return Type{}, "", false
		}
	}
	typ, sub, found := strings.Cut(mt, "/")
	if !found || typ == "" || sub == "" {
		return Type{}, "", false
	}
	return Type{Type: typ, Subtype: sub}, params["charset"], true
}

// MustParse is Parse for static values; it panics on malformed input.
func MustParse(v string) Type {
	t, _, ok := Parse(v)
	if !ok {
		panic("mime: malformed type " + v)
	}
	return t
}
