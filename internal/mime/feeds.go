package mime

import "bytes"

var (
	nsRSS10 = []byte("http://purl.org/rss/1.0/")
	nsRDF   = []byte("http://www.w3.org/1999/02/22-rdf-syntax-ns#")
)

// Feeds detects syndication documents served as text/html. It is a
// landmark scanner, not a parser: it skips processing instructions,
// comments and declarations and looks at the first real tag name.
type Feeds struct{}

func (Feeds) Classify(data []byte) (Type, bool) {
	s := feedScanner{data: data}
	s.consume(bomUTF8)

	for s.skipTo('<') {
		switch {
		case s.consume([]byte("?")):
			if !s.skipPast([]byte("?>")) {
				return Type{}, false
			}
		case s.consume([]byte("!--")):
			if !s.skipPast([]byte("-->")) {
				return Type{}, false
			}
		case s.consume([]byte("!")):
			s.skipTo('>')
		case s.consume([]byte("rss")):
			return RSS, true
		case s.consume([]byte("feed")):
			return Atom, true
		case s.consume([]byte("rdf:RDF")):
			rest := s.data[s.pos:]
			if bytes.Contains(rest, nsRSS10) && bytes.Contains(rest, nsRDF) {
				return RSS, true
			}
			return Type{}, false
		}
	}
	return Type{}, false
}

type feedScanner struct {
	data []byte
	pos  int
}

// consume advances past lit if the input continues with it.
func (s *feedScanner) consume(lit []byte) bool {
	if bytes.HasPrefix(s.data[s.pos:], lit) {
		s.pos += len(lit)
		return true
	}
	return false
}

// skipTo advances past the next occurrence of c.
func (s *feedScanner) skipTo(c byte) bool {
	i := bytes.IndexByte(s.data[s.pos:], c)
	if i < 0 {
		s.pos = len(s.data)
		return false
	}
	s.pos += i + 1
	return true
}

// skipPast advances past the next occurrence of lit.
func (s *feedScanner) skipPast(lit []byte) bool {
	i := bytes.Index(s.data[s.pos:], lit)
	if i < 0 {
		s.pos = len(s.data)
		return false
	}
	s.pos += i + len(lit)
	return true
}
