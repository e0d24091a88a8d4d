// Package mime sniffs the content type of a response body.
//
// The classifier follows the MIME Sniffing Standard decision algorithm:
//   - [ByteMatcher]: a masked byte signature with optional leading bytes to skip
//   - [Mp4Matcher]: structural check of an ISO base media ftyp box
//   - [Feeds]: landmark scanner that spots RSS/Atom/RDF served as text/html
//   - [BinaryOrPlaintext]: total text/binary fallback
//   - [Group]: ordered list of checkers, first match wins
//   - [Classifier]: trust/override policy for a declared type
//
// Signature tables are package-level and read-only. A [Classifier] can be
// shared across goroutines.
package mime
