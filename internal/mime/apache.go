package mime

// apacheDefaults are the exact Content-Type values that misconfigured
// servers send for everything.
var apacheDefaults = map[string]bool{
	"text/plain":                     true,
	"text/plain; charset=ISO-8859-1": true,
	"text/plain; charset=iso-8859-1": true,
	"text/plain; charset=UTF-8":      true,
}

// IsApacheDefault reports whether a raw Content-Type header value should
// trigger the check-for-apache-bug flag. The comparison is byte-exact.
func IsApacheDefault(raw string) bool {
	return apacheDefaults[raw]
}
