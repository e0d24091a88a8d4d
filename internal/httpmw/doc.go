// Package httpmw holds the middleware in front of the fetch api.
//
// httpserver.NewHandler composes it outermost first: security headers,
// recover, request id, client ip, rate limit, tracing, trace headers,
// metrics, request logger, access log, route annotation, max body and
// finally the chi router. Query strings are kept out of logs and spans
// because /v1/fetch carries the target url there.
package httpmw
