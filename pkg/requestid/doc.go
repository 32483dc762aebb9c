// Package requestid tags each HTTP request with a correlation id.
//
// Middleware accepts a client supplied X-Request-ID made of letters, digits,
// dashes and underscores (up to 128 bytes) and otherwise generates a UUIDv7.
// LoggerExtractor plugs the id into the logger's context extractors so
// every record written during the request carries request_id.
package requestid
