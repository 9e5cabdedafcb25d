// Package http reads and writes HTTP/1.1 messages on a byte stream.
// Requests are encoded and responses parsed incrementally.
// The server side used by tests lives in package wiretest.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http
