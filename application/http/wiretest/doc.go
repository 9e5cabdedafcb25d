// Package wiretest holds the server side of HTTP/1.1 for tests: a request
// decoder and a response encoder to put behind a loopback listener.
package wiretest
