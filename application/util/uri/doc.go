// Package uri implements Uniform Resource Identifier (URI) parsing,
// serialization and reference resolution for request targets and redirects.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc3986
//
// - TODO: https://datatracker.ietf.org/doc/html/rfc6874
package uri
