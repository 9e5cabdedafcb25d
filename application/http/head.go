package http

import (
	"bytes"
	"strconv"

	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

var (
	ErrMalformedFieldLine   = errors.New("field line is malformed")
	ErrMalformedStatusLine  = errors.New("status line is malformed")
	ErrInvalidContentLength = errors.New("invalid Content-Length")
)

func parseStatusLine(line []byte) (StatusLine, error) {
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line is malformed")
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	statusCodeStr := string(parts[1])
	statusCode, err := strconv.ParseUint(statusCodeStr, 10, 64)
	if err != nil || len(statusCodeStr) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
	}

	// reason-phrase is optional, and so is the SP before it on lenient servers.
	reasonPhrase := ""
	if len(parts) == 3 {
		reasonPhrase = string(parts[2])
	}

	return StatusLine{Version: ver, StatusCode: int(statusCode), ReasonPhrase: reasonPhrase}, nil
}

// ParseContentLength accepts a list of identical values, as a recipient may.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.5
func ParseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, part := range bytes.Split([]byte(v), []byte{','}) {
			part = bytes.TrimFunc(part, rule.IsOWS)
			if len(part) == 0 {
				return 0, ErrInvalidContentLength
			}
			for _, c := range part {
				if !rule.IsDigit(rune(c)) {
					return 0, errors.Wrapf(ErrInvalidContentLength, "%q", v)
				}
			}

			parsed, err := strconv.ParseInt(string(part), 10, 64)
			if err != nil {
				return 0, errors.Wrapf(ErrInvalidContentLength, "%q", v)
			}
			if n >= 0 && parsed != n {
				return 0, errors.Wrap(ErrInvalidContentLength, "conflicting values")
			}
			n = parsed
		}
	}
	return n, nil
}
