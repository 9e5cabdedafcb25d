package client

import (
	"bytes"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"asynchttp/application/http/semantic"

	"github.com/benbjohnson/clock"
)

// Formats for [MessageFormatter].
const (
	// FormatCLF is the Apache common log format.
	FormatCLF   = `{hostname} {req_header_User-Agent} - [{date_common_log}] "{method} {target} HTTP/{version}" {code} {res_header_Content-Length}`
	FormatDebug = ">>>>>>>>\n{request}\n<<<<<<<<\n{response}\n--------\n{error}"
	FormatShort = `[{ts}] "{method} {target} HTTP/{version}" {code}`
)

const commonLogDate = "02/Jan/2006:15:04:05 -0700"

var placeholder = regexp.MustCompile(`\{\s*([A-Za-z_\-.0-9]+)\s*\}`)

// MessageFormatter renders a transaction with a template of {placeholders}:
//
//	{request}          full request
//	{response}         full response
//	{ts}               ISO 8601 date in UTC
//	{date_iso_8601}    ISO 8601 date in UTC
//	{date_common_log}  Apache common log date in local time
//	{host}             Host of the request
//	{method}           method of the request
//	{uri}, {url}       URI of the request
//	{version}          protocol version of the request
//	{target}           request target of the request
//	{hostname}         host name of the machine sending the request
//	{code}             status code of the response
//	{phrase}           reason phrase of the response
//	{error}            error message
//	{req_header_*}     request header, e.g. {req_header_Accept}
//	{res_header_*}     response header
//	{req_headers}      request headers
//	{res_headers}      response headers
//	{req_body}         summarized request body
//	{res_body}         summarized response body
//
// Placeholders of a missing response or error render as NULL.
type MessageFormatter struct {
	template   string
	summarizer *BodySummarizer
	clock      clock.Clock
}

// NewMessageFormatter creates a formatter. Empty template uses [FormatCLF],
// and nil summarizer uses [NewBodySummarizer] with its default limit.
func NewMessageFormatter(template string, summarizer *BodySummarizer) *MessageFormatter {
	if template == "" {
		template = FormatCLF
	}
	if summarizer == nil {
		summarizer = NewBodySummarizer(0)
	}
	return &MessageFormatter{template: template, summarizer: summarizer, clock: clock.New()}
}

// WithClock returns a copy of f taking dates from clk.
func (f *MessageFormatter) WithClock(clk clock.Clock) *MessageFormatter {
	c := *f
	c.clock = clk
	return &c
}

func (f *MessageFormatter) Format(req *semantic.Request, res *semantic.Response, err error) string {
	cache := make(map[string]string)
	return placeholder.ReplaceAllStringFunc(f.template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := cache[name]; ok {
			return v
		}
		v := f.value(name, req, res, err)
		cache[name] = v
		return v
	})
}

func (f *MessageFormatter) value(name string, req *semantic.Request, res *semantic.Response, err error) string {
	const null = "NULL"

	switch {
	case strings.HasPrefix(name, "req_header_"):
		return req.Header(strings.TrimPrefix(name, "req_header_"))
	case strings.HasPrefix(name, "res_header_"):
		if res == nil {
			return null
		}
		return res.Header(strings.TrimPrefix(name, "res_header_"))
	}

	switch name {
	case "request":
		return requestText(req)
	case "response":
		if res == nil {
			return null
		}
		return responseText(res)
	case "req_headers":
		return requestLine(req) + "\r\n" + headerText(req.Headers())
	case "res_headers":
		if res == nil {
			return null
		}
		return statusLine(res) + "\r\n" + headerText(res.Headers())
	case "req_body":
		return f.summarizer.Summarize(req.Body())
	case "res_body":
		if res == nil {
			return null
		}
		return f.summarizer.Summarize(res.Body())
	case "ts", "date_iso_8601":
		return f.clock.Now().UTC().Format(time.RFC3339)
	case "date_common_log":
		return f.clock.Now().Format(commonLogDate)
	case "method":
		return string(req.Method())
	case "version":
		return req.Version().Number()
	case "uri", "url":
		return req.URI().String()
	case "target":
		return req.Target()
	case "req_version":
		return req.Version().Number()
	case "res_version":
		if res == nil {
			return null
		}
		return res.Version().Number()
	case "host":
		return req.Header("Host")
	case "hostname":
		host, _ := os.Hostname()
		return host
	case "code":
		if res == nil {
			return null
		}
		return strconv.Itoa(res.StatusCode())
	case "phrase":
		if res == nil {
			return null
		}
		return res.ReasonPhrase()
	case "error":
		if err == nil {
			return null
		}
		return err.Error()
	}
	return ""
}

func requestLine(req *semantic.Request) string {
	return string(req.Method()) + " " + req.Target() + " " + req.Version().String()
}

func statusLine(res *semantic.Response) string {
	return strings.TrimRight(res.Version().String()+" "+strconv.Itoa(res.StatusCode())+" "+res.ReasonPhrase(), " ")
}

func headerText(h semantic.Headers) string {
	b := new(strings.Builder)
	for _, field := range h.Fields() {
		b.Write(field.Text())
		b.WriteString("\r\n")
	}
	return b.String()
}

// requestText renders req as sent on the wire.
// Bodies that can't be read twice are left out.
func requestText(req *semantic.Request) string {
	return requestLine(req) + "\r\n" + headerText(req.Headers()) + "\r\n" + string(bodyBytes(req.Body()))
}

func responseText(res *semantic.Response) string {
	return statusLine(res) + "\r\n" + headerText(res.Headers()) + "\r\n" + string(bodyBytes(res.Body()))
}

func bodyBytes(body semantic.Body) []byte {
	if b, ok := body.(*semantic.BytesBody); ok {
		return b.Bytes()
	}
	return nil
}

const DefaultSummaryLimit = 120

// BodySummarizer shortens bodies for logs.
type BodySummarizer struct {
	limit int
}

// NewBodySummarizer creates a summarizer keeping limit bytes.
// Zero limit uses [DefaultSummaryLimit].
func NewBodySummarizer(limit int) *BodySummarizer {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	return &BodySummarizer{limit: limit}
}

// Summarize returns the start of body, or a note for binary content.
// Bodies that can't be read twice summarize to an empty string.
func (s *BodySummarizer) Summarize(body semantic.Body) string {
	data := bodyBytes(body)
	if len(data) == 0 {
		return ""
	}

	if isBinary(data) {
		return "(binary " + strconv.Itoa(len(data)) + " bytes)"
	}
	if len(data) <= s.limit {
		return string(data)
	}

	cut := s.limit
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + " (truncated...)"
}

// isBinary reports whether data has a NUL byte or mostly unprintable characters.
func isBinary(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if !utf8.Valid(data) {
		return true
	}

	total, printable := 0, 0
	for _, r := range string(data) {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return printable*4 < total*3
}
