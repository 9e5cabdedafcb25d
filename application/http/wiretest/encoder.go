package wiretest

import (
	"bytes"
	"io"
	"strconv"

	"asynchttp/application/http"
	"asynchttp/application/util/rule"

	"github.com/pkg/errors"
)

type ResponseEncoder struct{ me *http.MessageEncoder }

func NewResponseEncoder(w io.Writer, opts http.EncodeOptions) *ResponseEncoder {
	return &ResponseEncoder{me: http.NewMessageEncoder(w, opts)}
}

func (re *ResponseEncoder) Encode(response http.Response) error {
	if err := re.me.EncodeMessage(StatusLineText(response.StatusLine), response.Headers, response.Body); err != nil {
		return errors.Wrap(err, "encoding response")
	}
	return nil
}

// StatusLineText returns the status line without its terminator.
func StatusLineText(sl http.StatusLine) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(sl.Version.Text())
	buf.WriteByte(rule.SP)
	buf.WriteString(strconv.Itoa(sl.StatusCode))
	buf.WriteByte(rule.SP)
	buf.WriteString(sl.ReasonPhrase)
	return buf.Bytes()
}
