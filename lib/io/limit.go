package iolib

import "io"

// LimitReader creates new [LimitedReader]
func LimitReader(r io.Reader, n uint) io.Reader { return &LimitedReader{R: r, N: n} }

// ExactReader is like [LimitReader], but the source ending before n bytes
// is reported as [io.ErrUnexpectedEOF] instead of [io.EOF].
func ExactReader(r io.Reader, n uint) io.Reader { return &LimitedReader{R: r, N: n, Exact: true} }

// LimitedReader is uint port of [io.LimitedReader]
type LimitedReader struct {
	R     io.Reader // underlying reader
	N     uint      // max bytes remaining
	Exact bool      // whether fewer than N bytes is an error
}

func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N == 0 {
		return 0, io.EOF
	}
	if uint(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err = l.R.Read(p)
	l.N -= uint(n)
	if err == io.EOF && l.Exact && l.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return
}

// ProgressReader calls onRead with the running total of bytes read.
type ProgressReader struct {
	r      io.Reader
	total  int64
	onRead func(total int64)
}

func NewProgressReader(r io.Reader, onRead func(total int64)) *ProgressReader {
	return &ProgressReader{r: r, onRead: onRead}
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.total += int64(n)
		pr.onRead(pr.total)
	}
	return n, err
}

func (pr *ProgressReader) Total() int64 { return pr.total }
