package uri

import (
	"strings"

	"github.com/pkg/errors"
)

type RefResolver struct {
	base URI
}

func NewRefResolver(baseURI URI) (*RefResolver, error) {
	if baseURI.IsRelativeRef() {
		return nil, errors.New("baseURI cannot be relative ref")
	}

	return &RefResolver{base: baseURI.Clone()}, nil
}

// Resolve transforms ref into its target URI.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.2
func (rr *RefResolver) Resolve(ref URI) (out URI) {
	out = ref.Clone()
	defer func() { out.Path = removeDotSegments(out.Path) }()

	if out.Scheme != "" {
		return out
	}
	out.Scheme = rr.base.Scheme

	if out.Authority != nil {
		return out
	}
	out.Authority = rr.base.Clone().Authority

	if out.Path != "" {
		if !strings.HasPrefix(out.Path, "/") {
			out.Path = mergePath(rr.base, out)
		}
		return out
	}
	out.Path = rr.base.Path

	if out.Query != nil {
		return out
	}
	out.Query = rr.base.Clone().Query

	return out
}

// Resolve parses ref and resolves it against base.
func Resolve(base URI, ref string) (URI, error) {
	rr, err := NewRefResolver(base)
	if err != nil {
		return URI{}, err
	}
	parsed, err := Parse(ref)
	if err != nil {
		return URI{}, errors.Wrapf(err, "parsing reference %q", ref)
	}
	return rr.Resolve(parsed), nil
}

// ResolveBase resolves ref against a base URI whose path always denotes a
// directory, so "http://api/v1" joined with "users" yields "http://api/v1/users".
func ResolveBase(base URI, ref string) (URI, error) {
	dir := base.Clone()
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
	}
	return Resolve(dir, ref)
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.3
func mergePath(base, ref URI) string {
	if base.Authority != nil && base.Path == "" {
		return "/" + ref.Path
	}

	if idx := strings.LastIndexByte(base.Path, '/'); idx >= 0 {
		return base.Path[:idx+1] + ref.Path
	}
	return ref.Path
}
