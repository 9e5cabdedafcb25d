package domain

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LookuperTestSuite struct {
	suite.Suite

	initial  map[string][]netip.Addr
	lookuper Lookuper
}

func (s *LookuperTestSuite) SetupTest() {
	s.initial = map[string][]netip.Addr{
		"localhost":   {netip.MustParseAddr("127.0.0.1")},
		"example.com": {netip.MustParseAddr("1.1.1.1")}, // It's actually cloudflare. But who cares?
	}
}

func (s *LookuperTestSuite) TestLookup() {
	ctx := context.Background()

	addrs, err := s.lookuper.LookupIP(ctx, "localhost")
	s.NoError(err)
	s.Equal([]netip.Addr{netip.MustParseAddr("127.0.0.1")}, addrs)

	addrs, err = s.lookuper.LookupIP(ctx, "Example.COM")
	s.NoError(err)
	s.Equal([]netip.Addr{netip.MustParseAddr("1.1.1.1")}, addrs)

	// Non-existent.
	addrs, err = s.lookuper.LookupIP(ctx, "non-existent.com")
	s.ErrorIs(err, ErrDomainNotFound)
	s.Empty(addrs)
}

func (s *LookuperTestSuite) TestLookupInitCopied() {
	s.initial["localhost"][0] = netip.MustParseAddr("10.0.0.1")
	s.initial["new.example"] = []netip.Addr{netip.MustParseAddr("10.0.0.2")}

	addrs, err := s.lookuper.LookupIP(context.Background(), "localhost")
	s.NoError(err)
	s.Equal("127.0.0.1", addrs[0].String())

	_, err = s.lookuper.LookupIP(context.Background(), "new.example")
	s.ErrorIs(err, ErrDomainNotFound)
}

type mapLookuperTestSuite struct{ LookuperTestSuite }

func TestMapLookuperTestSuite(t *testing.T) {
	suite.Run(t, new(mapLookuperTestSuite))
}

func (s *mapLookuperTestSuite) SetupTest() {
	s.LookuperTestSuite.SetupTest()
	s.lookuper = NewMapLookuper(s.initial)
}

func (s *mapLookuperTestSuite) TestSetDel() {
	m := s.lookuper.(*mapLookuper)

	m.Set("added.example", []netip.Addr{netip.MustParseAddr("::1")})
	m.Set("ignored.example", nil)
	s.Contains(m.Domains(), "added.example")
	s.NotContains(m.Domains(), "ignored.example")

	m.Del("ADDED.example")
	s.NotContains(m.Domains(), "added.example")
}

func TestResolve(t *testing.T) {
	l := NewMapLookuper(map[string][]netip.Addr{
		"xn--bcher-kva.example": {netip.MustParseAddr("192.0.2.1")},
	})

	testcases := []struct {
		desc     string
		host     string
		expected string
		wantErr  bool
	}{
		{desc: "ipv4 literal", host: "127.0.0.1", expected: "127.0.0.1"},
		{desc: "ipv6 literal with brackets", host: "[::1]", expected: "::1"},
		{desc: "idn", host: "bücher.example", expected: "192.0.2.1"},
		{desc: "unknown", host: "unknown.example", wantErr: true},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			addrs, err := Resolve(context.Background(), l, tc.host)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, addrs[0].String())
		})
	}
}

func TestToASCII(t *testing.T) {
	ascii, err := ToASCII("Bücher.Example")
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", ascii)

	ascii, err = ToASCII("plain.example")
	require.NoError(t, err)
	assert.Equal(t, "plain.example", ascii)
}
