package domain

import (
	"context"
	"maps"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

var ErrDomainNotFound = errors.New("domain not found")

type Lookuper interface {
	LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error)
}

type mapLookuper struct {
	set map[string][]netip.Addr
	mu  sync.RWMutex
}

var _ Lookuper = (*mapLookuper)(nil)

// NewMapLookuper creates a static lookuper. Domains are matched case-insensitively.
func NewMapLookuper(set map[string][]netip.Addr) *mapLookuper {
	m := &mapLookuper{set: make(map[string][]netip.Addr, len(set))}
	for domain, addrs := range set {
		m.Set(domain, addrs)
	}
	return m
}

func (m *mapLookuper) LookupIP(ctx context.Context, domain string) (addrs []netip.Addr, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs, ok := m.set[strings.ToLower(domain)]
	if !ok {
		return nil, errors.Wrap(ErrDomainNotFound, domain)
	}
	return addrs, nil
}

func (m *mapLookuper) Set(domain string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set[strings.ToLower(domain)] = append([]netip.Addr(nil), addrs...)
}

func (m *mapLookuper) Del(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, strings.ToLower(domain))
}

func (m *mapLookuper) Domains() map[string][]netip.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.set)
}

// NetLookuper resolves with a [net.Resolver]. A nil resolver uses [net.DefaultResolver].
type NetLookuper struct {
	Resolver *net.Resolver
}

var _ Lookuper = NetLookuper{}

func (l NetLookuper) LookupIP(ctx context.Context, domain string) ([]netip.Addr, error) {
	r := l.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupNetIP(ctx, "ip", domain)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", domain)
	}
	if len(addrs) == 0 {
		return nil, errors.Wrap(ErrDomainNotFound, domain)
	}
	for i, a := range addrs {
		addrs[i] = a.Unmap()
	}
	return addrs, nil
}

// Resolve returns the addresses of host. IP literals are returned as is,
// and internationalized names are converted to their ASCII form first.
func Resolve(ctx context.Context, l Lookuper, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []netip.Addr{addr}, nil
	}

	ascii, err := ToASCII(host)
	if err != nil {
		return nil, err
	}
	return l.LookupIP(ctx, ascii)
}

// ToASCII converts an internationalized domain name to its ASCII (punycode) form.
// Reference: https://datatracker.ietf.org/doc/html/rfc5891
func ToASCII(host string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", errors.Wrapf(err, "converting %q to ASCII", host)
	}
	return strings.ToLower(ascii), nil
}
