package cookie

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// record is the persisted form of a cookie.
// Expires is in Unix seconds.
type record struct {
	Name     string  `json:"Name"`
	Value    string  `json:"Value"`
	Domain   string  `json:"Domain"`
	Path     string  `json:"Path"`
	Expires  *int64  `json:"Expires"`
	MaxAge   *int    `json:"Max-Age"`
	Secure   bool    `json:"Secure"`
	HTTPOnly bool    `json:"HttpOnly"`
	SameSite *string `json:"SameSite"`
}

func toRecord(c Cookie) record {
	r := record{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		sec := c.Expires.Unix()
		r.Expires = &sec
	}
	if c.SameSite != "" {
		r.SameSite = &c.SameSite
	}
	return r
}

func (r record) cookie() Cookie {
	c := Cookie{
		Name:     r.Name,
		Value:    r.Value,
		Domain:   r.Domain,
		Path:     r.Path,
		MaxAge:   r.MaxAge,
		Secure:   r.Secure,
		HTTPOnly: r.HTTPOnly,
	}
	if r.Expires != nil {
		t := time.Unix(*r.Expires, 0).UTC()
		c.Expires = &t
	}
	if r.SameSite != nil {
		c.SameSite = *r.SameSite
	}
	return c
}

// marshal encodes the unexpired cookies of j, and its session cookies when withSession is set.
func (j *Jar) marshal(withSession bool) ([]byte, error) {
	now := j.clock.Now()

	records := []record{}
	for _, c := range j.Cookies() {
		if c.Expired(now) || (!withSession && c.IsSession()) {
			continue
		}
		records = append(records, toRecord(c))
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding cookies")
	}
	return data, nil
}

// unmarshal adds the unexpired cookies of data to j.
func (j *Jar) unmarshal(data []byte) error {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.Wrap(err, "decoding cookies")
	}

	now := j.clock.Now()
	for _, r := range records {
		c := r.cookie()
		if c.Expired(now) {
			continue
		}
		if _, err := j.SetCookie(c); err != nil {
			return err
		}
	}
	return nil
}

type FileOptions struct {
	Options

	// StoreSessionCookies also persists cookies having neither Expires nor Max-Age.
	StoreSessionCookies bool
}

// FileJar is a [Jar] persisted as a JSON file.
// Changes reach the file on [FileJar.Flush] or [FileJar.Close].
type FileJar struct {
	*Jar

	filename     string
	storeSession bool

	fileMu sync.Mutex
}

// OpenFileJar creates a jar loaded from filename. A missing file yields an empty jar.
func OpenFileJar(filename string, opts FileOptions) (*FileJar, error) {
	f := &FileJar{
		Jar:          NewJar(opts.Options),
		filename:     filename,
		storeSession: opts.StoreSessionCookies,
	}

	if err := f.Load(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return f, nil
}

// Load adds the cookies stored in filename. Expired records are skipped.
func (f *FileJar) Load(filename string) error {
	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "reading cookie file %s", filename)
	}
	if len(data) == 0 {
		return nil
	}
	return errors.Wrapf(f.unmarshal(data), "loading cookie file %s", filename)
}

// Save writes the cookies to filename, creating its directory when needed.
// The file is replaced atomically.
func (f *FileJar) Save(filename string) error {
	data, err := f.marshal(f.storeSession)
	if err != nil {
		return err
	}

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary cookie file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing cookie file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "writing cookie file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), filename), "saving cookie file %s", filename)
}

// Flush saves the cookies to the file the jar was opened from.
func (f *FileJar) Flush() error { return f.Save(f.filename) }

// Close flushes the jar. The jar stays usable in memory afterwards.
func (f *FileJar) Close() error { return f.Flush() }

// SessionStore holds serialized cookie jars by key.
type SessionStore interface {
	Get(key string) (data []byte, ok bool, err error)
	Set(key string, data []byte) error
}

// MemoryStore is a [SessionStore] kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	return append([]byte(nil), data...), ok, nil
}

func (m *MemoryStore) Set(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), data...)
	return nil
}

const DefaultSessionKey = "asynchttp_cookies"

// SessionJar is a [Jar] persisted in a [SessionStore] under one key,
// session cookies included.
type SessionJar struct {
	*Jar

	store SessionStore
	key   string
}

// NewSessionJar creates a jar loaded from the store entry named key.
// An empty key uses [DefaultSessionKey].
func NewSessionJar(store SessionStore, key string, opts Options) (*SessionJar, error) {
	if key == "" {
		key = DefaultSessionKey
	}
	s := &SessionJar{Jar: NewJar(opts), store: store, key: key}

	data, ok, err := store.Get(key)
	if err != nil {
		return nil, errors.Wrapf(err, "reading session %q", key)
	}
	if ok && len(data) > 0 {
		if err := s.unmarshal(data); err != nil {
			return nil, errors.Wrapf(err, "loading session %q", key)
		}
	}
	return s, nil
}

// Flush writes the cookies back to the store.
func (s *SessionJar) Flush() error {
	data, err := s.marshal(true)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.store.Set(s.key, data), "writing session %q", s.key)
}

func (s *SessionJar) Close() error { return s.Flush() }
