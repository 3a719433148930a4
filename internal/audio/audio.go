// Package audio resolves opaque audio references to readable byte streams.
// The pipeline only ever reads through Source; writes happen in the upload
// path.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("audio not found")
	ErrTooLarge = errors.New("audio exceeds size limit")
)

type Source interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// IsURL reports whether ref points at a remote http(s) resource.
func IsURL(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// LocalStore keeps uploaded files under a single directory. References are
// file names relative to that directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) path(ref string) (string, error) {
	clean := filepath.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty reference", ErrNotFound)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *LocalStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open audio %s: %w", ref, err)
	}
	return f, nil
}

// Save writes r under a fresh UUID name keeping the original extension and
// returns the reference.
func (s *LocalStore) Save(originalName string, r io.Reader) (string, int64, error) {
	ref := uuid.New().String() + strings.ToLower(filepath.Ext(originalName))
	p, _ := s.path(ref)
	f, err := os.Create(p)
	if err != nil {
		return "", 0, fmt.Errorf("create audio file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return "", 0, fmt.Errorf("write audio file: %w", err)
	}
	return ref, n, nil
}

func (s *LocalStore) Remove(ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove audio %s: %w", ref, err)
	}
	return nil
}

// HTTPSource downloads remote recordings.
type HTTPSource struct {
	client *http.Client
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Router sends http(s) references to Remote and everything else to Local.
type Router struct {
	Local  Source
	Remote Source
}

func (r *Router) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if IsURL(ref) {
		if r.Remote == nil {
			return nil, fmt.Errorf("%w: remote audio not supported", ErrNotFound)
		}
		return r.Remote.Open(ctx, ref)
	}
	if r.Local == nil {
		return nil, fmt.Errorf("%w: local audio not supported", ErrNotFound)
	}
	return r.Local.Open(ctx, ref)
}

// Limit caps every reference opened through src at max bytes. Reading past
// the cap fails with ErrTooLarge. A non-positive max returns src unchanged.
func Limit(src Source, max int64) Source {
	if max <= 0 {
		return src
	}
	return &limitedSource{src: src, max: max}
}

type limitedSource struct {
	src Source
	max int64
}

func (l *limitedSource) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := l.src.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &cappedReader{ReadCloser: rc, r: io.LimitReader(rc, l.max+1), max: l.max}, nil
}

type cappedReader struct {
	io.ReadCloser
	r    io.Reader
	max  int64
	read int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.max {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.max)
	}
	return n, err
}

// ReadAll opens ref and reads it fully.
func ReadAll(ctx context.Context, src Source, ref string) ([]byte, error) {
	rc, err := src.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
