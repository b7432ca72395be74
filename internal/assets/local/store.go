// Package local implements assets.Store against the filesystem: each asset
// lives at <dir>/<name>/<version>/assets/<asset>.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gapminder/ddf-server/internal/apperr"
	"github.com/gapminder/ddf-server/internal/assets"
)

type Store struct {
	dir string
}

// New roots a Store at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name, version, asset string) string {
	return filepath.Join(s.dir, name, version, "assets", filepath.Clean("/"+asset))
}

func (s *Store) Put(_ context.Context, name, version, asset string, r io.Reader, _ int64) error {
	dst := s.path(name, version, asset)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (s *Store) Open(_ context.Context, name, version, asset string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name, version, asset))
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.NotFound, "asset not found: "+asset)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "open asset", err)
	}
	return f, nil
}

// URL returns "": the local store has no client-facing location of its own;
// the caller streams the asset through the dataset HTTP handler instead.
func (s *Store) URL(string, string, string) string { return "" }

var _ assets.Store = (*Store)(nil)
