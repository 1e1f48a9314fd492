package fsprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// Compile-time interface check.
var _ driven.Provider = (*LocalProvider)(nil)

// LocalProvider serves credentials of the local variant. A credential's
// Root is resolved beneath the provider's base directory and can never
// escape it.
type LocalProvider struct {
	baseDir string
	stores  sync.Map // absolute root -> *store
	logger  *slog.Logger
}

// NewLocalProvider creates a provider confined to baseDir, which must be an
// existing directory.
func NewLocalProvider(baseDir string, logger *slog.Logger) (*LocalProvider, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve local base dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat local base dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local base dir %s is not a directory", abs)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{baseDir: abs, logger: logger}, nil
}

func (p *LocalProvider) Variant() model.Variant {
	return model.VariantLocal
}

// BaseDir returns the directory all local credentials are confined to.
func (p *LocalProvider) BaseDir() string {
	return p.baseDir
}

func (p *LocalProvider) resolve(cred model.Credential) (*store, error) {
	params, ok := cred.Params.(model.LocalParams)
	if !ok {
		return nil, storageerr.Newf(storageerr.KindCredentialsError, "credential variant %q is not %q", cred.Variant(), model.VariantLocal)
	}

	// Rooting the credential path at "/" before cleaning drops any leading
	// "..", so the join stays inside baseDir.
	dir := filepath.Join(p.baseDir, filepath.Clean(string(filepath.Separator)+params.Root))
	if s, ok := p.stores.Load(dir); ok {
		return s.(*store), nil
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, storageerr.Newf(storageerr.KindCredentialsError, "local root %q is not an existing directory", params.Root)
	}

	s, loaded := p.stores.LoadOrStore(dir, newStore(osfs.New(dir, osfs.WithBoundOS()), "."))
	if !loaded {
		p.logger.Debug("local filesystem bound", "root", dir)
	}
	return s.(*store), nil
}

func (p *LocalProvider) ListFolderContents(ctx context.Context, cred model.Credential, path string) (*model.Folder, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, path)
}

func (p *LocalProvider) Exists(ctx context.Context, cred model.Credential, path string) (bool, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, path)
}

func (p *LocalProvider) ReadFileMeta(ctx context.Context, cred model.Credential, path string) (*model.File, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.meta(ctx, path)
}

func (p *LocalProvider) ReadFile(ctx context.Context, cred model.Credential, path string, w io.Writer) error {
	s, err := p.resolve(cred)
	if err != nil {
		return err
	}
	return s.read(ctx, path, w)
}

func (p *LocalProvider) WriteFile(ctx context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, path, r, expected)
}

func (p *LocalProvider) Delete(ctx context.Context, cred model.Credential, path string) error {
	s, err := p.resolve(cred)
	if err != nil {
		return err
	}
	return s.delete(ctx, path)
}
