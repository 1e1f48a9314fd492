package fsprovider

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
	"github.com/ericfisherdev/storageio/internal/secureid"
)

// Compile-time interface check.
var _ driven.Provider = (*MemoryProvider)(nil)

// MemoryProvider serves credentials of the memory variant. Each credential
// names an isolated virtual filesystem created by CreateFileSystem.
type MemoryProvider struct {
	stores sync.Map // store id -> *store
	logger *slog.Logger
}

// NewMemoryProvider creates a provider with no filesystems.
func NewMemoryProvider(logger *slog.Logger) *MemoryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryProvider{logger: logger}
}

// CreateFileSystem provisions a fresh, empty virtual filesystem and returns
// an unregistered credential for it.
func (p *MemoryProvider) CreateFileSystem() (model.Credential, error) {
	id, err := secureid.Claim(secureid.New, func(id string) (bool, error) {
		_, loaded := p.stores.LoadOrStore(id, newStore(memfs.New(), "/"))
		return !loaded, nil
	})
	if err != nil {
		return model.Credential{}, storageerr.Wrap(err, storageerr.KindInternal, "allocate memory store")
	}
	p.logger.Debug("memory filesystem created", "store", id)
	return model.Credential{Params: model.MemoryParams{StoreID: id}}, nil
}

// DropFileSystem discards the filesystem behind storeID. Credentials that
// reference it fail with CredentialsError afterwards.
func (p *MemoryProvider) DropFileSystem(storeID string) bool {
	_, loaded := p.stores.LoadAndDelete(storeID)
	return loaded
}

func (p *MemoryProvider) Variant() model.Variant {
	return model.VariantMemory
}

func (p *MemoryProvider) resolve(cred model.Credential) (*store, error) {
	params, ok := cred.Params.(model.MemoryParams)
	if !ok {
		return nil, storageerr.Newf(storageerr.KindCredentialsError, "credential variant %q is not %q", cred.Variant(), model.VariantMemory)
	}
	s, ok := p.stores.Load(params.StoreID)
	if !ok {
		return nil, storageerr.Newf(storageerr.KindCredentialsError, "unknown memory store %q", params.StoreID)
	}
	return s.(*store), nil
}

func (p *MemoryProvider) ListFolderContents(ctx context.Context, cred model.Credential, path string) (*model.Folder, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, path)
}

func (p *MemoryProvider) Exists(ctx context.Context, cred model.Credential, path string) (bool, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, path)
}

func (p *MemoryProvider) ReadFileMeta(ctx context.Context, cred model.Credential, path string) (*model.File, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.meta(ctx, path)
}

func (p *MemoryProvider) ReadFile(ctx context.Context, cred model.Credential, path string, w io.Writer) error {
	s, err := p.resolve(cred)
	if err != nil {
		return err
	}
	return s.read(ctx, path, w)
}

func (p *MemoryProvider) WriteFile(ctx context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error) {
	s, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, path, r, expected)
}

func (p *MemoryProvider) Delete(ctx context.Context, cred model.Credential, path string) error {
	s, err := p.resolve(cred)
	if err != nil {
		return err
	}
	return s.delete(ctx, path)
}
