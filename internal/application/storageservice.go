package application

import (
	"bytes"
	"context"
	"io"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/paths"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// StorageService pairs one credential with one provider. Each method checks
// its arguments and forwards to the provider with the bound credential.
type StorageService struct {
	cred     model.Credential
	provider driven.Provider
}

func newStorageService(cred model.Credential, provider driven.Provider) *StorageService {
	return &StorageService{cred: cred, provider: provider}
}

// CredentialsID returns the id of the bound credential.
func (s *StorageService) CredentialsID() string {
	return s.cred.ID
}

// Variant returns the variant of the bound credential.
func (s *StorageService) Variant() model.Variant {
	return s.cred.Variant()
}

// Params returns the variant-specific params of the bound credential.
func (s *StorageService) Params() model.Params {
	return s.cred.Params
}

// ListFolderContents returns the folder at path with its immediate children.
func (s *StorageService) ListFolderContents(ctx context.Context, path string) (*model.Folder, error) {
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	return s.provider.ListFolderContents(ctx, s.cred, path)
}

// Exists reports whether a file or folder is stored at path.
func (s *StorageService) Exists(ctx context.Context, path string) (bool, error) {
	if err := paths.Validate(path); err != nil {
		return false, err
	}
	return s.provider.Exists(ctx, s.cred, path)
}

// ReadFileMeta returns the metadata and current revision of the file at path.
func (s *StorageService) ReadFileMeta(ctx context.Context, path string) (*model.File, error) {
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	return s.provider.ReadFileMeta(ctx, s.cred, path)
}

// ReadFile streams the file at path into w.
func (s *StorageService) ReadFile(ctx context.Context, path string, w io.Writer) error {
	if err := paths.Validate(path); err != nil {
		return err
	}
	if w == nil {
		return storageerr.New(storageerr.KindInvalidArgument, "destination writer is nil")
	}
	return s.provider.ReadFile(ctx, s.cred, path, w)
}

// WriteFile writes r to path unconditionally.
func (s *StorageService) WriteFile(ctx context.Context, path string, r io.Reader) (*model.File, error) {
	return s.WriteFileRevision(ctx, path, r, model.AnyRevision)
}

// WriteFileRevision writes r to path only if the stored revision equals rev.
func (s *StorageService) WriteFileRevision(ctx context.Context, path string, r io.Reader, rev model.Revision) (*model.File, error) {
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, storageerr.New(storageerr.KindInvalidArgument, "source reader is nil")
	}
	return s.provider.WriteFile(ctx, s.cred, path, r, rev)
}

// WriteBytes writes b to path unconditionally. A nil b is rejected; an
// empty one writes an empty file.
func (s *StorageService) WriteBytes(ctx context.Context, path string, b []byte) (*model.File, error) {
	return s.WriteBytesRevision(ctx, path, b, model.AnyRevision)
}

// WriteBytesRevision writes b to path only if the stored revision equals rev.
func (s *StorageService) WriteBytesRevision(ctx context.Context, path string, b []byte, rev model.Revision) (*model.File, error) {
	if b == nil {
		return nil, storageerr.New(storageerr.KindInvalidArgument, "content is nil")
	}
	return s.WriteFileRevision(ctx, path, bytes.NewReader(b), rev)
}

// Delete removes the file at path, or the folder at path with everything
// below it. The root cannot be deleted.
func (s *StorageService) Delete(ctx context.Context, path string) error {
	if err := paths.Validate(path); err != nil {
		return err
	}
	return s.provider.Delete(ctx, s.cred, path)
}
