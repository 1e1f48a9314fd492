package driven

import (
	"context"
	"io"

	"github.com/ericfisherdev/storageio/internal/domain/model"
)

// Provider defines the driven port a storage backend adapter implements.
// Every operation receives a credential of the provider's declared variant
// and an absolute path. Implementations reject a credential of another
// variant with storageerr.KindCredentialsError before any backend call.
type Provider interface {
	// Variant returns the credential variant this provider serves.
	Variant() model.Variant

	// ListFolderContents returns the immediate children of a folder.
	// Fails with EntityNotFound if nothing exists at path and with
	// InvalidEntityPath if path resolves to a file.
	ListFolderContents(ctx context.Context, cred model.Credential, path string) (*model.Folder, error)

	// Exists reports whether any file or folder exists at path.
	Exists(ctx context.Context, cred model.Credential, path string) (bool, error)

	// ReadFileMeta returns metadata for an existing file. Fails with
	// InvalidEntityPath if path resolves to a folder.
	ReadFileMeta(ctx context.Context, cred model.Credential, path string) (*model.File, error)

	// ReadFile streams an existing file's bytes into w.
	ReadFile(ctx context.Context, cred model.Credential, path string, w io.Writer) error

	// WriteFile creates or overwrites the file at path. When expected is not
	// model.AnyRevision the provider atomically verifies the current revision
	// and fails with InvalidRevision, writing nothing, on mismatch.
	WriteFile(ctx context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error)

	// Delete removes a file or a folder and its contents.
	Delete(ctx context.Context, cred model.Credential, path string) error
}
