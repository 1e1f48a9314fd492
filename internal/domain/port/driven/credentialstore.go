package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/storageio/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by persistent registries when
// STORAGEIO_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set STORAGEIO_SECRET_KEY")

// CredentialRegistry issues identifiers to credential records and resolves
// them back. Implementations must be safe for concurrent use and must never
// hand out the same identifier twice.
type CredentialRegistry interface {
	// AddCredentials assigns a fresh identifier to cred, stores it and
	// returns the identifier. cred.ID is set on the caller's record.
	// A nil or already-registered credential fails with InvalidArgument.
	AddCredentials(ctx context.Context, cred *model.Credential) (string, error)

	// GetCredentials resolves an identifier. An empty or unknown id fails
	// with CredentialsError.
	GetCredentials(ctx context.Context, id string) (model.Credential, error)
}

// CredentialRemover is implemented by registries that support revoking a
// registered credential.
type CredentialRemover interface {
	// RemoveCredentials forgets id. An unknown id fails with CredentialsError.
	RemoveCredentials(ctx context.Context, id string) error
}
