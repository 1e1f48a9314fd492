package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// StorageManager is the single entry point callers use to register
// providers and credentials and to obtain a bound StorageService for a
// credential id. It holds no state of its own beyond its collaborators.
type StorageManager struct {
	providers   *ProviderRegistry
	credentials driven.CredentialRegistry
	logger      *slog.Logger
}

// NewStorageManager creates a dispatcher over the given registries.
func NewStorageManager(providers *ProviderRegistry, credentials driven.CredentialRegistry, logger *slog.Logger) *StorageManager {
	if providers == nil {
		providers = NewProviderRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageManager{
		providers:   providers,
		credentials: credentials,
		logger:      logger,
	}
}

// RegisterProvider installs p in the provider registry.
func (m *StorageManager) RegisterProvider(p driven.Provider) error {
	if err := m.providers.Register(p); err != nil {
		return err
	}
	m.logger.Info("storage provider registered", "variant", p.Variant())
	return nil
}

// Variants lists the variants with a registered provider.
func (m *StorageManager) Variants() []model.Variant {
	return m.providers.Variants()
}

// AddCredentials registers cred and returns its new id. The credential's
// variant must already have a provider.
func (m *StorageManager) AddCredentials(ctx context.Context, cred *model.Credential) (string, error) {
	if cred == nil {
		return "", storageerr.New(storageerr.KindInvalidArgument, "credential is nil")
	}
	if cred.Registered() {
		return "", storageerr.Newf(storageerr.KindInvalidArgument, "credential already registered as %q", cred.ID)
	}
	params, err := model.NormalizeParams(cred.Params)
	if err != nil {
		return "", storageerr.Wrap(err, storageerr.KindInvalidArgument, "credential params")
	}
	record := *cred
	record.Params = params
	if _, err := m.providers.Resolve(record.Variant()); err != nil {
		return "", err
	}

	id, err := m.credentials.AddCredentials(ctx, &record)
	if err != nil {
		return "", err
	}
	cred.ID = id
	m.logger.Debug("credential registered", "variant", record.Variant())
	return id, nil
}

// LookupService resolves id and binds the credential to its provider. A
// fresh StorageService is returned on every call.
func (m *StorageManager) LookupService(ctx context.Context, id string) (*StorageService, error) {
	if id == "" {
		return nil, storageerr.New(storageerr.KindInvalidArgument, "credential id is empty")
	}

	cred, err := m.credentials.GetCredentials(ctx, id)
	if err != nil {
		return nil, err
	}

	provider, err := m.providers.Resolve(cred.Variant())
	if err != nil {
		// Credentials are only accepted for registered variants, so this is a
		// broken registry rather than a caller mistake.
		m.logger.Error("registered credential has no provider",
			"variant", cred.Variant(),
			"error", err,
		)
		return nil, storageerr.Wrapf(err, storageerr.KindInternal, "credential variant %q has no provider", cred.Variant())
	}

	return newStorageService(cred, provider), nil
}

// RemoveCredentials revokes id when the credential registry supports it.
func (m *StorageManager) RemoveCredentials(ctx context.Context, id string) error {
	if id == "" {
		return storageerr.New(storageerr.KindInvalidArgument, "credential id is empty")
	}
	remover, ok := m.credentials.(driven.CredentialRemover)
	if !ok {
		return storageerr.New(storageerr.KindInvalidArgument, "credential registry does not support removal")
	}
	if err := remover.RemoveCredentials(ctx, id); err != nil {
		return err
	}
	m.logger.Info("credential removed")
	return nil
}
