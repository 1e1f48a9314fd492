// Package memory provides a process-local credential registry. Records do
// not survive a restart and are not shared between processes.
package memory

import (
	"context"
	"sync"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
	"github.com/ericfisherdev/storageio/internal/secureid"
)

// Compile-time interface checks.
var (
	_ driven.CredentialRegistry = (*CredentialRepo)(nil)
	_ driven.CredentialRemover  = (*CredentialRepo)(nil)
)

// CredentialRepo stores credentials in a sync.Map. Inserts are
// insert-if-absent, so concurrent registrations never share an id and no
// registry-wide lock is held.
type CredentialRepo struct {
	records sync.Map // id -> model.Credential
	newID   secureid.Generator
}

// Option configures a CredentialRepo.
type Option func(*CredentialRepo)

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(gen secureid.Generator) Option {
	return func(r *CredentialRepo) {
		r.newID = gen
	}
}

// NewCredentialRepo creates an empty registry.
func NewCredentialRepo(opts ...Option) *CredentialRepo {
	r := &CredentialRepo{newID: secureid.New}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddCredentials assigns a fresh id to cred and stores a copy of it.
func (r *CredentialRepo) AddCredentials(_ context.Context, cred *model.Credential) (string, error) {
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

	id, err := secureid.Claim(r.newID, func(id string) (bool, error) {
		stored := *cred
		stored.ID = id
		stored.Params = params
		_, loaded := r.records.LoadOrStore(id, stored)
		return !loaded, nil
	})
	if err != nil {
		return "", storageerr.Wrap(err, storageerr.KindInternal, "allocate credential id")
	}

	cred.ID = id
	return id, nil
}

// GetCredentials returns the record registered under id.
func (r *CredentialRepo) GetCredentials(_ context.Context, id string) (model.Credential, error) {
	if id == "" {
		return model.Credential{}, storageerr.New(storageerr.KindCredentialsError, "credential id is empty")
	}
	v, ok := r.records.Load(id)
	if !ok {
		return model.Credential{}, storageerr.Newf(storageerr.KindCredentialsError, "unknown credential %q", id)
	}
	return v.(model.Credential), nil
}

// RemoveCredentials forgets id.
func (r *CredentialRepo) RemoveCredentials(_ context.Context, id string) error {
	if _, loaded := r.records.LoadAndDelete(id); !loaded {
		return storageerr.Newf(storageerr.KindCredentialsError, "unknown credential %q", id)
	}
	return nil
}
