package application_test

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/paths"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// --- Mock implementations ---

// mockProvider keeps file contents in a map and records every call it
// receives so tests can assert that validation happened before forwarding.
type mockProvider struct {
	variant model.Variant

	mu    sync.Mutex
	files map[string][]byte
	calls []string
	creds []model.Credential
}

func newMockProvider(v model.Variant) *mockProvider {
	return &mockProvider{variant: v, files: make(map[string][]byte)}
}

func (m *mockProvider) record(op string, cred model.Credential) {
	m.calls = append(m.calls, op)
	m.creds = append(m.creds, cred)
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockProvider) Variant() model.Variant { return m.variant }

func (m *mockProvider) ListFolderContents(_ context.Context, cred model.Credential, path string) (*model.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("list", cred)

	folder := model.NewFolder(paths.Name(path), path, paths.Parent(path))
	for p, b := range m.files {
		if paths.Parent(p) == paths.AsFolder(path) {
			folder.Files = append(folder.Files, model.NewFile(paths.Name(p), p, paths.Parent(p), int64(len(b))))
		}
	}
	return &folder, nil
}

func (m *mockProvider) Exists(_ context.Context, cred model.Credential, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exists", cred)
	_, ok := m.files[path]
	return ok || paths.IsRoot(path), nil
}

func (m *mockProvider) ReadFileMeta(_ context.Context, cred model.Credential, path string) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("meta", cred)
	b, ok := m.files[path]
	if !ok {
		return nil, storageerr.New(storageerr.KindEntityNotFound, path)
	}
	f := model.NewFile(paths.Name(path), path, paths.Parent(path), int64(len(b)))
	f.Revision = model.Revision(b)
	return &f, nil
}

func (m *mockProvider) ReadFile(_ context.Context, cred model.Credential, path string, w io.Writer) error {
	m.mu.Lock()
	b, ok := m.files[path]
	m.record("read", cred)
	m.mu.Unlock()
	if !ok {
		return storageerr.New(storageerr.KindEntityNotFound, path)
	}
	_, err := io.Copy(w, bytes.NewReader(b))
	return err
}

// WriteFile uses the content itself as the revision token.
func (m *mockProvider) WriteFile(_ context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("write", cred)
	if expected != model.AnyRevision && string(m.files[path]) != string(expected) {
		return nil, storageerr.New(storageerr.KindInvalidRevision, path)
	}
	m.files[path] = data
	f := model.NewFile(paths.Name(path), path, paths.Parent(path), int64(len(data)))
	f.Revision = model.Revision(data)
	return &f, nil
}

func (m *mockProvider) Delete(_ context.Context, cred model.Credential, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("delete", cred)
	if _, ok := m.files[path]; !ok {
		return storageerr.New(storageerr.KindEntityNotFound, path)
	}
	delete(m.files, path)
	return nil
}

// mockRegistry is a minimal credential registry that does not implement
// driven.CredentialRemover.
type mockRegistry struct {
	records map[string]model.Credential
	getErr  error
}

func (m *mockRegistry) AddCredentials(_ context.Context, cred *model.Credential) (string, error) {
	cred.ID = "id-1"
	m.records[cred.ID] = *cred
	return cred.ID, nil
}

func (m *mockRegistry) GetCredentials(_ context.Context, id string) (model.Credential, error) {
	if m.getErr != nil {
		return model.Credential{}, m.getErr
	}
	c, ok := m.records[id]
	if !ok {
		return model.Credential{}, storageerr.Newf(storageerr.KindCredentialsError, "unknown credential %q", id)
	}
	return c, nil
}
