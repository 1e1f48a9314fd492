package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
	"github.com/ericfisherdev/storageio/internal/secureid"
)

func TestCredentialRepo_AddAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	cred := &model.Credential{
		OwnerID: "alice",
		Params:  model.GitHubParams{Token: "ghp_abc123", Owner: "octo", Repo: "files", Branch: "main"},
	}
	id, err := repo.AddCredentials(ctx, cred)
	require.NoError(t, err)
	assert.Len(t, id, 26)
	assert.Equal(t, id, cred.ID)

	got, err := repo.GetCredentials(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *cred, got)
}

func TestCredentialRepo_PointerParamsRoundTripAsValues(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	id, err := repo.AddCredentials(ctx, &model.Credential{Params: &model.LocalParams{Root: "/data"}})
	require.NoError(t, err)

	got, err := repo.GetCredentials(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.LocalParams{Root: "/data"}, got.Params)

	_, err = repo.AddCredentials(ctx, &model.Credential{Params: (*model.LocalParams)(nil)})
	assert.True(t, storageerr.IsKind(err, storageerr.KindInvalidArgument))
}

func TestCredentialRepo_EveryVariantRoundTrips(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	params := []model.Params{
		model.MemoryParams{StoreID: "store-1"},
		model.LocalParams{Root: "/data"},
		model.GitHubParams{Token: "t", Owner: "o", Repo: "r"},
		model.S3Params{Endpoint: "s3.local:9000", Bucket: "b", AccessKey: "ak", SecretKey: "sk", UseSSL: true, Prefix: "p"},
	}
	for _, p := range params {
		t.Run(string(p.Variant()), func(t *testing.T) {
			id, err := repo.AddCredentials(ctx, &model.Credential{Params: p})
			require.NoError(t, err)

			got, err := repo.GetCredentials(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, p, got.Params)
		})
	}
}

func TestCredentialRepo_ParamsAreEncryptedAtRest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	id, err := repo.AddCredentials(ctx, &model.Credential{Params: model.GitHubParams{Token: "super-secret-token", Repo: "o/r"}})
	require.NoError(t, err)

	var variant string
	var sealed []byte
	err = db.Reader.QueryRowContext(ctx, `SELECT variant, params FROM credentials WHERE id = ?`, id).Scan(&variant, &sealed)
	require.NoError(t, err)
	assert.Equal(t, "github", variant)
	assert.False(t, bytes.Contains(sealed, []byte("super-secret-token")))
}

func TestCredentialRepo_AddErrors(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	_, err := repo.AddCredentials(ctx, nil)
	assert.ErrorIs(t, err, storageerr.ErrInvalidArgument)

	_, err = repo.AddCredentials(ctx, &model.Credential{ID: "taken", Params: model.MemoryParams{}})
	assert.ErrorIs(t, err, storageerr.ErrInvalidArgument)

	_, err = repo.AddCredentials(ctx, &model.Credential{})
	assert.ErrorIs(t, err, storageerr.ErrInvalidArgument)
}

func TestCredentialRepo_GetErrors(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	_, err := repo.GetCredentials(ctx, "")
	assert.ErrorIs(t, err, storageerr.ErrCredentialsError)

	_, err = repo.GetCredentials(ctx, "nonexistent")
	assert.ErrorIs(t, err, storageerr.ErrCredentialsError)
}

func TestCredentialRepo_CollisionDrawsAnotherID(t *testing.T) {
	db := setupTestDB(t)
	ids := []string{"aaaa", "aaaa", "bbbb"}
	var mu sync.Mutex
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	repo := NewCredentialRepo(db, testKey, WithIDGenerator(gen))
	ctx := context.Background()

	first, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{StoreID: "one"}})
	require.NoError(t, err)
	second, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{StoreID: "two"}})
	require.NoError(t, err)

	assert.Equal(t, "aaaa", first)
	assert.Equal(t, "bbbb", second)

	got, err := repo.GetCredentials(ctx, "aaaa")
	require.NoError(t, err)
	assert.Equal(t, model.MemoryParams{StoreID: "one"}, got.Params)
}

func TestCredentialRepo_ExhaustionIsInternal(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey, WithIDGenerator(func() (string, error) { return "same", nil }))
	ctx := context.Background()

	_, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{}})
	require.NoError(t, err)

	cred := &model.Credential{Params: model.MemoryParams{}}
	_, err = repo.AddCredentials(ctx, cred)
	assert.ErrorIs(t, err, storageerr.ErrInternal)
	assert.ErrorIs(t, err, secureid.ErrExhausted)
	assert.Empty(t, cred.ID)
}

func TestCredentialRepo_ConcurrentAddsGetDistinctIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{}})
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := range n {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
}

func TestCredentialRepo_Remove(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	id, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{}})
	require.NoError(t, err)

	require.NoError(t, repo.RemoveCredentials(ctx, id))

	_, err = repo.GetCredentials(ctx, id)
	assert.ErrorIs(t, err, storageerr.ErrCredentialsError)

	err = repo.RemoveCredentials(ctx, id)
	assert.ErrorIs(t, err, storageerr.ErrCredentialsError)
}

func TestCredentialRepo_WithoutKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, nil)
	ctx := context.Background()

	_, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{}})
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)

	_, err = repo.GetCredentials(ctx, "any")
	assert.ErrorIs(t, err, driven.ErrEncryptionKeyNotSet)
}

func TestCredentialRepo_WrongKeyCannotDecrypt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := NewCredentialRepo(db, testKey).AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{StoreID: "x"}})
	require.NoError(t, err)

	other := bytes.Repeat([]byte{0x24}, 32)
	_, err = NewCredentialRepo(db, other).GetCredentials(ctx, id)
	assert.ErrorIs(t, err, storageerr.ErrInternal)
}

func TestCredentialRepo_SwappedRowFailsToOpen(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db, testKey)
	ctx := context.Background()

	a, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{StoreID: "a"}})
	require.NoError(t, err)
	b, err := repo.AddCredentials(ctx, &model.Credential{Params: model.MemoryParams{StoreID: "b"}})
	require.NoError(t, err)

	_, err = db.Writer.ExecContext(ctx,
		`UPDATE credentials SET params = (SELECT params FROM credentials WHERE id = ?) WHERE id = ?`, a, b)
	require.NoError(t, err)

	_, err = repo.GetCredentials(ctx, b)
	assert.ErrorIs(t, err, storageerr.ErrInternal)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storageio.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Ping(ctx))

	id, err := NewCredentialRepo(db, testKey).AddCredentials(ctx, &model.Credential{Params: model.LocalParams{Root: "/srv"}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	got, err := NewCredentialRepo(db, testKey).GetCredentials(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.LocalParams{Root: "/srv"}, got.Params)

	version, dirty, err := SchemaVersion(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
