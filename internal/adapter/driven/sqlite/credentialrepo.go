package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
	"github.com/ericfisherdev/storageio/internal/secureid"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CredentialRegistry = (*CredentialRepo)(nil)
	_ driven.CredentialRemover  = (*CredentialRepo)(nil)
)

// CredentialRepo is the SQLite implementation of the credential registry.
// Params are encrypted with AES-256-GCM before write and decrypted after
// read. The record id and variant are bound to the ciphertext as
// additional data, so a blob copied onto another row fails to open.
type CredentialRepo struct {
	db    *DB
	key   []byte // 32-byte AES-256 key; nil when encryption is disabled.
	newID secureid.Generator
}

// Option configures a CredentialRepo.
type Option func(*CredentialRepo)

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(gen secureid.Generator) Option {
	return func(r *CredentialRepo) {
		r.newID = gen
	}
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable the registry (every operation then fails
// with driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte, opts ...Option) *CredentialRepo {
	r := &CredentialRepo{db: db, key: key, newID: secureid.New}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddCredentials stores cred under a fresh id. Collisions are detected by
// the primary key: ON CONFLICT DO NOTHING leaves zero rows affected and
// another id is drawn.
func (r *CredentialRepo) AddCredentials(ctx context.Context, cred *model.Credential) (string, error) {
	if cred == nil {
		return "", storageerr.New(storageerr.KindInvalidArgument, "credential is nil")
	}
	if cred.Registered() {
		return "", storageerr.Newf(storageerr.KindInvalidArgument, "credential already registered as %q", cred.ID)
	}
	if r.key == nil {
		return "", storageerr.Wrap(driven.ErrEncryptionKeyNotSet, storageerr.KindInternal, "add credential")
	}

	params, err := model.NormalizeParams(cred.Params)
	if err != nil {
		return "", storageerr.Wrap(err, storageerr.KindInvalidArgument, "credential params")
	}
	plaintext, err := model.EncodeParams(params)
	if err != nil {
		return "", storageerr.Wrap(err, storageerr.KindInvalidArgument, "encode credential params")
	}
	variant := string(params.Variant())

	const query = `INSERT INTO credentials (id, owner_id, variant, params) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	id, err := secureid.Claim(r.newID, func(id string) (bool, error) {
		sealed, err := r.encrypt(plaintext, aad(id, variant))
		if err != nil {
			return false, err
		}
		res, err := r.db.Writer.ExecContext(ctx, query, id, cred.OwnerID, variant, sealed)
		if err != nil {
			return false, fmt.Errorf("insert credential: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("rows affected: %w", err)
		}
		return n == 1, nil
	})
	if err != nil {
		return "", storageerr.Wrap(err, storageerr.KindInternal, "allocate credential id")
	}

	cred.ID = id
	return id, nil
}

// GetCredentials loads and decrypts the record registered under id.
func (r *CredentialRepo) GetCredentials(ctx context.Context, id string) (model.Credential, error) {
	if id == "" {
		return model.Credential{}, storageerr.New(storageerr.KindCredentialsError, "credential id is empty")
	}
	if r.key == nil {
		return model.Credential{}, storageerr.Wrap(driven.ErrEncryptionKeyNotSet, storageerr.KindInternal, "get credential")
	}

	const query = `SELECT owner_id, variant, params FROM credentials WHERE id = ?`
	var (
		cred    = model.Credential{ID: id}
		variant string
		sealed  []byte
	)
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(&cred.OwnerID, &variant, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, storageerr.Newf(storageerr.KindCredentialsError, "unknown credential %q", id)
	}
	if err != nil {
		return model.Credential{}, storageerr.Wrapf(err, storageerr.KindInternal, "get credential %q", id)
	}

	plaintext, err := r.decrypt(sealed, aad(id, variant))
	if err != nil {
		return model.Credential{}, storageerr.Wrapf(err, storageerr.KindInternal, "decrypt credential %q", id)
	}

	cred.Params, err = model.DecodeParams(model.Variant(variant), plaintext)
	if err != nil {
		return model.Credential{}, storageerr.Wrapf(err, storageerr.KindInternal, "decode credential %q", id)
	}
	return cred, nil
}

// RemoveCredentials deletes the record registered under id.
func (r *CredentialRepo) RemoveCredentials(ctx context.Context, id string) error {
	const query = `DELETE FROM credentials WHERE id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return storageerr.Wrapf(err, storageerr.KindInternal, "delete credential %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageerr.Wrapf(err, storageerr.KindInternal, "delete credential %q", id)
	}
	if n == 0 {
		return storageerr.Newf(storageerr.KindCredentialsError, "unknown credential %q", id)
	}
	return nil
}

func aad(id, variant string) []byte {
	return []byte(id + "\x00" + variant)
}

// encrypt seals plaintext with AES-256-GCM and returns the nonce (12 bytes)
// prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext, additional []byte) ([]byte, error) {
	gcm, err := r.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	return gcm.Seal(nonce, nonce, plaintext, additional), nil
}

func (r *CredentialRepo) decrypt(data, additional []byte) ([]byte, error) {
	gcm, err := r.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plaintext, nil
}

func (r *CredentialRepo) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
