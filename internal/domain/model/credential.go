package model

// Variant tags a storage backend kind. Every credential and every provider
// carries exactly one.
type Variant string

const (
	VariantMemory Variant = "memory"
	VariantLocal  Variant = "local"
	VariantGitHub Variant = "github"
	VariantS3     Variant = "s3"
)

// Params is the variant-specific payload of a Credential.
type Params interface {
	Variant() Variant
}

// Credential is an opaque authorization record for one storage backend.
// ID is empty until the credential registry assigns one and is never
// reassigned afterwards. OwnerID is informational only.
type Credential struct {
	ID      string `json:"id,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
	Params  Params `json:"-"`
}

// Variant returns the variant tag of the credential's params, or "" when
// no params are set.
func (c Credential) Variant() Variant {
	if c.Params == nil {
		return ""
	}
	return c.Params.Variant()
}

// Registered reports whether the credential has been assigned an ID.
func (c Credential) Registered() bool {
	return c.ID != ""
}

// MemoryParams identifies an isolated in-memory virtual filesystem.
type MemoryParams struct {
	StoreID string `json:"store_id"`
}

func (MemoryParams) Variant() Variant { return VariantMemory }

// LocalParams roots a credential at a directory on the host filesystem.
type LocalParams struct {
	Root string `json:"root"`
}

func (LocalParams) Variant() Variant { return VariantLocal }

// GitHubParams addresses a branch of a GitHub repository via the contents API.
type GitHubParams struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
}

func (GitHubParams) Variant() Variant { return VariantGitHub }

// S3Params addresses a bucket (optionally a key prefix) on an S3-compatible
// object store.
type S3Params struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix,omitempty"`
}

func (S3Params) Variant() Variant { return VariantS3 }
