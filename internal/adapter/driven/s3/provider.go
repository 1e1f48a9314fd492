// Package s3 implements a storage provider over S3-compatible object
// stores using minio-go. Folders are virtual: a folder exists while at
// least one key lives below it. An object's ETag is its revision.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/paths"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// Compile-time interface check.
var _ driven.Provider = (*Provider)(nil)

// Provider serves credentials of the s3 variant. Clients are cached per
// endpoint and key pair.
type Provider struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*minio.Client
}

// NewProvider creates an S3 provider.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger, clients: make(map[string]*minio.Client)}
}

func (p *Provider) Variant() model.Variant {
	return model.VariantS3
}

// bucketRef is a credential resolved to a client, bucket and key prefix.
type bucketRef struct {
	client   *minio.Client
	bucket   string
	prefix   string // "" or ends with "/"
	cacheKey string
}

func (p *Provider) resolve(cred model.Credential) (bucketRef, error) {
	params, ok := cred.Params.(model.S3Params)
	if !ok {
		return bucketRef{}, storageerr.Newf(storageerr.KindCredentialsError, "credential variant %q is not %q", cred.Variant(), model.VariantS3)
	}
	if err := validate(params); err != nil {
		return bucketRef{}, err
	}

	key := clientKey(params)
	p.mu.RLock()
	client, ok := p.clients[key]
	p.mu.RUnlock()

	if !ok {
		var err error
		client, err = minio.New(params.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(params.AccessKey, params.SecretKey, ""),
			Secure: params.UseSSL,
		})
		if err != nil {
			return bucketRef{}, storageerr.Wrap(err, storageerr.KindCredentialsError, "create s3 client")
		}
		p.mu.Lock()
		if existing, ok := p.clients[key]; ok {
			client = existing
		} else {
			p.clients[key] = client
		}
		p.mu.Unlock()
	}

	return bucketRef{client: client, bucket: params.Bucket, prefix: normalizePrefix(params.Prefix), cacheKey: key}, nil
}

// validate checks that every field needed to reach the bucket is set.
func validate(params model.S3Params) error {
	switch {
	case params.Bucket == "":
		return storageerr.New(storageerr.KindCredentialsError, "s3 bucket is required")
	case params.Endpoint == "":
		return storageerr.New(storageerr.KindCredentialsError, "s3 endpoint is required")
	case params.AccessKey == "":
		return storageerr.New(storageerr.KindCredentialsError, "s3 access key is required")
	case params.SecretKey == "":
		return storageerr.New(storageerr.KindCredentialsError, "s3 secret key is required")
	}
	return nil
}

func clientKey(params model.S3Params) string {
	sum := sha256.Sum256([]byte(params.SecretKey))
	scheme := "http"
	if params.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + params.AccessKey + "@" + params.Endpoint + "#" + hex.EncodeToString(sum[:8])
}

func normalizePrefix(prefix string) string {
	t := paths.Trim(prefix)
	if t == "" {
		return ""
	}
	return t + "/"
}

// objectKey maps a storage path to an object key.
func (b bucketRef) objectKey(p string) string {
	return b.prefix + paths.Trim(paths.Clean(p))
}

// dirKey maps a storage path to the key prefix of its folder.
func (b bucketRef) dirKey(p string) string {
	k := b.objectKey(p)
	if k == "" || strings.HasSuffix(k, "/") {
		return k
	}
	return k + "/"
}

func (p *Provider) ListFolderContents(ctx context.Context, cred model.Credential, path string) (*model.Folder, error) {
	ref, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	if err := paths.Validate(path); err != nil {
		return nil, err
	}

	root := paths.IsRoot(path)
	if !root {
		isFile, err := p.objectExists(ctx, ref, path)
		if err != nil {
			return nil, err
		}
		if isFile {
			return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", path)
		}
	}

	folderPath := paths.AsFolder(path)
	folder := model.NewFolder(paths.Name(folderPath), folderPath, paths.Parent(folderPath))
	prefix := ref.dirKey(path)

	found := false
	for object := range ref.client.ListObjects(ctx, ref.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, p.translate(object.Err, path)
		}
		found = true

		name := strings.TrimPrefix(object.Key, prefix)
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "/") {
			name = strings.TrimSuffix(name, "/")
			folder.Folders = append(folder.Folders, model.NewFolder(name, paths.AsFolder(paths.Join(folderPath, name)), folderPath))
			continue
		}
		f := fileFromObject(paths.Join(folderPath, name), object)
		folder.Files = append(folder.Files, f)
	}
	p.logger.Debug("s3 list", "bucket", ref.bucket, "prefix", prefix, "files", len(folder.Files), "folders", len(folder.Folders))

	if !root && !found {
		return nil, storageerr.Newf(storageerr.KindEntityNotFound, "%s does not exist", path)
	}

	slices.SortFunc(folder.Files, func(a, b model.File) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(folder.Folders, func(a, b model.Folder) int { return strings.Compare(a.Name, b.Name) })
	return &folder, nil
}

func (p *Provider) Exists(ctx context.Context, cred model.Credential, path string) (bool, error) {
	ref, err := p.resolve(cred)
	if err != nil {
		return false, err
	}
	if err := paths.Validate(path); err != nil {
		return false, err
	}
	if paths.IsRoot(path) {
		return true, nil
	}

	isFile, err := p.objectExists(ctx, ref, path)
	if err != nil || isFile {
		return isFile, err
	}
	return p.folderExists(ctx, ref, path)
}

func (p *Provider) ReadFileMeta(ctx context.Context, cred model.Credential, path string) (*model.File, error) {
	ref, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	info, err := p.statFile(ctx, ref, path)
	if err != nil {
		return nil, err
	}
	f := fileFromObject(path, info)
	return &f, nil
}

func (p *Provider) ReadFile(ctx context.Context, cred model.Credential, path string, w io.Writer) error {
	ref, err := p.resolve(cred)
	if err != nil {
		return err
	}
	if _, err := p.statFile(ctx, ref, path); err != nil {
		return err
	}

	obj, err := ref.client.GetObject(ctx, ref.bucket, ref.objectKey(path), minio.GetObjectOptions{})
	if err != nil {
		return p.translate(err, path)
	}
	defer func() { _ = obj.Close() }()

	if _, err := io.Copy(w, obj); err != nil {
		return p.translate(err, path)
	}
	return nil
}

// WriteFile uploads r. A revision-checked write sends If-Match so the
// store itself rejects a stale ETag.
func (p *Provider) WriteFile(ctx context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error) {
	ref, err := p.resolve(cred)
	if err != nil {
		return nil, err
	}
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	if paths.IsFolder(path) {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder path", path)
	}

	isFolder, err := p.folderExists(ctx, ref, path)
	if err != nil {
		return nil, err
	}
	if isFolder {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder", path)
	}
	if err := p.checkAncestors(ctx, ref, path); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storageerr.Wrapf(err, storageerr.KindBackendFailure, "read source for %s", path)
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if expected != model.AnyRevision {
		opts.SetMatchETag(string(expected))
	}

	key := ref.objectKey(path)
	info, err := ref.client.PutObject(ctx, ref.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if expected != model.AnyRevision && (code == "PreconditionFailed" || code == "NoSuchKey") {
			return nil, storageerr.Wrapf(err, storageerr.KindInvalidRevision, "%s is not at revision %s", path, expected)
		}
		return nil, p.translate(err, path)
	}
	p.logger.Debug("s3 put", "bucket", ref.bucket, "key", key, "size", info.Size, "etag", info.ETag)

	f := fileFromUpload(path, info)
	return &f, nil
}

// Delete removes one object, or every object below a folder through the
// batch delete API.
func (p *Provider) Delete(ctx context.Context, cred model.Credential, path string) error {
	ref, err := p.resolve(cred)
	if err != nil {
		return err
	}
	if err := paths.Validate(path); err != nil {
		return err
	}
	if paths.IsRoot(path) {
		return storageerr.New(storageerr.KindInvalidEntityPath, "the root folder cannot be deleted")
	}

	isFile, err := p.objectExists(ctx, ref, path)
	if err != nil {
		return err
	}
	if isFile {
		if err := ref.client.RemoveObject(ctx, ref.bucket, ref.objectKey(path), minio.RemoveObjectOptions{}); err != nil {
			return p.translate(err, path)
		}
		return nil
	}

	return p.removeAll(ctx, ref, path)
}

func (p *Provider) removeAll(ctx context.Context, ref bucketRef, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objectsCh := make(chan minio.ObjectInfo, 100)
	done := make(chan struct{})
	var (
		listErr error
		count   int
	)
	go func() {
		defer close(done)
		defer close(objectsCh)
		for object := range ref.client.ListObjects(ctx, ref.bucket, minio.ListObjectsOptions{
			Prefix:    ref.dirKey(path),
			Recursive: true,
		}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			select {
			case objectsCh <- object:
				count++
			case <-ctx.Done():
				return
			}
		}
	}()

	var firstErr error
	for rerr := range ref.client.RemoveObjects(ctx, ref.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil && firstErr == nil {
			firstErr = rerr.Err
		}
	}
	cancel()
	<-done

	switch {
	case listErr != nil:
		return p.translate(listErr, path)
	case firstErr != nil:
		return p.translate(firstErr, path)
	case count == 0:
		return storageerr.Newf(storageerr.KindEntityNotFound, "%s does not exist", path)
	}
	p.logger.Debug("s3 delete folder", "bucket", ref.bucket, "path", path, "objects", count)
	return nil
}

// statFile resolves path to an existing object.
func (p *Provider) statFile(ctx context.Context, ref bucketRef, path string) (minio.ObjectInfo, error) {
	if err := paths.Validate(path); err != nil {
		return minio.ObjectInfo{}, err
	}
	if paths.IsRoot(path) || paths.IsFolder(path) {
		return minio.ObjectInfo{}, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder path", path)
	}

	info, err := ref.client.StatObject(ctx, ref.bucket, ref.objectKey(path), minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return minio.ObjectInfo{}, p.translate(err, path)
	}

	isFolder, ferr := p.folderExists(ctx, ref, path)
	if ferr != nil {
		return minio.ObjectInfo{}, ferr
	}
	if isFolder {
		return minio.ObjectInfo{}, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder", path)
	}
	return minio.ObjectInfo{}, p.translate(err, path)
}

func (p *Provider) objectExists(ctx context.Context, ref bucketRef, path string) (bool, error) {
	_, err := ref.client.StatObject(ctx, ref.bucket, ref.objectKey(path), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, p.translate(err, path)
}

func (p *Provider) folderExists(ctx context.Context, ref bucketRef, path string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for object := range ref.client.ListObjects(ctx, ref.bucket, minio.ListObjectsOptions{
		Prefix:  ref.dirKey(path),
		MaxKeys: 1,
	}) {
		if object.Err != nil {
			return false, p.translate(object.Err, path)
		}
		return true, nil
	}
	return false, nil
}

// checkAncestors fails when an ancestor folder of path exists as an object.
func (p *Provider) checkAncestors(ctx context.Context, ref bucketRef, path string) error {
	for parent := paths.Parent(path); parent != "" && !paths.IsRoot(parent); parent = paths.Parent(parent) {
		isFile, err := p.objectExists(ctx, ref, parent)
		if err != nil {
			return err
		}
		if isFile {
			return storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", paths.AsFile(parent))
		}
	}
	return nil
}

// translate maps S3 error codes onto storage error kinds.
func (p *Provider) translate(err error, path string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return storageerr.Wrapf(err, storageerr.KindEntityNotFound, "%s does not exist", path)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		p.logger.Warn("s3 credential rejected", "code", minio.ToErrorResponse(err).Code)
		return storageerr.Wrap(err, storageerr.KindCredentialsError, "s3 rejected the credential")
	case "PreconditionFailed":
		return storageerr.Wrapf(err, storageerr.KindInvalidRevision, "%s changed", path)
	default:
		return storageerr.Wrapf(err, storageerr.KindBackendFailure, "s3 %s", path)
	}
}

// fileFromUpload describes the object a PUT created. The entity comes
// from the PUT response itself so a later writer cannot leak into it.
func fileFromUpload(path string, info minio.UploadInfo) model.File {
	filePath := paths.AsFile(path)
	f := model.NewFile(paths.Name(filePath), filePath, paths.Parent(filePath), info.Size)
	mod := info.LastModified
	if mod.IsZero() {
		// A single-part PUT response carries no Last-Modified.
		mod = time.Now().UTC().Truncate(time.Second)
	}
	f.ModificationDate = &mod
	f.Revision = model.Revision(strings.Trim(info.ETag, `"`))
	return f
}

func fileFromObject(path string, info minio.ObjectInfo) model.File {
	filePath := paths.AsFile(path)
	f := model.NewFile(paths.Name(filePath), filePath, paths.Parent(filePath), info.Size)
	if !info.LastModified.IsZero() {
		mod := info.LastModified
		f.ModificationDate = &mod
	}
	f.Revision = model.Revision(strings.Trim(info.ETag, `"`))
	return f
}
