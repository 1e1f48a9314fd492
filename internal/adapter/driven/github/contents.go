package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"

	gh "github.com/google/go-github/v82/github"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/paths"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// Compile-time interface satisfaction check.
var _ driven.Provider = (*Provider)(nil)

// listConcurrency bounds parallel directory listings when collecting a
// folder's files for deletion.
const listConcurrency = 4

const (
	typeDir       = "dir"
	typeSubmodule = "submodule"
)

// ListFolderContents lists one directory of the branch. An empty
// repository lists as an empty root.
func (p *Provider) ListFolderContents(ctx context.Context, cred model.Credential, path string) (*model.Folder, error) {
	ref, err := resolve(cred)
	if err != nil {
		return nil, err
	}
	if err := paths.Validate(path); err != nil {
		return nil, err
	}

	folderPath := paths.AsFolder(path)
	folder := model.NewFolder(paths.Name(folderPath), folderPath, paths.Parent(folderPath))

	file, entries, err := p.getContents(ctx, ref, path, "list")
	if err != nil {
		if paths.IsRoot(path) && storageerr.IsKind(err, storageerr.KindEntityNotFound) {
			return &folder, nil
		}
		return nil, err
	}
	if file != nil {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", path)
	}

	slices.SortFunc(entries, func(a, b *gh.RepositoryContent) int {
		return strings.Compare(a.GetName(), b.GetName())
	})
	for _, e := range entries {
		child := paths.Join(folderPath, e.GetName())
		switch e.GetType() {
		case typeDir:
			folder.Folders = append(folder.Folders, model.NewFolder(e.GetName(), paths.AsFolder(child), folderPath))
		case typeSubmodule:
			continue
		default:
			f := model.NewFile(e.GetName(), child, folderPath, int64(e.GetSize()))
			f.Revision = model.Revision(e.GetSHA())
			folder.Files = append(folder.Files, f)
		}
	}
	return &folder, nil
}

func (p *Provider) Exists(ctx context.Context, cred model.Credential, path string) (bool, error) {
	ref, err := resolve(cred)
	if err != nil {
		return false, err
	}
	if err := paths.Validate(path); err != nil {
		return false, err
	}
	if paths.IsRoot(path) {
		return true, nil
	}

	_, _, err = p.getContents(ctx, ref, path, "exists")
	switch {
	case err == nil:
		return true, nil
	case storageerr.IsKind(err, storageerr.KindEntityNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p *Provider) ReadFileMeta(ctx context.Context, cred model.Credential, path string) (*model.File, error) {
	ref, err := resolve(cred)
	if err != nil {
		return nil, err
	}
	content, err := p.getFile(ctx, ref, path, "meta")
	if err != nil {
		return nil, err
	}
	f := fileEntity(path, int64(content.GetSize()), content.GetSHA())
	return &f, nil
}

// ReadFile streams the file into w. Files too large for the contents API
// to inline are fetched through the git blobs API.
func (p *Provider) ReadFile(ctx context.Context, cred model.Credential, path string, w io.Writer) error {
	ref, err := resolve(cred)
	if err != nil {
		return err
	}
	content, err := p.getFile(ctx, ref, path, "read")
	if err != nil {
		return err
	}

	var data []byte
	if text, err := content.GetContent(); err == nil && (content.GetSize() == 0 || text != "") {
		data = []byte(text)
	} else {
		raw, resp, err := p.clientFor(ref.token).Git.GetBlobRaw(ctx, ref.owner, ref.repo, content.GetSHA())
		p.logRateLimit(resp, "blob", path)
		if err != nil {
			return p.translate(ref, err, path)
		}
		data = raw
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return storageerr.Wrapf(err, storageerr.KindBackendFailure, "copy %s", path)
	}
	return nil
}

// WriteFile commits r to path. GitHub rejects an update whose SHA is not
// the current blob SHA, which makes the revision check atomic.
func (p *Provider) WriteFile(ctx context.Context, cred model.Credential, path string, r io.Reader, expected model.Revision) (*model.File, error) {
	ref, err := resolve(cred)
	if err != nil {
		return nil, err
	}
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	if paths.IsFolder(path) {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder path", path)
	}

	current, _, err := p.getContents(ctx, ref, path, "stat")
	exists := err == nil
	switch {
	case err != nil && !storageerr.IsKind(err, storageerr.KindEntityNotFound):
		return nil, err
	case exists && current == nil:
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder", path)
	}
	if !exists {
		if err := p.checkAncestors(ctx, ref, path); err != nil {
			return nil, err
		}
	}

	var sha *string
	if exists {
		sha = current.SHA
	}
	if expected != model.AnyRevision {
		if !exists || current.GetSHA() != string(expected) {
			return nil, storageerr.Newf(storageerr.KindInvalidRevision, "%s is not at revision %s", path, expected)
		}
		sha = gh.Ptr(string(expected))
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storageerr.Wrapf(err, storageerr.KindBackendFailure, "read source for %s", path)
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr("storageio: write " + paths.AsFile(path)),
		Content: data,
		SHA:     sha,
	}
	if ref.branch != "" {
		opts.Branch = gh.Ptr(ref.branch)
	}

	c := p.clientFor(ref.token)
	var (
		res  *gh.RepositoryContentResponse
		resp *gh.Response
	)
	if sha == nil {
		res, resp, err = c.Repositories.CreateFile(ctx, ref.owner, ref.repo, key(path), opts)
	} else {
		res, resp, err = c.Repositories.UpdateFile(ctx, ref.owner, ref.repo, key(path), opts)
	}
	p.logRateLimit(resp, "write", path)
	if err != nil {
		status := statusOf(err)
		switch {
		case status == http.StatusConflict && expected != model.AnyRevision:
			return nil, storageerr.Wrapf(err, storageerr.KindInvalidRevision, "%s changed concurrently", path)
		case status == http.StatusConflict:
			return nil, storageerr.Wrapf(err, storageerr.KindBackendFailure, "%s changed concurrently", path)
		case status == http.StatusUnprocessableEntity && expected != model.AnyRevision:
			// The blob named by the SHA is gone from the branch.
			return nil, storageerr.Wrapf(err, storageerr.KindInvalidRevision, "%s is not at revision %s", path, expected)
		}
		return nil, p.translate(ref, err, path)
	}

	f := fileEntity(path, int64(len(data)), res.GetContent().GetSHA())
	if date := res.Commit.GetCommitter().GetDate(); !date.IsZero() {
		t := date.Time
		f.ModificationDate = &t
	}
	return &f, nil
}

// Delete removes a file, or every file below a folder, one commit per
// file. Commits move the branch head, so they run sequentially.
func (p *Provider) Delete(ctx context.Context, cred model.Credential, path string) error {
	ref, err := resolve(cred)
	if err != nil {
		return err
	}
	if err := paths.Validate(path); err != nil {
		return err
	}
	if paths.IsRoot(path) {
		return storageerr.New(storageerr.KindInvalidEntityPath, "the root folder cannot be deleted")
	}

	file, _, err := p.getContents(ctx, ref, path, "stat")
	if err != nil {
		return err
	}

	targets := []*gh.RepositoryContent{file}
	if file == nil {
		targets, err = p.collectFiles(ctx, ref, key(path))
		if err != nil {
			return err
		}
	}

	c := p.clientFor(ref.token)
	for _, t := range targets {
		opts := &gh.RepositoryContentFileOptions{
			Message: gh.Ptr("storageio: delete /" + t.GetPath()),
			SHA:     t.SHA,
		}
		if ref.branch != "" {
			opts.Branch = gh.Ptr(ref.branch)
		}
		_, resp, err := c.Repositories.DeleteFile(ctx, ref.owner, ref.repo, t.GetPath(), opts)
		p.logRateLimit(resp, "delete", "/"+t.GetPath())
		if err != nil {
			return p.translate(ref, err, "/"+t.GetPath())
		}
	}
	return nil
}

// collectFiles walks a directory breadth-first, listing each level's
// subdirectories in parallel, and returns every file below it sorted by
// path.
func (p *Provider) collectFiles(ctx context.Context, ref repoRef, dir string) ([]*gh.RepositoryContent, error) {
	var (
		mu    sync.Mutex
		files []*gh.RepositoryContent
	)

	level := []string{dir}
	for len(level) > 0 {
		var next []string
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(listConcurrency)

		for _, d := range level {
			g.Go(func() error {
				_, entries, err := p.getContents(gctx, ref, "/"+d, "walk")
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for _, e := range entries {
					switch e.GetType() {
					case typeDir:
						next = append(next, e.GetPath())
					case typeSubmodule:
					default:
						files = append(files, e)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = next
	}

	slices.SortFunc(files, func(a, b *gh.RepositoryContent) int {
		return strings.Compare(a.GetPath(), b.GetPath())
	})
	return files, nil
}

// getFile resolves path to a file entry.
func (p *Provider) getFile(ctx context.Context, ref repoRef, path, op string) (*gh.RepositoryContent, error) {
	if err := paths.Validate(path); err != nil {
		return nil, err
	}
	if paths.IsRoot(path) {
		return nil, storageerr.New(storageerr.KindInvalidEntityPath, "the root is a folder")
	}
	file, _, err := p.getContents(ctx, ref, path, op)
	if err != nil {
		return nil, err
	}
	if file == nil || paths.IsFolder(path) {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is not a file", path)
	}
	return file, nil
}

// getContents fetches path on the credential's branch. Exactly one of the
// returned file and entries is non-nil on success.
func (p *Provider) getContents(ctx context.Context, ref repoRef, path, op string) (*gh.RepositoryContent, []*gh.RepositoryContent, error) {
	var opts *gh.RepositoryContentGetOptions
	if ref.branch != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: ref.branch}
	}

	file, entries, resp, err := p.clientFor(ref.token).Repositories.GetContents(ctx, ref.owner, ref.repo, key(path), opts)
	p.logRateLimit(resp, op, path)
	if err != nil {
		return nil, nil, p.translate(ref, err, path)
	}
	if file == nil && entries == nil {
		entries = []*gh.RepositoryContent{}
	}
	return file, entries, nil
}

// translate maps go-github errors onto storage error kinds. A 401 also
// evicts the cached client for the token.
func (p *Provider) translate(ref repoRef, err error, path string) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return storageerr.Wrap(err, storageerr.KindBackendFailure, "github rate limit exceeded")
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized:
			p.expire(ref.token)
			return storageerr.Wrap(err, storageerr.KindCredentialsError, "github rejected the token")
		case http.StatusForbidden:
			return storageerr.Wrapf(err, storageerr.KindCredentialsError, "no access to %s/%s", ref.owner, ref.repo)
		case http.StatusNotFound:
			return storageerr.Wrapf(err, storageerr.KindEntityNotFound, "%s does not exist", path)
		}
	}
	return storageerr.Wrap(err, storageerr.KindBackendFailure, fmt.Sprintf("github %s", path))
}

// checkAncestors fails when an ancestor folder of path exists as a file.
// The walk stops at the first ancestor that is a folder.
func (p *Provider) checkAncestors(ctx context.Context, ref repoRef, path string) error {
	for parent := paths.Parent(path); parent != "" && !paths.IsRoot(parent); parent = paths.Parent(parent) {
		file, _, err := p.getContents(ctx, ref, parent, "stat")
		switch {
		case storageerr.IsKind(err, storageerr.KindEntityNotFound):
			continue
		case err != nil:
			return err
		case file != nil:
			return storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", paths.AsFile(parent))
		default:
			return nil
		}
	}
	return nil
}

// statusOf returns the HTTP status of a go-github error response, or 0.
func statusOf(err error) int {
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return 0
	}
	return ghErr.Response.StatusCode
}

// key converts a storage path to a repository-relative content path.
func key(path string) string {
	return paths.Trim(paths.Clean(path))
}

func fileEntity(path string, size int64, sha string) model.File {
	filePath := paths.AsFile(path)
	f := model.NewFile(paths.Name(filePath), filePath, paths.Parent(filePath), size)
	f.Revision = model.Revision(sha)
	return f
}
