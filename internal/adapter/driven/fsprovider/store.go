// Package fsprovider implements storage providers over go-billy
// filesystems: an isolated in-memory variant and a variant bound to a
// directory on the host.
package fsprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/go-git/go-billy/v5"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/paths"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
	"github.com/ericfisherdev/storageio/internal/secureid"
)

// tmpPrefix marks in-flight writes. Entries with this prefix are hidden
// from listings.
const tmpPrefix = ".storageio-tmp-"

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// store serializes access to one billy filesystem. Reads share the lock;
// writes and deletes hold it exclusively so that a revision check and the
// write it guards happen atomically.
type store struct {
	mu   sync.RWMutex
	fs   billy.Filesystem
	root string // billy path of the storage root: "/" for memfs, "." for bound osfs
}

func newStore(fs billy.Filesystem, root string) *store {
	return &store{fs: fs, root: root}
}

// loc maps a storage path to the billy path.
func (s *store) loc(p string) string {
	t := paths.Trim(paths.Clean(p))
	if t == "" {
		return s.root
	}
	if s.root == paths.Separator {
		return paths.Separator + t
	}
	return t
}

func (s *store) list(_ context.Context, p string) (*model.Folder, error) {
	if err := paths.Validate(p); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc := s.loc(p)
	root := paths.IsRoot(p)
	if !root {
		info, err := s.fs.Stat(loc)
		if err != nil {
			return nil, translate(err, p)
		}
		if !info.IsDir() {
			return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", p)
		}
	}

	infos, err := s.fs.ReadDir(loc)
	if err != nil && !(root && os.IsNotExist(err)) {
		return nil, translate(err, p)
	}

	folderPath := paths.AsFolder(p)
	folder := model.NewFolder(paths.Name(folderPath), folderPath, paths.Parent(folderPath))
	slices.SortFunc(infos, func(a, b os.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })

	for _, info := range infos {
		name := info.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		child := paths.Join(folderPath, name)
		if info.IsDir() {
			folder.Folders = append(folder.Folders, model.NewFolder(name, paths.AsFolder(child), folderPath))
			continue
		}
		f := model.NewFile(name, child, folderPath, info.Size())
		mod := info.ModTime()
		f.ModificationDate = &mod
		folder.Files = append(folder.Files, f)
	}
	return &folder, nil
}

func (s *store) exists(_ context.Context, p string) (bool, error) {
	if err := paths.Validate(p); err != nil {
		return false, err
	}
	if paths.IsRoot(p) {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.fs.Stat(s.loc(p))
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err):
		return false, nil
	default:
		return false, translate(err, p)
	}
}

func (s *store) meta(_ context.Context, p string) (*model.File, error) {
	if err := paths.Validate(p); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.statFile(p)
	if err != nil {
		return nil, err
	}
	rev, err := s.revision(s.loc(p))
	if err != nil {
		return nil, translate(err, p)
	}
	f := s.fileEntity(p, info)
	f.Revision = rev
	return &f, nil
}

func (s *store) read(_ context.Context, p string, w io.Writer) error {
	if err := paths.Validate(p); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.statFile(p); err != nil {
		return err
	}
	f, err := s.fs.Open(s.loc(p))
	if err != nil {
		return translate(err, p)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		return storageerr.Wrapf(err, storageerr.KindBackendFailure, "read %s", p)
	}
	return nil
}

func (s *store) write(_ context.Context, p string, r io.Reader, expected model.Revision) (*model.File, error) {
	if err := paths.Validate(p); err != nil {
		return nil, err
	}
	if paths.IsFolder(p) {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder path", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAncestors(p); err != nil {
		return nil, err
	}

	loc := s.loc(p)
	info, err := s.fs.Stat(loc)
	exists := err == nil
	switch {
	case exists && info.IsDir():
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a folder", p)
	case err != nil && !isNotExist(err):
		return nil, translate(err, p)
	}

	if expected != model.AnyRevision {
		if !exists {
			return nil, storageerr.Newf(storageerr.KindInvalidRevision, "%s does not exist, expected revision %s", p, expected)
		}
		current, err := s.revision(loc)
		if err != nil {
			return nil, translate(err, p)
		}
		if current != expected {
			return nil, storageerr.Newf(storageerr.KindInvalidRevision, "%s is at revision %s, expected %s", p, current, expected)
		}
	}

	parent := s.loc(paths.Parent(p))
	if err := s.fs.MkdirAll(parent, dirMode); err != nil {
		return nil, storageerr.Wrapf(err, storageerr.KindBackendFailure, "create parent of %s", p)
	}

	rev, err := s.replace(parent, loc, r)
	if err != nil {
		return nil, storageerr.Wrapf(err, storageerr.KindBackendFailure, "write %s", p)
	}

	info, err = s.fs.Stat(loc)
	if err != nil {
		return nil, translate(err, p)
	}
	f := s.fileEntity(p, info)
	f.Revision = rev
	return &f, nil
}

// replace writes r to a temp file next to loc and renames it over loc, so
// a failed write never leaves partial content at loc. It returns the
// revision of the new content.
func (s *store) replace(dir, loc string, r io.Reader) (model.Revision, error) {
	suffix, err := secureid.New()
	if err != nil {
		return "", err
	}
	tmp := path.Join(dir, tmpPrefix+suffix)

	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	if err := s.fs.Rename(tmp, loc); err != nil {
		_ = s.fs.Remove(tmp)
		return "", err
	}
	return model.Revision(hex.EncodeToString(h.Sum(nil))), nil
}

func (s *store) delete(_ context.Context, p string) error {
	if err := paths.Validate(p); err != nil {
		return err
	}
	if paths.IsRoot(p) {
		return storageerr.New(storageerr.KindInvalidEntityPath, "the root folder cannot be deleted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc(p)
	if _, err := s.fs.Stat(loc); err != nil {
		return translate(err, p)
	}
	if err := s.removeAll(loc); err != nil {
		return storageerr.Wrapf(err, storageerr.KindBackendFailure, "delete %s", p)
	}
	return nil
}

// removeAll removes loc and, for a directory, everything below it.
func (s *store) removeAll(loc string) error {
	info, err := s.fs.Stat(loc)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		entries, err := s.fs.ReadDir(loc)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := s.removeAll(path.Join(loc, e.Name())); err != nil {
				return err
			}
		}
	}
	return s.fs.Remove(loc)
}

// statFile resolves p to an existing regular file.
func (s *store) statFile(p string) (os.FileInfo, error) {
	if paths.IsRoot(p) {
		return nil, storageerr.New(storageerr.KindInvalidEntityPath, "the root is a folder")
	}
	info, err := s.fs.Stat(s.loc(p))
	if err != nil {
		return nil, translate(err, p)
	}
	if info.IsDir() || paths.IsFolder(p) {
		return nil, storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is not a file", p)
	}
	return info, nil
}

// checkAncestors fails when any ancestor folder of p exists as a file.
func (s *store) checkAncestors(p string) error {
	for parent := paths.Parent(p); parent != "" && !paths.IsRoot(parent); parent = paths.Parent(parent) {
		info, err := s.fs.Stat(s.loc(parent))
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return translate(err, parent)
		}
		if !info.IsDir() {
			return storageerr.Newf(storageerr.KindInvalidEntityPath, "%s is a file", paths.AsFile(parent))
		}
	}
	return nil
}

func (s *store) revision(loc string) (model.Revision, error) {
	f, err := s.fs.Open(loc)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return model.Revision(hex.EncodeToString(h.Sum(nil))), nil
}

func (s *store) fileEntity(p string, info os.FileInfo) model.File {
	filePath := paths.AsFile(p)
	f := model.NewFile(paths.Name(filePath), filePath, paths.Parent(filePath), info.Size())
	mod := info.ModTime()
	f.ModificationDate = &mod
	return f
}

// isNotExist also treats ENOTDIR as absence: a path below a file does not
// exist.
func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// translate maps filesystem errors onto storage error kinds.
func translate(err error, p string) error {
	switch {
	case isNotExist(err):
		return storageerr.Wrapf(err, storageerr.KindEntityNotFound, "%s does not exist", p)
	case errors.Is(err, os.ErrPermission):
		return storageerr.Wrapf(err, storageerr.KindCredentialsError, "access to %s denied", p)
	default:
		return storageerr.Wrapf(err, storageerr.KindBackendFailure, "access %s", p)
	}
}
