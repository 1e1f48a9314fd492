// Package paths implements the storage path grammar: absolute,
// slash-separated strings where a trailing slash denotes a folder.
package paths

import (
	"path"
	"strings"

	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// Separator is the path separator for every backend.
const Separator = "/"

// Kind is the syntactic classification of a path.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Validate accepts only non-empty paths starting with the separator.
func Validate(p string) error {
	if p == "" {
		return storageerr.New(storageerr.KindInvalidPathFormat, "path is empty")
	}
	if !strings.HasPrefix(p, Separator) {
		return storageerr.Newf(storageerr.KindInvalidPathFormat, "path %q must start with %q", p, Separator)
	}
	return nil
}

// ValidateStrict applies Validate and additionally restricts characters to
// alphanumerics, '.', '!' and the separator.
func ValidateStrict(p string) error {
	if err := Validate(p); err != nil {
		return err
	}
	for _, r := range p {
		if !allowed(r) {
			return storageerr.Newf(storageerr.KindInvalidPathFormat, "path %q contains disallowed character %q", p, r)
		}
	}
	return nil
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '!', r == '/':
		return true
	}
	return false
}

// Classify reports whether p names a folder (empty or trailing separator)
// or a file. It never consults a backend.
func Classify(p string) Kind {
	if IsFolder(p) {
		return KindFolder
	}
	return KindFile
}

// IsFolder reports whether p is syntactically a folder path.
func IsFolder(p string) bool {
	return p == "" || strings.HasSuffix(p, Separator)
}

// IsRoot reports whether p addresses the storage root.
func IsRoot(p string) bool {
	return Clean(p) == Separator
}

// Clean resolves "." and ".." elements and duplicate separators without
// escaping the root. The trailing separator of a folder path is preserved.
func Clean(p string) string {
	folder := IsFolder(p)
	c := path.Clean(Separator + p)
	if c != Separator && folder {
		c += Separator
	}
	return c
}

// Trim strips leading and trailing separators, yielding the key form used
// by backends whose root is the empty string.
func Trim(p string) string {
	return strings.Trim(p, Separator)
}

// Name returns the last element of p, or the separator for the root.
func Name(p string) string {
	t := Trim(Clean(p))
	if t == "" {
		return Separator
	}
	if i := strings.LastIndex(t, Separator); i >= 0 {
		return t[i+1:]
	}
	return t
}

// Parent returns the folder path containing p, with a trailing separator.
// The root has no parent and yields "".
func Parent(p string) string {
	t := Trim(Clean(p))
	if t == "" {
		return ""
	}
	i := strings.LastIndex(t, Separator)
	if i < 0 {
		return Separator
	}
	return Separator + t[:i] + Separator
}

// Join appends name to folder, producing a file path.
func Join(folder, name string) string {
	return Clean(AsFolder(folder) + strings.TrimPrefix(name, Separator))
}

// AsFolder returns p with exactly one trailing separator.
func AsFolder(p string) string {
	c := Clean(p)
	if strings.HasSuffix(c, Separator) {
		return c
	}
	return c + Separator
}

// AsFile returns p without a trailing separator. The root stays "/".
func AsFile(p string) string {
	c := Clean(p)
	if c == Separator {
		return c
	}
	return strings.TrimSuffix(c, Separator)
}
