package model

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Revision is an opaque backend-issued token identifying one version of a
// file's content.
type Revision string

// AnyRevision requests an unconditional write.
const AnyRevision Revision = ""

// RootPath is the path of every storage's root folder.
const RootPath = "/"

// File describes a stored file. Size and HumanReadableSize are always set
// on read and write results; Revision may be empty in folder listings.
type File struct {
	Name              string     `json:"name"`
	Path              string     `json:"path"`
	ParentPath        string     `json:"parent_path,omitempty"`
	CreationDate      *time.Time `json:"creation_date,omitempty"`
	ModificationDate  *time.Time `json:"modification_date,omitempty"`
	Size              int64      `json:"size"`
	HumanReadableSize string     `json:"human_readable_size"`
	Revision          Revision   `json:"revision,omitempty"`
}

// Folder describes a stored folder and, after a listing, its immediate
// children.
type Folder struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	ParentPath string   `json:"parent_path,omitempty"`
	Files      []File   `json:"files"`
	Folders    []Folder `json:"folders"`
}

// HumanSize renders n bytes in SI units ("0 B", "1.5 kB").
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// NewFile builds a File with both size fields populated.
func NewFile(name, path, parent string, size int64) File {
	return File{
		Name:              name,
		Path:              path,
		ParentPath:        parent,
		Size:              size,
		HumanReadableSize: HumanSize(size),
	}
}

// NewFolder builds an empty Folder with non-nil child slices.
func NewFolder(name, path, parent string) Folder {
	return Folder{
		Name:       name,
		Path:       path,
		ParentPath: parent,
		Files:      []File{},
		Folders:    []Folder{},
	}
}
