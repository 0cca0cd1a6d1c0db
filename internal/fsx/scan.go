package fsx

import (
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry describes one filesystem entry as exposed to clients.
type Entry struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Size        int64   `json:"size"`
	Mtime       float64 `json:"mtime"`
	IsDirectory bool    `json:"is_directory"`
	IsSymlink   bool    `json:"is_symlink"`
	Permissions string  `json:"permissions,omitempty"`
	MimeType    string  `json:"mime_type,omitempty"`
}

// Listing is a scanned directory.
type Listing struct {
	Path   string  `json:"path"`
	Parent string  `json:"parent,omitempty"`
	Files  []Entry `json:"files"`
	Total  int     `json:"total"`
}

// ScanOptions controls ListDirectory.
type ScanOptions struct {
	ShowHidden bool
	SortBy     string // name, size, mtime
	SortDesc   bool
}

// ListDirectory reads one level of the directory at clientPath.
// Entries whose metadata cannot be read are skipped rather than
// failing the listing.
func (r *Resolver) ListDirectory(clientPath string, opts ScanOptions) (*Listing, error) {
	abs, err := r.ResolveDir(clientPath)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, statErr(err, clientPath)
	}

	files := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()
		if !opts.ShowHidden && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		files = append(files, r.entryFromInfo(filepath.Join(abs, name), info))
	}

	sortEntries(files, opts.SortBy, opts.SortDesc)

	l := &Listing{
		Path:  r.Rel(abs),
		Files: files,
		Total: len(files),
	}
	if abs != r.root {
		l.Parent = r.Rel(filepath.Dir(abs))
	}
	return l, nil
}

// Info returns metadata for a single entry.
func (r *Resolver) Info(clientPath string) (*Entry, error) {
	abs, err := r.Resolve(clientPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, statErr(err, clientPath)
	}
	e := r.entryFromInfo(abs, info)
	return &e, nil
}

func (r *Resolver) entryFromInfo(abs string, info fs.FileInfo) Entry {
	e := Entry{
		Name:        info.Name(),
		Path:        r.Rel(abs),
		Size:        info.Size(),
		Mtime:       float64(info.ModTime().UnixNano()) / 1e9,
		IsDirectory: info.IsDir(),
		IsSymlink:   info.Mode()&fs.ModeSymlink != 0,
		Permissions: permString(info.Mode()),
	}
	if info.Mode().IsRegular() {
		e.MimeType = mime.TypeByExtension(filepath.Ext(abs))
	}
	return e
}

func sortEntries(files []Entry, by string, desc bool) {
	var less func(a, b Entry) bool
	switch by {
	case "size":
		less = func(a, b Entry) bool { return a.Size < b.Size }
	case "mtime":
		less = func(a, b Entry) bool { return a.Mtime < b.Mtime }
	default:
		less = func(a, b Entry) bool { return a.Name < b.Name }
	}
	sort.SliceStable(files, func(i, j int) bool {
		if desc {
			return less(files[j], files[i])
		}
		return less(files[i], files[j])
	})
}

// permString renders the rwx triplet of a mode, e.g. "rwxr-xr-x".
func permString(mode fs.FileMode) string {
	const chars = "rwxrwxrwx"
	perm := mode.Perm()
	var b [9]byte
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			b[i] = chars[i]
		} else {
			b[i] = '-'
		}
	}
	return string(b[:])
}
