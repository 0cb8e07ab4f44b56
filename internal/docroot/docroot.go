// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package docroot looks up files below a document root.
package docroot

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultIndex is served for requests naming a directory.
const DefaultIndex = "index.html"

// ErrNotRegularFile is returned by Read when the path does not name a file.
var ErrNotRegularFile = errors.New("docroot: not a regular file")

// Dir serves files from a fs.FS.
type Dir struct {
	fsys  fs.FS
	index string
	types map[string]string
}

// Option configures a Dir.
type Option func(*Dir)

// Index overrides the file served for directory paths.
func Index(name string) Option {
	return func(d *Dir) {
		d.index = name
	}
}

// MimeType registers, or overrides, the content type for a file extension.
// The leading dot is optional so ".md" and "md" are the same extension.
func MimeType(ext, contentType string) Option {
	return func(d *Dir) {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		d.types[ext] = contentType
	}
}

// New returns a Dir over fsys.
func New(fsys fs.FS, opts ...Option) *Dir {
	d := &Dir{
		fsys:  fsys,
		index: DefaultIndex,
		types: make(map[string]string, len(registeredTypes)),
	}
	for ext, typ := range registeredTypes {
		d.types[ext] = typ
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open returns a Dir rooted at the given directory on the local filesystem.
func Open(root string, opts ...Option) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: root, Err: errors.New("not a directory")}
	}
	return New(os.DirFS(root), opts...), nil
}

// resolve maps a rooted request path to a fs.FS name, substituting the
// index file for directories.
func (d *Dir) resolve(p string) (string, bool) {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", false
	}

	info, err := fs.Stat(d.fsys, name)
	if err != nil {
		return "", false
	}
	if !info.IsDir() {
		return name, info.Mode().IsRegular()
	}

	name = path.Join(name, d.index)
	info, err = fs.Stat(d.fsys, name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return name, true
}

// Exists reports whether p resolves to a regular file.
func (d *Dir) Exists(p string) bool {
	_, ok := d.resolve(p)
	return ok
}

// Read returns the full contents of the file p resolves to.
func (d *Dir) Read(p string) ([]byte, error) {
	name, ok := d.resolve(p)
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: ErrNotRegularFile}
	}
	return fs.ReadFile(d.fsys, name)
}

// MimeType returns the content type for p. Registered extensions win;
// otherwise the first bytes of the file are sniffed.
func (d *Dir) MimeType(p string) string {
	name, found := d.resolve(p)
	if !found {
		name = p
	}
	if typ, ok := d.types[strings.ToLower(path.Ext(name))]; ok {
		return typ
	}
	if !found {
		return defaultType
	}
	return d.sniff(name)
}

const (
	defaultType = "application/octet-stream"
	sniffLen    = 3072
)

func (d *Dir) sniff(name string) string {
	f, err := d.fsys.Open(name)
	if err != nil {
		return defaultType
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return defaultType
	}
	return mimetype.Detect(head[:n]).String()
}

var registeredTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".pdf":   "application/pdf",
	".wasm":  "application/wasm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".mp4":   "video/mp4",
}
