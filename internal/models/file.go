// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultVersion is assigned to records whose origin did not report
	// a version token (unversioned buckets, local files).
	DefaultVersion = "1"

	// KindFile and KindFolder are the display classifications. Records
	// without a kind are treated as files.
	KindFile   = "File"
	KindFolder = "Folder"
)

// FileRecord is the metadata for one tracked file. Name is the identity
// in both the metadata repository and the remote listing; Path is
// informational only.
type FileRecord struct {
	Name          string    `json:"name" yaml:"name"`
	Path          string    `json:"path,omitempty" yaml:"path,omitempty"`
	Size          int64     `json:"size" yaml:"size"`
	ModifiedAt    time.Time `json:"modified_at" yaml:"modified_at"`
	Checksum      string    `json:"checksum" yaml:"checksum"`
	Version       string    `json:"version" yaml:"version"`
	ContainerName string    `json:"container" yaml:"container"`
	Kind          string    `json:"kind" yaml:"kind"`
}

// IsFolder reports whether the record describes a folder marker.
func (r FileRecord) IsFolder() bool {
	return r.Kind == KindFolder
}

// LocalName derives the object name for a file being uploaded from its
// local base name: surrounding whitespace is trimmed and the result is
// NFC so macOS (NFD) and Linux clients upload the same key. Names that
// come from a remote listing are keys already and must not pass through
// here.
func LocalName(base string) string {
	return norm.NFC.String(strings.TrimSpace(base))
}

// NormalizeTime returns t in UTC truncated to millisecond precision, the
// finest resolution every repository backend stores. The zero time stays
// zero so "absent" survives normalization.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return t.UTC().Truncate(time.Millisecond)
}

// Normalize returns a copy of r with defaults applied: millisecond UTC
// timestamp, Version "1" and Kind "File" when unset. Name is the remote
// object key and is kept byte-for-byte.
func Normalize(r FileRecord) FileRecord {
	r.ModifiedAt = NormalizeTime(r.ModifiedAt)

	if r.Version == "" {
		r.Version = DefaultVersion
	}

	if r.Kind == "" {
		r.Kind = KindFile
	}

	return r
}

// Builder assembles a FileRecord field by field.
//
//	rec := models.NewBuilder().Name("a.txt").Checksum("c1").ModifiedAt(t).Build()
type Builder struct {
	rec FileRecord
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Name(name string) *Builder {
	b.rec.Name = name
	return b
}

func (b *Builder) Path(path string) *Builder {
	b.rec.Path = path
	return b
}

func (b *Builder) Size(size int64) *Builder {
	b.rec.Size = size
	return b
}

func (b *Builder) ModifiedAt(t time.Time) *Builder {
	b.rec.ModifiedAt = t
	return b
}

func (b *Builder) Checksum(sum string) *Builder {
	b.rec.Checksum = sum
	return b
}

func (b *Builder) Version(v string) *Builder {
	b.rec.Version = v
	return b
}

func (b *Builder) Container(name string) *Builder {
	b.rec.ContainerName = name
	return b
}

func (b *Builder) Kind(kind string) *Builder {
	b.rec.Kind = kind
	return b
}

// Build returns the normalized record.
func (b *Builder) Build() FileRecord {
	return Normalize(b.rec)
}
