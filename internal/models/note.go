// Package models defines the domain types for Raido.
package models

import (
	"time"

	"gopkg.in/yaml.v3"
)

// WikiRef is one [[target]] or ![[target]] occurrence in a note body.
// Start and End are byte offsets into Note.Body covering the whole
// bracketed expression, including the leading "!" for embeds.
type WikiRef struct {
	Target   string `json:"target"`
	Display  string `json:"display,omitempty"`
	Fragment string `json:"fragment,omitempty"`
	Embed    bool   `json:"embed,omitempty"`
	Start    int    `json:"-"`
	End      int    `json:"-"`
}

// Callout is one callout block (> [!kind] Title, plus contiguous quoted lines).
type Callout struct {
	Kind      string   `json:"kind"`
	Title     string   `json:"title,omitempty"`
	BodyLines []string `json:"body_lines,omitempty"`
	Start     int      `json:"-"`
	End       int      `json:"-"`
}

// InlineTag is one body #tag occurrence. The span covers the "#" and
// the tag word so the token can be stripped in place.
type InlineTag struct {
	Name  string `json:"name"`
	Start int    `json:"-"`
	End   int    `json:"-"`
}

// Note is a parsed source document. Body is byte-for-byte the text
// after the front-matter block (or the whole file when there is none);
// all spans index into it and never overlap.
type Note struct {
	Path string `json:"path"`

	// Meta is the front-matter mapping node, order-preserving, or nil
	// when the document has no (or an unparsable) front-matter block.
	Meta        *yaml.Node `json:"-"`
	MetaInvalid bool       `json:"meta_invalid,omitempty"`

	Body     string      `json:"body"`
	Title    string      `json:"title,omitempty"`
	Aliases  []string    `json:"aliases,omitempty"`
	MetaTags []string    `json:"meta_tags,omitempty"`
	Refs     []WikiRef   `json:"refs,omitempty"`
	Callouts []Callout   `json:"callouts,omitempty"`
	Tags     []InlineTag `json:"tags,omitempty"`

	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"mod_time"`
}

// Stem returns the file name without directories or extension.
func (n *Note) Stem() string {
	p := n.Path
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			p = p[i+1:]
			break
		}
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '.' {
			return p[:i]
		}
	}
	return p
}

// Document is the transformed output for one note, immutable once
// produced. Meta is the merged front-matter mapping, or nil when the
// output carries no front matter at all.
type Document struct {
	SourcePath string     `json:"source_path"`
	OutputPath string     `json:"output_path"`
	Meta       *yaml.Node `json:"-"`
	Body       string     `json:"body"`
}

// ChangeKind classifies an incremental change event.
type ChangeKind string

// Change kinds.
const (
	Created  ChangeKind = "created"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

// ChangeEvent is one entry of the incremental input feed.
type ChangeEvent struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// DiagnosticKind classifies a conversion diagnostic.
type DiagnosticKind string

// Diagnostic kinds. None of these is fatal: the affected document is
// still emitted, with the offending construct left untouched.
const (
	DiagUnresolved DiagnosticKind = "unresolved"
	DiagAmbiguous  DiagnosticKind = "ambiguous"
	DiagStructural DiagnosticKind = "structural"
	DiagConflict   DiagnosticKind = "conflict"
)

// Diagnostic is one structured record of the diagnostics stream.
type Diagnostic struct {
	Kind       DiagnosticKind `json:"kind"`
	Path       string         `json:"path"`
	Detail     string         `json:"detail"`
	Candidates []string       `json:"candidates,omitempty"`
}

// Stats summarizes one conversion pass.
type Stats struct {
	Documents      int           `json:"documents"`
	Converted      int           `json:"converted"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	LinksConverted int           `json:"links_converted"`
	Attachments    int           `json:"attachments"`
	Diagnostics    int           `json:"diagnostics"`
	Elapsed        time.Duration `json:"elapsed"`
}

// FileMeta is a lightweight listing entry returned by storage providers.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
