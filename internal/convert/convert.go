// Package convert orchestrates a conversion pass: scan the vault,
// parse every document, build the link resolution map, then transform
// each note against the completed map. Indexing always finishes before
// transformation starts, so a note appearing late in traversal order
// is just as resolvable as an early one. ApplyBatch re-runs a minimal
// subset for watch-mode change events.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/hugo"
	"github.com/starford/raido/internal/linkmap"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/storage"
)

// Phase names reported by Status.
const (
	PhaseIdle         = "idle"
	PhaseScanning     = "scanning"
	PhaseIndexing     = "indexing"
	PhaseTransforming = "transforming"
	PhasePending      = "pending"
)

// EventCallback is notified after a document is converted or removed.
// kind is "converted" or "removed".
type EventCallback func(kind, path string)

// Options configure a Converter.
type Options struct {
	Wikilinks            bool
	Tags                 bool
	Attachments          bool
	TOC                  bool
	TocMaxDepth          int
	PreserveFrontMatter  bool
	AttachmentExtensions []string
	FlattenAttachments   bool
	Workers              int
}

// Status is a snapshot of the converter for the status API.
type Status struct {
	Phase     string       `json:"phase"`
	Documents int          `json:"documents"`
	LastRun   models.Stats `json:"last_run"`
}

// Converter owns the link resolution map and drives conversion
// passes. The map is mutated only under the single-writer discipline
// of Run and ApplyBatch; transformation phases read it concurrently.
type Converter struct {
	opts    Options
	vault   storage.Provider
	content storage.Provider
	static  storage.Provider
	db      state.Store
	logger  *slog.Logger
	cb      EventCallback

	links  *linkmap.Map
	attach *hugo.AttachmentResolver
	tr     *hugo.Transformer

	mu     sync.Mutex
	notes  map[string]*models.Note
	phase  string
	last   models.Stats
}

// New creates a Converter. cb may be nil.
func New(opts Options, vault, content, static storage.Provider, db state.Store, logger *slog.Logger, cb EventCallback) *Converter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	links := linkmap.New()
	attach := hugo.NewAttachmentResolver(opts.AttachmentExtensions, opts.FlattenAttachments)
	return &Converter{
		opts:    opts,
		vault:   vault,
		content: content,
		static:  static,
		db:      db,
		logger:  logger,
		cb:      cb,
		links:   links,
		attach:  attach,
		tr: hugo.New(hugo.Options{
			Wikilinks:           opts.Wikilinks,
			Tags:                opts.Tags,
			Attachments:         opts.Attachments,
			TOC:                 opts.TOC,
			TocMaxDepth:         opts.TocMaxDepth,
			PreserveFrontMatter: opts.PreserveFrontMatter,
		}, links, attach),
		notes: make(map[string]*models.Note),
		phase: PhaseIdle,
	}
}

// Status returns a snapshot for observers.
func (c *Converter) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Phase: c.phase, Documents: len(c.notes), LastRun: c.last}
}

// ResolveLink resolves a raw wikilink target against the current map.
// Exposed for the status API and the MCP tools.
func (c *Converter) ResolveLink(target string) linkmap.Outcome {
	return c.links.Resolve(target)
}

// Preview converts a single vault document against the current map
// without writing anything or touching state. The vault file is read
// fresh, so unsaved index entries for it do not matter.
func (c *Converter) Preview(path string) ([]byte, []models.Diagnostic, error) {
	n, err := c.parseNote(path, c.statModTime(path))
	if err != nil {
		return nil, nil, err
	}
	doc, diags := c.tr.Transform(n)
	data, err := hugo.Marshal(doc)
	if err != nil {
		return nil, diags, err
	}
	return data, diags, nil
}

func (c *Converter) setPhase(p string) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Run performs a full conversion pass: scan, parse, index, transform,
// copy attachments. Individual bad documents produce diagnostics and
// never abort the run; the returned error covers fatal conditions only
// (unreadable vault, cancellation).
func (c *Converter) Run(ctx context.Context) (models.Stats, error) {
	start := time.Now()
	var stats models.Stats
	defer c.setPhase(PhaseIdle)

	// --- Scanning ---
	c.setPhase(PhaseScanning)
	metas, err := c.vault.List("", "md")
	if err != nil {
		return stats, fmt.Errorf("convert: scan vault: %w", err)
	}
	stats.Documents = len(metas)

	notes, failed := c.parseAll(ctx, metas)
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	stats.Failed = failed

	// --- Indexing (single writer; completes before any transform) ---
	c.setPhase(PhaseIndexing)
	c.mu.Lock()
	c.notes = notes
	c.mu.Unlock()

	paths := sortedPaths(notes)
	fresh := linkmap.New()
	for _, p := range paths {
		fresh.Register(notes[p], hugo.Permalink(p))
	}
	c.links.ReplaceFrom(fresh)

	for _, d := range c.links.Conflicts() {
		c.logger.Warn("convert: key conflict",
			slog.String("path", d.Path),
			slog.String("detail", d.Detail))
	}

	// --- Transforming (map is read-only from here) ---
	c.setPhase(PhaseTransforming)
	var (
		statsMu sync.Mutex
		g, gCtx = errgroup.WithContext(ctx)
	)
	g.SetLimit(c.opts.Workers)
	for _, p := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			converted, diags, err := c.transformOne(notes[p])
			if err != nil {
				c.logger.Warn("convert: transform failed",
					slog.String("path", p), slog.String("error", err.Error()))
				statsMu.Lock()
				stats.Failed++
				statsMu.Unlock()
				return nil
			}
			statsMu.Lock()
			stats.Converted++
			stats.LinksConverted += converted
			stats.Diagnostics += len(diags)
			statsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	// Drop state rows for documents no longer on disk.
	if err := c.pruneState(notes); err != nil {
		c.logger.Warn("convert: prune state failed", slog.String("error", err.Error()))
	}

	if c.opts.Attachments {
		n, err := c.copyAttachments(ctx)
		if err != nil {
			return stats, err
		}
		stats.Attachments = n
	}

	stats.Elapsed = time.Since(start)
	c.mu.Lock()
	c.last = stats
	c.mu.Unlock()

	c.logger.Info("convert: run complete",
		slog.Int("documents", stats.Documents),
		slog.Int("converted", stats.Converted),
		slog.Int("failed", stats.Failed),
		slog.Int("links", stats.LinksConverted),
		slog.Int("attachments", stats.Attachments),
		slog.Int("diagnostics", stats.Diagnostics),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// parseAll reads and parses every listed document, bounded by the
// worker pool. Parsing of distinct documents has no data dependency.
func (c *Converter) parseAll(ctx context.Context, metas []models.FileMeta) (map[string]*models.Note, int) {
	var (
		mu     sync.Mutex
		notes  = make(map[string]*models.Note, len(metas))
		failed int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, m := range metas {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			n, err := c.parseOne(m.Path, m.UpdatedAt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return nil
			}
			notes[m.Path] = n
			return nil
		})
	}
	_ = g.Wait()
	return notes, failed
}

// parseOne reads and parses a single vault document, recording a
// structural diagnostic when the bytes cannot be processed at all.
// err is non-nil only when no note could be produced.
func (c *Converter) parseOne(path string, modTime time.Time) (*models.Note, error) {
	n, err := c.parseNote(path, modTime)
	if err != nil {
		var serr *apperr.StructuralError
		if errors.As(err, &serr) {
			d := models.Diagnostic{Kind: models.DiagStructural, Path: path, Detail: serr.Detail}
			_ = c.db.ReplaceDiagnostics(path, []models.Diagnostic{d})
			c.logger.Warn("convert: unreadable document",
				slog.String("path", path), slog.String("detail", serr.Detail))
		}
		return nil, err
	}
	return n, nil
}

// parseNote reads and parses a vault document without side effects.
func (c *Converter) parseNote(path string, modTime time.Time) (*models.Note, error) {
	data, err := c.vault.Read(path)
	if err != nil {
		return nil, fmt.Errorf("convert: read %s: %w", path, err)
	}
	n, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	n.Path = path
	n.Checksum = storage.Checksum(data)
	n.ModTime = modTime
	return n, nil
}

// transformOne converts a single note, writes its output atomically,
// and records state. The recorded diagnostics always include the
// note's own structural degradation, so re-transforming a document in
// a later batch never loses it. Returns the number of links rewritten.
func (c *Converter) transformOne(n *models.Note) (int, []models.Diagnostic, error) {
	doc, diags := c.tr.Transform(n)
	data, err := hugo.Marshal(doc)
	if err != nil {
		return 0, nil, err
	}
	if err := c.content.Write(doc.OutputPath, data); err != nil {
		return 0, nil, err
	}

	converted := 0
	if c.opts.Wikilinks {
		converted = len(n.Refs)
		for _, d := range diags {
			if d.Kind == models.DiagUnresolved || d.Kind == models.DiagAmbiguous {
				converted--
			}
		}
	}

	var all []models.Diagnostic
	if n.MetaInvalid {
		all = append(all, models.Diagnostic{
			Kind:   models.DiagStructural,
			Path:   n.Path,
			Detail: "front-matter block is not valid YAML; treated as body",
		})
	}
	all = append(all, diags...)
	if err := c.db.UpsertDoc(n.Path, n.Checksum, doc.OutputPath); err != nil {
		return converted, all, err
	}
	if err := c.db.ReplacePending(n.Path, c.pendingKeys(n)); err != nil {
		return converted, all, err
	}
	if err := c.db.ReplaceDiagnostics(n.Path, all); err != nil {
		return converted, all, err
	}
	if c.cb != nil {
		c.cb("converted", n.Path)
	}
	return converted, all, nil
}

// pendingKeys returns the normalized keys of references in n that do
// not currently resolve. A later map change touching one of these keys
// must trigger re-transformation of n (link healing).
func (c *Converter) pendingKeys(n *models.Note) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ref := range n.Refs {
		if ref.Target == "" {
			continue
		}
		if c.opts.Attachments && c.attach.IsAttachment(ref.Target) {
			continue
		}
		if o := c.links.Resolve(ref.Target); o.State == linkmap.Resolved {
			continue
		}
		key := linkmap.Normalize(stripFragment(ref.Target))
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// pruneState removes state rows (and stale outputs) for documents that
// are no longer in the vault.
func (c *Converter) pruneState(notes map[string]*models.Note) error {
	checksums, err := c.db.Checksums()
	if err != nil {
		return err
	}
	for p := range checksums {
		if _, ok := notes[p]; ok {
			continue
		}
		if _, output, err := c.db.Doc(p); err == nil && output != "" {
			_ = c.content.Delete(output)
		}
		if err := c.db.DeleteDoc(p); err != nil {
			return err
		}
	}
	return nil
}

// copyAttachments mirrors allow-listed binary files into the static
// tree, skipping files whose destination already has identical bytes.
func (c *Converter) copyAttachments(ctx context.Context) (int, error) {
	metas, err := c.vault.List("", c.opts.AttachmentExtensions...)
	if err != nil {
		return 0, fmt.Errorf("convert: list attachments: %w", err)
	}
	copied := 0
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		dest := c.attachmentDest(m.Path)
		if existing, err := c.static.Read(dest); err == nil && storage.Checksum(existing) == m.Checksum {
			continue
		}
		data, err := c.vault.Read(m.Path)
		if err != nil {
			c.logger.Warn("convert: read attachment failed",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := c.static.Write(dest, data); err != nil {
			c.logger.Warn("convert: copy attachment failed",
				slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		copied++
	}
	return copied, nil
}

// attachmentDest maps a vault-relative attachment path to its
// static-tree destination.
func (c *Converter) attachmentDest(rel string) string {
	if c.opts.FlattenAttachments {
		return "attachments/" + path.Base(rel)
	}
	return rel
}

func stripFragment(target string) string {
	if i := strings.Index(target, "#"); i >= 0 {
		return target[:i]
	}
	return target
}

func sortedPaths(notes map[string]*models.Note) []string {
	out := make([]string, 0, len(notes))
	for p := range notes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
