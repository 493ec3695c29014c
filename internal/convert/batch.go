package convert

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/hugo"
	"github.com/starford/raido/internal/models"
)

// ApplyBatch applies a coalesced batch of change events to an already
// indexed conversion. The re-transformation set is minimal: the changed
// documents themselves, plus every document whose last pass recorded an
// unresolved or ambiguous reference to a key the batch touched (link
// healing). Documents outside that set keep their previous output.
func (c *Converter) ApplyBatch(ctx context.Context, events []models.ChangeEvent) (models.Stats, error) {
	start := time.Now()
	var stats models.Stats
	c.setPhase(PhasePending)
	defer c.setPhase(PhaseIdle)

	events = coalesce(events)
	stats.Documents = len(events)

	affected := make(map[string]struct{}) // normalized keys the batch touched
	retransform := make(map[string]struct{})

	// --- Apply map and state mutations (single writer) ---
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !strings.EqualFold(path.Ext(ev.Path), ".md") {
			c.applyAttachmentEvent(ev, &stats)
			continue
		}

		switch ev.Kind {
		case models.Removed:
			for _, k := range c.links.Keys(ev.Path) {
				affected[k] = struct{}{}
			}
			c.links.Remove(ev.Path)
			if _, output, err := c.db.Doc(ev.Path); err == nil && output != "" {
				_ = c.content.Delete(output)
			}
			if err := c.db.DeleteDoc(ev.Path); err != nil {
				c.logger.Warn("convert: delete state failed",
					slog.String("path", ev.Path), slog.String("error", err.Error()))
			}
			c.mu.Lock()
			delete(c.notes, ev.Path)
			c.mu.Unlock()
			if c.cb != nil {
				c.cb("removed", ev.Path)
			}

		default: // Created, Modified
			n, err := c.parseOne(ev.Path, c.statModTime(ev.Path))
			if err != nil {
				stats.Failed++
				continue
			}
			for _, k := range c.links.Keys(ev.Path) {
				affected[k] = struct{}{}
			}
			c.links.Upsert(n, hugo.Permalink(ev.Path))
			for _, k := range c.links.Keys(ev.Path) {
				affected[k] = struct{}{}
			}
			c.mu.Lock()
			c.notes[ev.Path] = n
			c.mu.Unlock()
			retransform[ev.Path] = struct{}{}
		}
	}

	// --- Healing: pull in documents waiting on the touched keys ---
	keys := make([]string, 0, len(affected))
	for k := range affected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sources, err := c.db.PendingFor(keys)
	if err != nil {
		c.logger.Warn("convert: pending lookup failed", slog.String("error", err.Error()))
	}
	c.mu.Lock()
	for _, src := range sources {
		if _, ok := c.notes[src]; ok {
			retransform[src] = struct{}{}
		}
	}
	snapshot := make(map[string]*models.Note, len(retransform))
	for p := range retransform {
		if n, ok := c.notes[p]; ok {
			snapshot[p] = n
		}
	}
	c.mu.Unlock()

	// --- Re-transform the affected set (map is read-only again) ---
	var statsMu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, p := range sortedPaths(snapshot) {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			converted, diags, err := c.transformOne(snapshot[p])
			statsMu.Lock()
			defer statsMu.Unlock()
			if err != nil {
				c.logger.Warn("convert: transform failed",
					slog.String("path", p), slog.String("error", err.Error()))
				stats.Failed++
				return nil
			}
			stats.Converted++
			stats.LinksConverted += converted
			stats.Diagnostics += len(diags)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	stats.Elapsed = time.Since(start)
	c.mu.Lock()
	c.last = stats
	c.mu.Unlock()

	c.logger.Info("convert: batch applied",
		slog.Int("events", len(events)),
		slog.Int("retransformed", stats.Converted),
		slog.Int("healed", stats.Converted-countChanged(events, snapshot)),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// applyAttachmentEvent mirrors a single attachment change into the
// static tree.
func (c *Converter) applyAttachmentEvent(ev models.ChangeEvent, stats *models.Stats) {
	if !c.opts.Attachments || !c.attach.IsAttachment(ev.Path) {
		return
	}
	dest := c.attachmentDest(ev.Path)
	if ev.Kind == models.Removed {
		_ = c.static.Delete(dest)
		return
	}
	data, err := c.vault.Read(ev.Path)
	if err != nil {
		c.logger.Warn("convert: read attachment failed",
			slog.String("path", ev.Path), slog.String("error", err.Error()))
		return
	}
	if err := c.static.Write(dest, data); err != nil {
		c.logger.Warn("convert: copy attachment failed",
			slog.String("path", ev.Path), slog.String("error", err.Error()))
		return
	}
	stats.Attachments++
}

// statModTime looks up the file's modification time from its parent
// directory listing; the zero time when the file cannot be statted.
func (c *Converter) statModTime(rel string) time.Time {
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	metas, err := c.vault.List(dir)
	if err != nil {
		return time.Time{}
	}
	for _, m := range metas {
		if m.Path == rel {
			return m.UpdatedAt
		}
	}
	return time.Time{}
}

// coalesce keeps only the last event per path, preserving the order of
// last occurrence. Create-then-remove within one batch collapses to a
// removal; remove-then-create to a creation.
func coalesce(events []models.ChangeEvent) []models.ChangeEvent {
	last := make(map[string]int, len(events))
	for i, ev := range events {
		last[ev.Path] = i
	}
	out := make([]models.ChangeEvent, 0, len(last))
	for i, ev := range events {
		if last[ev.Path] == i {
			out = append(out, ev)
		}
	}
	return out
}

func countChanged(events []models.ChangeEvent, snapshot map[string]*models.Note) int {
	n := 0
	for _, ev := range events {
		if _, ok := snapshot[ev.Path]; ok {
			n++
		}
	}
	return n
}
