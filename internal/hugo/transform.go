// Package hugo rewrites parsed vault notes into Hugo documents:
// wikilinks become path links, callouts become admonition shortcodes,
// media links become viewer shortcodes, and front matter is merged
// with PaperMod defaults. Everything outside a substitution site is
// preserved byte for byte.
package hugo

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/raido/internal/linkmap"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
)

var (
	tocMarkerRe = regexp.MustCompile(`^\{\{< toc maxdepth="\d+" >\}\}\n\n?`)
	imageLinkRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)
	pdfLinkRe   = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)\s]+\.pdf)\)`)
	gltfLinkRe  = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)\s]+\.(?:gltf|glb))\)`)
)

// Options control the transformation. Zero value converts nothing.
type Options struct {
	Wikilinks           bool
	Tags                bool
	Attachments         bool
	TOC                 bool
	TocMaxDepth         int
	PreserveFrontMatter bool
}

// Transformer converts one parsed note at a time against a completed
// link resolution map. It holds no per-note state, so a single
// Transformer is safe for concurrent use once the map is read-only.
type Transformer struct {
	opts   Options
	links  *linkmap.Map
	attach *AttachmentResolver
}

// New creates a Transformer over the given map and attachment resolver.
func New(opts Options, links *linkmap.Map, attach *AttachmentResolver) *Transformer {
	return &Transformer{opts: opts, links: links, attach: attach}
}

// Transform produces the output document for a note. Unresolvable
// references are left in their original wiki syntax (content is never
// dropped) and reported as diagnostics. Given identical note content
// and map state, the output is byte-identical across calls.
func (t *Transformer) Transform(n *models.Note) (*models.Document, []models.Diagnostic) {
	var diags []models.Diagnostic

	body, inlineTags, linkDiags := t.rewriteSpans(n)
	diags = append(diags, linkDiags...)

	body = t.rewriteCallouts(body)

	if t.opts.Attachments {
		body = t.rewriteMediaLinks(body, n.Path)
	}

	if t.opts.TOC {
		body = t.insertTocMarker(body)
	}

	doc := &models.Document{
		SourcePath: n.Path,
		OutputPath: OutputFile(n.Path),
		Meta:       t.mergeMeta(n, inlineTags),
		Body:       body,
	}
	return doc, diags
}

// span is one pending substitution in the body.
type span struct {
	start, end  int
	replacement string
}

// rewriteSpans applies wikilink and inline-tag substitutions in a
// single left-to-right pass over the parser's spans, which never
// overlap. Everything between spans is copied verbatim.
func (t *Transformer) rewriteSpans(n *models.Note) (string, []string, []models.Diagnostic) {
	var (
		spans      []span
		inlineTags []string
		diags      []models.Diagnostic
	)

	if t.opts.Wikilinks {
		for _, ref := range n.Refs {
			rep, ok, d := t.rewriteRef(n, ref)
			if d != nil {
				diags = append(diags, *d)
			}
			if ok {
				spans = append(spans, span{start: ref.Start, end: ref.End, replacement: rep})
			}
		}
	}

	if t.opts.Tags {
		for _, tag := range n.Tags {
			inlineTags = append(inlineTags, tag.Name)
			spans = append(spans, span{start: tag.Start, end: tag.End})
		}
	}

	if len(spans) == 0 {
		return n.Body, inlineTags, diags
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(n.Body))
	last := 0
	for _, s := range spans {
		b.WriteString(n.Body[last:s.start])
		b.WriteString(s.replacement)
		last = s.end
	}
	b.WriteString(n.Body[last:])
	return b.String(), inlineTags, diags
}

// rewriteRef maps one wikilink reference to its replacement text.
// ok=false means the original syntax stays in place.
func (t *Transformer) rewriteRef(n *models.Note, ref models.WikiRef) (string, bool, *models.Diagnostic) {
	display := ref.Display
	if display == "" {
		display = ref.Target
	}
	if display == "" {
		display = humanize(ref.Fragment)
	}

	// Self-link: [[#Section]].
	if ref.Target == "" {
		return fmt.Sprintf("[%s](#%s)", display, anchorize(ref.Fragment)), true, nil
	}

	// Attachment embeds and links are decided by extension alone.
	if t.opts.Attachments && t.attach != nil && t.attach.IsAttachment(ref.Target) {
		out, _ := t.attach.Resolve(ref.Target, n.Path)
		if ref.Embed {
			return fmt.Sprintf(`{{< image src="%s" alt="%s" >}}`, out, display), true, nil
		}
		return fmt.Sprintf("[%s](%s)", display, out), true, nil
	}

	if ref.Embed {
		// Note transclusion has no Hugo counterpart; keep the source
		// syntax and flag it.
		return "", false, &models.Diagnostic{
			Kind:   models.DiagUnresolved,
			Path:   n.Path,
			Detail: fmt.Sprintf("embedded note %q cannot be transcluded", ref.Target),
		}
	}

	outcome := t.links.Resolve(ref.Target)
	switch outcome.State {
	case linkmap.Resolved:
		location := outcome.Location
		if ref.Fragment != "" {
			location += "#" + anchorize(ref.Fragment)
		}
		return fmt.Sprintf("[%s](%s)", display, location), true, nil
	case linkmap.Ambiguous:
		return "", false, &models.Diagnostic{
			Kind:       models.DiagAmbiguous,
			Path:       n.Path,
			Detail:     fmt.Sprintf("link target %q matches %d notes", ref.Target, len(outcome.Candidates)),
			Candidates: outcome.Candidates,
		}
	default:
		return "", false, &models.Diagnostic{
			Kind:   models.DiagUnresolved,
			Path:   n.Path,
			Detail: fmt.Sprintf("link target %q does not match any note", ref.Target),
		}
	}
}

// rewriteCallouts replaces callout blocks with admonition shortcodes.
// The body is re-scanned after link rewriting (substitutions never add
// or remove lines, so block boundaries are stable). Unrecognized kinds
// convert with their literal kind string.
func (t *Transformer) rewriteCallouts(body string) string {
	callouts := parser.ScanCallouts(body)
	if len(callouts) == 0 {
		return body
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, c := range callouts {
		title := c.Title
		if title == "" {
			title = humanize(c.Kind)
		}
		b.WriteString(body[last:c.Start])
		fmt.Fprintf(&b, "{{< admonition type=%q title=%q >}}\n", c.Kind, title)
		for _, line := range c.BodyLines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("{{< /admonition >}}")
		last = c.End
	}
	b.WriteString(body[last:])
	return b.String()
}

// rewriteMediaLinks converts Markdown media references to viewer
// shortcodes, relocating attachment paths through the resolver. PDF
// and 3D-model links convert before plain images so their dedicated
// viewers win. An embed bang is consumed with the match: embedded and
// plain references render the same shortcode.
func (t *Transformer) rewriteMediaLinks(body, sourcePath string) string {
	body = pdfLinkRe.ReplaceAllStringFunc(body, func(m string) string {
		g := pdfLinkRe.FindStringSubmatch(m)
		return fmt.Sprintf(`{{< pdf-viewer url="%s" title="%s" >}}`, t.relocate(g[2], sourcePath), g[1])
	})
	body = gltfLinkRe.ReplaceAllStringFunc(body, func(m string) string {
		g := gltfLinkRe.FindStringSubmatch(m)
		return fmt.Sprintf(`{{< gltf-viewer url="%s" title="%s" >}}`, t.relocate(g[2], sourcePath), g[1])
	})
	body = imageLinkRe.ReplaceAllStringFunc(body, func(m string) string {
		g := imageLinkRe.FindStringSubmatch(m)
		if strings.HasPrefix(g[2], "http://") || strings.HasPrefix(g[2], "https://") {
			return fmt.Sprintf(`{{< image src="%s" alt="%s" >}}`, g[2], g[1])
		}
		return fmt.Sprintf(`{{< image src="%s" alt="%s" >}}`, t.relocate(g[2], sourcePath), g[1])
	})
	return body
}

// relocate runs a media path through the attachment resolver, passing
// it through unchanged when the extension is not relocatable.
func (t *Transformer) relocate(target, sourcePath string) string {
	if t.attach != nil {
		if out, ok := t.attach.Resolve(target, sourcePath); ok {
			return out
		}
	}
	return target
}

// insertTocMarker puts the toc shortcode at the top of the body. An
// existing marker is replaced, never duplicated, so repeated runs over
// already-converted output are stable.
func (t *Transformer) insertTocMarker(body string) string {
	body = tocMarkerRe.ReplaceAllString(body, "")
	return fmt.Sprintf("{{< toc maxdepth=\"%d\" >}}\n\n%s", t.opts.TocMaxDepth, body)
}
