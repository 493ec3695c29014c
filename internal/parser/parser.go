// Package parser turns raw Markdown bytes into a structured note:
// front matter, body, wikilink references, callout blocks, and inline
// tags, with byte spans for every extracted construct.
package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`(!?)\[\[([^\[\]]+)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|[\s(])#([A-Za-z][A-Za-z0-9_/-]*)`)
	calloutRe  = regexp.MustCompile(`^>\s*\[!([A-Za-z]+)\][-+]?\s*(.*)$`)
)

// Parse extracts front matter, body, wikilink references, callouts,
// and inline tags from raw Markdown bytes. It never fails on malformed
// Markdown: an unparsable front-matter block degrades to an absent
// mapping with the full text kept as body. The only error is a
// StructuralError for bytes that are not valid UTF-8.
func Parse(data []byte) (*models.Note, error) {
	if !utf8.Valid(data) {
		return nil, &apperr.StructuralError{Detail: "content is not valid UTF-8"}
	}

	meta, body, invalid := splitFrontmatter(data)

	// Code spans (fenced and inline) are masked out before reference
	// and tag scanning so their contents never produce false matches.
	masked := maskCode(body)

	refs := extractRefs(masked, body)

	// Blank out reference spans too: a [[target#section]] fragment must
	// not be picked up as an inline tag.
	for _, r := range refs {
		blank(masked, r.Start, r.End)
	}
	tags := extractTags(masked)

	n := &models.Note{
		Meta:        meta,
		MetaInvalid: invalid,
		Body:        body,
		Refs:        refs,
		Tags:        tags,
		Callouts:    ScanCallouts(body),
	}
	n.Title = MetaString(meta, "title")
	if n.Title == "" {
		n.Title = firstHeading(body)
	}
	n.Aliases = MetaStringList(meta, "aliases")
	n.MetaTags = MetaStringList(meta, "tags")
	return n, nil
}

// splitFrontmatter separates the YAML front-matter block (opening
// "---" fence at byte 0, closing "---" fence on its own line) from the
// body. The mapping node is kept as-is to preserve key order. A block
// that is present but not valid YAML (or not a mapping) reports
// invalid=true and the whole input becomes body.
func splitFrontmatter(data []byte) (meta *yaml.Node, body string, invalid bool) {
	const fence = "---"
	s := string(data)

	if !strings.HasPrefix(s, fence+"\n") && !strings.HasPrefix(s, fence+"\r\n") {
		return nil, s, false
	}

	rest := s[len(fence):]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		// No closing fence: the whole document is body.
		return nil, s, false
	}

	block := rest[:idx]
	after := rest[idx+1+len(fence):]
	// Skip the line break terminating the closing fence plus one
	// optional blank separator line.
	after = strings.TrimPrefix(after, "\r")
	after = strings.TrimPrefix(after, "\n")
	after = strings.TrimPrefix(after, "\r\n")
	after = strings.TrimPrefix(after, "\n")

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, s, true
	}
	if len(doc.Content) == 0 {
		// Empty block: treat as absent, body is everything after it.
		return nil, after, false
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, s, true
	}
	return m, after, false
}

// maskCode returns a copy of body where every byte inside a fenced
// code block or an inline `code` span is replaced with a space
// (newlines are kept so line-based scanning still works).
func maskCode(body string) []byte {
	out := []byte(body)
	inFence := false

	pos := 0
	for pos <= len(body) {
		end := strings.IndexByte(body[pos:], '\n')
		if end < 0 {
			end = len(body)
		} else {
			end += pos
		}
		line := body[pos:end]

		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
			inFence = !inFence
			blank(out, pos, end)
		} else if inFence {
			blank(out, pos, end)
		} else {
			maskInlineCode(out, pos, line)
		}

		pos = end + 1
	}
	return out
}

// maskInlineCode blanks `...` spans within a single line.
func maskInlineCode(out []byte, offset int, line string) {
	for i := 0; i < len(line); {
		open := strings.IndexByte(line[i:], '`')
		if open < 0 {
			return
		}
		open += i
		closing := strings.IndexByte(line[open+1:], '`')
		if closing < 0 {
			return
		}
		closing += open + 1
		blank(out, offset+open, offset+closing+1)
		i = closing + 1
	}
}

func blank(b []byte, start, end int) {
	for i := start; i < end && i < len(b); i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}

// extractRefs scans the masked copy for wikilink syntax and slices the
// original body for the actual text, so masking can never corrupt a
// captured target.
func extractRefs(masked []byte, body string) []models.WikiRef {
	matches := wikilinkRe.FindAllSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return nil
	}
	refs := make([]models.WikiRef, 0, len(matches))
	for _, m := range matches {
		ref := models.WikiRef{
			Start: m[0],
			End:   m[1],
			Embed: m[3] > m[2], // "!" group non-empty
		}
		inner := body[m[4]:m[5]]

		if i := strings.Index(inner, "|"); i >= 0 {
			ref.Display = strings.TrimSpace(inner[i+1:])
			inner = inner[:i]
		}
		if i := strings.Index(inner, "#"); i >= 0 {
			ref.Fragment = strings.TrimSpace(inner[i+1:])
			inner = inner[:i]
		}
		ref.Target = strings.TrimSpace(inner)

		if ref.Target == "" && ref.Fragment == "" {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

// extractTags scans the masked copy (with reference spans blanked) for
// inline #tags.
func extractTags(masked []byte) []models.InlineTag {
	matches := tagRe.FindAllSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]models.InlineTag, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, models.InlineTag{
			Name:  string(masked[m[2]:m[3]]),
			Start: m[2] - 1, // the "#" rune
			End:   m[3],
		})
	}
	return tags
}

// ScanCallouts finds callout blocks: a quoted line "> [!kind] Title"
// followed by contiguous quoted lines. Spans cover the whole block
// without the trailing line break.
func ScanCallouts(body string) []models.Callout {
	var out []models.Callout

	pos := 0
	for pos <= len(body) {
		end := strings.IndexByte(body[pos:], '\n')
		if end < 0 {
			end = len(body)
		} else {
			end += pos
		}
		line := body[pos:end]

		m := calloutRe.FindStringSubmatch(line)
		if m == nil {
			pos = end + 1
			continue
		}

		c := models.Callout{
			Kind:  strings.ToLower(m[1]),
			Title: strings.TrimSpace(m[2]),
			Start: pos,
			End:   end,
		}

		// Absorb contiguous quoted lines.
		next := end + 1
		for next <= len(body) {
			lineEnd := strings.IndexByte(body[next:], '\n')
			if lineEnd < 0 {
				lineEnd = len(body)
			} else {
				lineEnd += next
			}
			l := body[next:lineEnd]
			if !strings.HasPrefix(l, ">") {
				break
			}
			c.BodyLines = append(c.BodyLines, strings.TrimPrefix(strings.TrimPrefix(l, ">"), " "))
			c.End = lineEnd
			next = lineEnd + 1
		}

		out = append(out, c)
		pos = c.End + 1
	}
	return out
}

// firstHeading returns the first "# " heading text, or empty string.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
