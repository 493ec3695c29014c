package hugo

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
)

// mergeMeta builds the output front-matter mapping for a note. The
// original mapping is cloned (never mutated) and its keys keep their
// order; generated keys are appended only when absent, so
// user-authored values always win.
func (t *Transformer) mergeMeta(n *models.Note, inlineTags []string) *yaml.Node {
	var out *yaml.Node
	if t.opts.PreserveFrontMatter && n.Meta != nil {
		out = cloneNode(n.Meta)
	} else {
		out = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	title := n.Title
	if title == "" {
		title = humanize(n.Stem())
	}
	setIfAbsent(out, "title", scalar(title))

	if !n.ModTime.IsZero() {
		date := n.ModTime.Format(time.DateOnly)
		setIfAbsent(out, "date", scalar(date))
		setIfAbsent(out, "lastmod", scalar(date))
	}

	if t.opts.Tags {
		tags := mergeTags(n.MetaTags, inlineTags)
		if len(tags) > 0 {
			setStringList(out, "tags", tags)
		}
	}

	setIfAbsent(out, "showToc", boolScalar(t.opts.TOC))
	setIfAbsent(out, "TocOpen", boolScalar(false))
	setIfAbsent(out, "hideSummary", boolScalar(false))
	setIfAbsent(out, "showWordCount", boolScalar(true))
	setIfAbsent(out, "showReadingTime", boolScalar(true))

	return out
}

// mergeTags appends inline tags to the front-matter list, deduplicated
// and order-preserving (front-matter order first).
func mergeTags(metaTags, inlineTags []string) []string {
	seen := make(map[string]struct{}, len(metaTags)+len(inlineTags))
	out := make([]string, 0, len(metaTags)+len(inlineTags))
	for _, lists := range [][]string{metaTags, inlineTags} {
		for _, tag := range lists {
			if _, dup := seen[tag]; dup || tag == "" {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

// Marshal serializes a transformed document: front-matter block
// followed by the body. Output bytes are deterministic for a given
// document.
func Marshal(doc *models.Document) ([]byte, error) {
	if doc.Meta == nil {
		return []byte(doc.Body), nil
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc.Meta); err != nil {
		return nil, fmt.Errorf("hugo: marshal front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("hugo: marshal front matter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(doc.Body)
	return buf.Bytes(), nil
}

func setIfAbsent(m *yaml.Node, key string, value *yaml.Node) {
	if parser.MetaGet(m, key) != nil {
		return
	}
	m.Content = append(m.Content, scalar(key), value)
}

// setStringList replaces (or appends) key with a block sequence of
// strings.
func setStringList(m *yaml.Node, key string, values []string) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, v := range values {
		seq.Content = append(seq.Content, scalar(v))
	}
	if existing := parser.MetaGet(m, key); existing != nil {
		*existing = *seq
		return
	}
	m.Content = append(m.Content, scalar(key), seq)
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func boolScalar(b bool) *yaml.Node {
	v := "false"
	if b {
		v = "true"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v}
}

func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Content = make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		out.Content[i] = cloneNode(c)
	}
	return &out
}
