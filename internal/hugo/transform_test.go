package hugo

import (
	"strings"
	"testing"
	"time"

	"github.com/starford/raido/internal/linkmap"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/parser"
)

func parseNote(t *testing.T, path, raw string) *models.Note {
	t.Helper()
	n, err := parser.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	n.Path = path
	return n
}

func defaultOptions() Options {
	return Options{
		Wikilinks:           true,
		Tags:                true,
		Attachments:         true,
		TOC:                 false,
		TocMaxDepth:         3,
		PreserveFrontMatter: true,
	}
}

func attachResolver() *AttachmentResolver {
	return NewAttachmentResolver([]string{"png", "jpg", "pdf", "glb"}, false)
}

func TestTransform_LinkRoundTrip(t *testing.T) {
	m := linkmap.New()
	a := parseNote(t, "a.md", "# A\n")
	m.Register(a, Permalink(a.Path))

	tr := New(defaultOptions(), m, attachResolver())

	b := parseNote(t, "b.md", "see [[a]] here\n")
	doc, diags := tr.Transform(b)
	if len(diags) != 0 {
		t.Fatalf("diags = %+v", diags)
	}
	if doc.Body != "see [a](/a) here\n" {
		t.Errorf("body = %q", doc.Body)
	}

	// Display override.
	b2 := parseNote(t, "b2.md", "see [[a|Custom]] here\n")
	doc2, _ := tr.Transform(b2)
	if doc2.Body != "see [Custom](/a) here\n" {
		t.Errorf("body = %q", doc2.Body)
	}
}

func TestTransform_FragmentAnchor(t *testing.T) {
	m := linkmap.New()
	a := parseNote(t, "sub/guide.md", "# Guide\n")
	m.Register(a, Permalink(a.Path))

	tr := New(defaultOptions(), m, attachResolver())
	n := parseNote(t, "n.md", "jump [[guide#Deep Dive]]\n")
	doc, _ := tr.Transform(n)
	if doc.Body != "jump [guide](/sub/guide#deep-dive)\n" {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestTransform_AmbiguousLeftUntouched(t *testing.T) {
	m := linkmap.New()
	for _, p := range []string{"folder1/x.md", "folder2/x.md"} {
		n := parseNote(t, p, "body\n")
		m.Register(n, Permalink(p))
	}

	tr := New(defaultOptions(), m, attachResolver())
	n := parseNote(t, "ref.md", "go to [[x]] now\n")
	doc, diags := tr.Transform(n)

	if !strings.Contains(doc.Body, "[[x]]") {
		t.Errorf("ambiguous wikilink must stay verbatim, body = %q", doc.Body)
	}
	if len(diags) != 1 || diags[0].Kind != models.DiagAmbiguous {
		t.Fatalf("diags = %+v", diags)
	}
	if len(diags[0].Candidates) != 2 {
		t.Errorf("candidates = %v", diags[0].Candidates)
	}
}

func TestTransform_UnresolvedLeftUntouched(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "ref.md", "go to [[missing]] now\n")
	doc, diags := tr.Transform(n)

	if !strings.Contains(doc.Body, "[[missing]]") {
		t.Errorf("unresolved wikilink must stay verbatim, body = %q", doc.Body)
	}
	if len(diags) != 1 || diags[0].Kind != models.DiagUnresolved {
		t.Fatalf("diags = %+v", diags)
	}
}

func TestTransform_Preservation(t *testing.T) {
	opts := defaultOptions()
	opts.Tags = false
	opts.TOC = false
	tr := New(opts, linkmap.New(), attachResolver())

	body := "# Plain\n\nNothing to rewrite here.\nJust text with #hash and `code`.\n"
	n := parseNote(t, "plain.md", body)
	doc, diags := tr.Transform(n)
	if doc.Body != body {
		t.Errorf("body changed:\n got %q\nwant %q", doc.Body, body)
	}
	if len(diags) != 0 {
		t.Errorf("diags = %+v", diags)
	}
}

func TestTransform_Callouts(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "c.md", "> [!warning] Careful\n> line one\n> line two\n\nafter\n")
	doc, _ := tr.Transform(n)

	want := "{{< admonition type=\"warning\" title=\"Careful\" >}}\nline one\nline two\n{{< /admonition >}}\n\nafter\n"
	if doc.Body != want {
		t.Errorf("body = %q\nwant %q", doc.Body, want)
	}
}

func TestTransform_CalloutUnknownKind(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "c.md", "> [!homebrew]\n> stuff\n")
	doc, _ := tr.Transform(n)

	if !strings.Contains(doc.Body, `type="homebrew"`) {
		t.Errorf("unknown kind must convert with its literal string, body = %q", doc.Body)
	}
	if !strings.Contains(doc.Body, `title="Homebrew"`) {
		t.Errorf("default title should be humanized kind, body = %q", doc.Body)
	}
}

func TestTransform_CalloutWithLinkInside(t *testing.T) {
	m := linkmap.New()
	a := parseNote(t, "a.md", "# A\n")
	m.Register(a, Permalink(a.Path))

	tr := New(defaultOptions(), m, attachResolver())
	n := parseNote(t, "c.md", "> [!note] See\n> read [[a]] first\n")
	doc, _ := tr.Transform(n)

	if !strings.Contains(doc.Body, "read [a](/a) first") {
		t.Errorf("link inside callout not rewritten, body = %q", doc.Body)
	}
	if !strings.Contains(doc.Body, `{{< admonition type="note"`) {
		t.Errorf("callout not rewritten, body = %q", doc.Body)
	}
}

func TestTransform_TagsMergedAndStripped(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	raw := "---\ntags:\n  - existing\n---\ntext #alpha and #existing more\n"
	n := parseNote(t, "t.md", raw)
	doc, _ := tr.Transform(n)

	if strings.Contains(doc.Body, "#alpha") {
		t.Errorf("inline tag not stripped, body = %q", doc.Body)
	}
	tags := parser.MetaStringList(doc.Meta, "tags")
	want := []string{"existing", "alpha"}
	if len(tags) != 2 || tags[0] != want[0] || tags[1] != want[1] {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestTransform_TagsDisabledLeavesBody(t *testing.T) {
	opts := defaultOptions()
	opts.Tags = false
	tr := New(opts, linkmap.New(), attachResolver())

	body := "text #alpha stays\n"
	doc, _ := tr.Transform(parseNote(t, "t.md", body))
	if doc.Body != body {
		t.Errorf("body = %q, want untouched", doc.Body)
	}
	if parser.MetaGet(doc.Meta, "tags") != nil {
		t.Errorf("tags key should not be generated")
	}
}

func TestTransform_TocIdempotent(t *testing.T) {
	opts := defaultOptions()
	opts.TOC = true
	tr := New(opts, linkmap.New(), attachResolver())

	n := parseNote(t, "doc.md", "# Heading\ncontent\n")
	doc, _ := tr.Transform(n)

	if !strings.HasPrefix(doc.Body, "{{< toc maxdepth=\"3\" >}}\n\n") {
		t.Fatalf("missing toc marker, body = %q", doc.Body)
	}

	// Feed the converted body back through: marker replaced, not doubled.
	again := parseNote(t, "doc.md", doc.Body)
	doc2, _ := tr.Transform(again)
	if doc2.Body != doc.Body {
		t.Errorf("second pass changed body:\n got %q\nwant %q", doc2.Body, doc.Body)
	}
	if strings.Count(doc2.Body, "{{< toc") != 1 {
		t.Errorf("toc marker duplicated, body = %q", doc2.Body)
	}
}

func TestTransform_MetadataPrecedence(t *testing.T) {
	opts := defaultOptions()
	opts.TOC = true
	tr := New(opts, linkmap.New(), attachResolver())

	n := parseNote(t, "m.md", "---\ntitle: Mine\nshowToc: false\n---\nbody\n")
	doc, _ := tr.Transform(n)

	if got, ok := parser.MetaBool(doc.Meta, "showToc"); !ok || got {
		t.Errorf("showToc = %v/%v, want user-authored false", got, ok)
	}
	if parser.MetaString(doc.Meta, "title") != "Mine" {
		t.Errorf("title = %q", parser.MetaString(doc.Meta, "title"))
	}
	// Generated defaults still appear when absent.
	if got, ok := parser.MetaBool(doc.Meta, "showWordCount"); !ok || !got {
		t.Errorf("showWordCount = %v/%v, want generated true", got, ok)
	}
}

func TestTransform_GeneratedDate(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "d.md", "body\n")
	n.ModTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	doc, _ := tr.Transform(n)

	if parser.MetaString(doc.Meta, "date") != "2026-03-14" {
		t.Errorf("date = %q", parser.MetaString(doc.Meta, "date"))
	}

	// User-authored date wins.
	n2 := parseNote(t, "d.md", "---\ndate: 2020-01-01\n---\nbody\n")
	n2.ModTime = n.ModTime
	doc2, _ := tr.Transform(n2)
	if parser.MetaString(doc2.Meta, "date") != "2020-01-01" {
		t.Errorf("date = %q, want user value", parser.MetaString(doc2.Meta, "date"))
	}
}

func TestTransform_AttachmentEmbed(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "sub/n.md", "shot: ![[img/pic.png]]\n")
	doc, diags := tr.Transform(n)

	if len(diags) != 0 {
		t.Fatalf("diags = %+v", diags)
	}
	if !strings.Contains(doc.Body, `{{< image src="/img/pic.png"`) {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestTransform_AttachmentLinkNotInAllowList(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "n.md", "data ![[dump.sqlite]]\n")
	doc, diags := tr.Transform(n)

	if !strings.Contains(doc.Body, "![[dump.sqlite]]") {
		t.Errorf("non-allow-listed embed must stay verbatim, body = %q", doc.Body)
	}
	if len(diags) != 1 {
		t.Errorf("diags = %+v, want pass-through warning", diags)
	}
}

func TestTransform_MediaShortcodes(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	raw := "![alt text](img/a.png)\n[Spec sheet](docs/spec.pdf)\n[Model](parts/widget.glb)\n"
	doc, _ := tr.Transform(parseNote(t, "n.md", raw))

	for _, want := range []string{
		`{{< image src="/img/a.png" alt="alt text" >}}`,
		`{{< pdf-viewer url="/docs/spec.pdf" title="Spec sheet" >}}`,
		`{{< gltf-viewer url="/parts/widget.glb" title="Model" >}}`,
	} {
		if !strings.Contains(doc.Body, want) {
			t.Errorf("body missing %q:\n%q", want, doc.Body)
		}
	}
}

func TestTransform_EmbeddedMediaShortcodes(t *testing.T) {
	// Markdown-embed syntax on pdf/gltf targets converts the same way
	// as a plain link; the bang must not survive in front of the
	// shortcode.
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	raw := "![Spec sheet](docs/spec.pdf)\n![Model](parts/widget.glb)\n"
	doc, _ := tr.Transform(parseNote(t, "n.md", raw))

	for _, want := range []string{
		`{{< pdf-viewer url="/docs/spec.pdf" title="Spec sheet" >}}`,
		`{{< gltf-viewer url="/parts/widget.glb" title="Model" >}}`,
	} {
		if !strings.Contains(doc.Body, want) {
			t.Errorf("body missing %q:\n%q", want, doc.Body)
		}
	}
	if strings.Contains(doc.Body, "!{{<") {
		t.Errorf("stray embed bang left in body:\n%q", doc.Body)
	}
}

func TestTransform_Determinism(t *testing.T) {
	m := linkmap.New()
	a := parseNote(t, "a.md", "# A\n")
	m.Register(a, Permalink(a.Path))
	opts := defaultOptions()
	opts.TOC = true
	tr := New(opts, m, attachResolver())

	raw := "---\ntitle: T\n---\nsee [[a]] and #tag\n\n> [!tip]\n> hi\n"
	n := parseNote(t, "n.md", raw)
	n.ModTime = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	doc1, _ := tr.Transform(n)
	doc2, _ := tr.Transform(n)
	b1, err1 := Marshal(doc1)
	b2, err2 := Marshal(doc2)
	if err1 != nil || err2 != nil {
		t.Fatalf("marshal: %v %v", err1, err2)
	}
	if string(b1) != string(b2) {
		t.Errorf("output differs across runs:\n%q\n%q", b1, b2)
	}
}

func TestMarshal_FrontmatterKeyOrderPreserved(t *testing.T) {
	tr := New(defaultOptions(), linkmap.New(), attachResolver())
	n := parseNote(t, "o.md", "---\nzeta: 1\nalpha: 2\nmiddle: 3\n---\nbody\n")
	doc, _ := tr.Transform(n)
	out, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	zi := strings.Index(s, "zeta:")
	ai := strings.Index(s, "alpha:")
	mi := strings.Index(s, "middle:")
	if !(zi < ai && ai < mi) {
		t.Errorf("original key order not preserved:\n%s", s)
	}
}

func TestOutputFile(t *testing.T) {
	cases := map[string]string{
		"note.md":        "note.md",
		"sub/note.md":    "sub/note.md",
		"sub/index.md":   "sub/_index.md",
		"sub/_index.md":  "sub/_index.md",
		"a\\b\\note.md":  "a/b/note.md",
	}
	for in, want := range cases {
		if got := OutputFile(in); got != want {
			t.Errorf("OutputFile(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPermalink(t *testing.T) {
	cases := map[string]string{
		"note.md":       "/note",
		"sub/note.md":   "/sub/note",
		"sub/index.md":  "/sub",
		"sub/_index.md": "/sub",
		"index.md":      "/",
	}
	for in, want := range cases {
		if got := Permalink(in); got != want {
			t.Errorf("Permalink(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAttachmentResolver_FlattenAndMirror(t *testing.T) {
	mirror := NewAttachmentResolver([]string{"png"}, false)
	flat := NewAttachmentResolver([]string{"png"}, true)

	if out, ok := mirror.Resolve("img/pic.png", "sub/n.md"); !ok || out != "/img/pic.png" {
		t.Errorf("mirror = %q/%v", out, ok)
	}
	if out, ok := mirror.Resolve("./pic.png", "sub/n.md"); !ok || out != "/sub/pic.png" {
		t.Errorf("mirror relative = %q/%v", out, ok)
	}
	if out, ok := flat.Resolve("img/pic.png", "sub/n.md"); !ok || out != "/attachments/pic.png" {
		t.Errorf("flatten = %q/%v", out, ok)
	}
	if _, ok := mirror.Resolve("notes.md", "n.md"); ok {
		t.Error("markdown must never be treated as an attachment")
	}
	if _, ok := mirror.Resolve("archive.zip", "n.md"); ok {
		t.Error("extension outside the allow-list must pass through")
	}
}
