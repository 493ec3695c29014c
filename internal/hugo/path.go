package hugo

import (
	"path"
	"strings"
	"unicode"
)

// OutputFile maps a vault-relative source path to its content-relative
// output file. "index.md" becomes the section page "_index.md"; an
// explicit "_index.md" is kept.
func OutputFile(rel string) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	dir, base := path.Split(rel)
	if base == "index.md" {
		base = "_index.md"
	}
	return dir + base
}

// Permalink maps a vault-relative source path to the site-absolute
// location used when rewriting links to the note. Section pages
// (index/_index) link to their directory.
func Permalink(rel string) string {
	p := strings.TrimSuffix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), ".md")
	dir, base := path.Split(p)
	if base == "index" || base == "_index" {
		p = strings.TrimSuffix(dir, "/")
	}
	if p == "" || p == "." {
		return "/"
	}
	return "/" + p
}

// anchorize turns a section fragment into a Hugo heading anchor.
func anchorize(fragment string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(fragment)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// humanize turns a file stem or callout kind into display text.
func humanize(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
