package hugo

import (
	"path"
	"strings"
)

// AttachmentResolver relocates referenced binary files into the site's
// static tree. It only decides paths; copying bytes is the writer's
// job. Whether a target is an attachment at all is decided purely by
// its extension against the configured allow-list.
type AttachmentResolver struct {
	exts    map[string]struct{}
	flatten bool
}

// NewAttachmentResolver builds a resolver for the given extensions
// (without dots, case-insensitive). With flatten=true every attachment
// lands in a single /attachments directory; otherwise the vault tree
// is mirrored.
func NewAttachmentResolver(exts []string, flatten bool) *AttachmentResolver {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return &AttachmentResolver{exts: set, flatten: flatten}
}

// IsAttachment reports whether target carries an allow-listed extension.
func (r *AttachmentResolver) IsAttachment(target string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(target), "."))
	if ext == "" {
		return false
	}
	_, ok := r.exts[ext]
	return ok
}

// Resolve maps a referenced attachment to its static-tree output path.
// Targets starting with "./" or "../" are taken relative to the source
// note's directory; everything else is vault-root-relative. The second
// return is false when the extension is not in the configured set, in
// which case the reference is passed through untouched.
func (r *AttachmentResolver) Resolve(rawTarget, sourcePath string) (string, bool) {
	if !r.IsAttachment(rawTarget) {
		return "", false
	}
	target := strings.ReplaceAll(rawTarget, "\\", "/")

	if r.flatten {
		return "/attachments/" + path.Base(target), true
	}

	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		target = path.Join(path.Dir(sourcePath), target)
	}
	target = strings.TrimPrefix(path.Clean(target), "/")
	if strings.HasPrefix(target, "..") {
		// Escapes the vault: fall back to the bare file name.
		return "/" + path.Base(target), true
	}
	return "/" + target, true
}

// VaultPath maps an attachment back to the vault-relative path the
// writer should copy from, mirroring the Resolve addressing rules.
func (r *AttachmentResolver) VaultPath(rawTarget, sourcePath string) string {
	target := strings.ReplaceAll(rawTarget, "\\", "/")
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		target = path.Join(path.Dir(sourcePath), target)
	}
	return strings.TrimPrefix(path.Clean(target), "/")
}
