package convert

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/testutil"
)

type harness struct {
	conv    *Converter
	vault   *storage.FS
	content *storage.FS
	static  *storage.FS
	db      *state.DB

	mu     sync.Mutex
	events []string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{}

	h.vault = testutil.Tree(t, "vault")
	h.content = testutil.Tree(t, "content")
	h.static = testutil.Tree(t, "static")
	h.db = testutil.StateDB(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.conv = New(opts, h.vault, h.content, h.static, h.db, logger, func(kind, path string) {
		h.mu.Lock()
		h.events = append(h.events, kind+":"+path)
		h.mu.Unlock()
	})
	return h
}

func defaultOpts() Options {
	return Options{
		Wikilinks:            true,
		Tags:                 true,
		Attachments:          true,
		AttachmentExtensions: []string{"png", "jpg", "pdf"},
		Workers:              2,
	}
}

func (h *harness) output(t *testing.T, path string) string {
	t.Helper()
	data, err := h.content.Read(path)
	if err != nil {
		t.Fatalf("read output %s: %v", path, err)
	}
	return string(data)
}

func TestRun_FullPass(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("alpha.md", []byte("See [[Beta]] for details.\n"))
	_ = h.vault.Write("sub/beta.md", []byte("---\ntitle: Beta\n---\nBody.\n"))
	_ = h.vault.Write("img/pic.png", []byte("not really a png"))

	stats, err := h.conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Documents != 2 || stats.Converted != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Attachments != 1 {
		t.Errorf("attachments = %d, want 1", stats.Attachments)
	}
	if stats.LinksConverted != 1 {
		t.Errorf("links converted = %d, want 1", stats.LinksConverted)
	}

	out := h.output(t, "alpha.md")
	if !strings.Contains(out, "[Beta](/sub/beta)") {
		t.Errorf("link not rewritten:\n%s", out)
	}
	if _, err := h.static.Read("img/pic.png"); err != nil {
		t.Errorf("attachment not copied: %v", err)
	}

	// Both documents are recorded with their checksums.
	cs, err := h.db.Checksums()
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 2 {
		t.Errorf("checksums = %v", cs)
	}

	st := h.conv.Status()
	if st.Phase != PhaseIdle || st.Documents != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestRun_IndexBeforeTransform(t *testing.T) {
	// The target sorts after the referrer; resolution must still work
	// because indexing completes before any transformation starts.
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("a-first.md", []byte("[[z-last]]\n"))
	_ = h.vault.Write("z-last.md", []byte("target\n"))

	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out := h.output(t, "a-first.md"); !strings.Contains(out, "[z-last](/z-last)") {
		t.Errorf("late target not resolved:\n%s", out)
	}
}

func TestRun_UnresolvedRecordsDiagnosticAndPending(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("alpha.md", []byte("See [[missing note]].\n"))

	stats, err := h.conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Diagnostics != 1 {
		t.Errorf("diagnostics = %d, want 1", stats.Diagnostics)
	}
	// Original syntax stays in place.
	if out := h.output(t, "alpha.md"); !strings.Contains(out, "[[missing note]]") {
		t.Errorf("unresolved link altered:\n%s", out)
	}
	srcs, err := h.db.PendingFor([]string{"missing note"})
	if err != nil {
		t.Fatal(err)
	}
	if len(srcs) != 1 || srcs[0] != "alpha.md" {
		t.Errorf("pending sources = %v", srcs)
	}
}

func TestApplyBatch_HealsUnresolvedLink(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("alpha.md", []byte("See [[beta]].\n"))
	_ = h.vault.Write("gamma.md", []byte("unrelated\n"))
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Sentinel to prove unrelated documents are left alone.
	_ = h.content.Write("gamma.md", []byte("sentinel"))

	_ = h.vault.Write("beta.md", []byte("now exists\n"))
	stats, err := h.conv.ApplyBatch(context.Background(), []models.ChangeEvent{
		{Path: "beta.md", Kind: models.Created},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	// beta itself plus the healed alpha; nothing else.
	if stats.Converted != 2 {
		t.Errorf("converted = %d, want 2", stats.Converted)
	}
	if out := h.output(t, "alpha.md"); !strings.Contains(out, "[beta](/beta)") {
		t.Errorf("link not healed:\n%s", out)
	}
	if out := h.output(t, "gamma.md"); out != "sentinel" {
		t.Errorf("unrelated document re-transformed: %q", out)
	}

	// The healed link is no longer pending.
	srcs, _ := h.db.PendingFor([]string{"beta"})
	if len(srcs) != 0 {
		t.Errorf("still pending: %v", srcs)
	}
}

func TestApplyBatch_RemoveDeletesOutputAndState(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("beta.md", []byte("bye\n"))
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_ = h.vault.Delete("beta.md")
	if _, err := h.conv.ApplyBatch(context.Background(), []models.ChangeEvent{
		{Path: "beta.md", Kind: models.Removed},
	}); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	if _, err := h.content.Read("beta.md"); err == nil {
		t.Error("output not deleted")
	}
	cs, _ := h.db.Checksums()
	if len(cs) != 0 {
		t.Errorf("state not pruned: %v", cs)
	}
	if h.conv.Status().Documents != 0 {
		t.Errorf("note still indexed: %+v", h.conv.Status())
	}
}

func TestApplyBatch_AttachmentEvents(t *testing.T) {
	h := newHarness(t, defaultOpts())
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_ = h.vault.Write("diagram.png", []byte("png bytes"))
	stats, err := h.conv.ApplyBatch(context.Background(), []models.ChangeEvent{
		{Path: "diagram.png", Kind: models.Created},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if stats.Attachments != 1 {
		t.Errorf("attachments = %d, want 1", stats.Attachments)
	}
	if _, err := h.static.Read("diagram.png"); err != nil {
		t.Errorf("attachment not copied: %v", err)
	}

	if _, err := h.conv.ApplyBatch(context.Background(), []models.ChangeEvent{
		{Path: "diagram.png", Kind: models.Removed},
	}); err != nil {
		t.Fatalf("ApplyBatch remove: %v", err)
	}
	if _, err := h.static.Read("diagram.png"); err == nil {
		t.Error("attachment not deleted")
	}
}

func TestRun_PrunesVanishedDocuments(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("keep.md", []byte("stays\n"))
	_ = h.vault.Write("gone.md", []byte("goes\n"))
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_ = h.vault.Delete("gone.md")
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if _, err := h.content.Read("gone.md"); err == nil {
		t.Error("stale output survived full pass")
	}
	cs, _ := h.db.Checksums()
	if len(cs) != 1 {
		t.Errorf("checksums = %v", cs)
	}
}

func TestRun_InvalidFrontMatterStillEmits(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("broken.md", []byte("---\n: [ not yaml\n---\nbody survives\n"))

	stats, err := h.conv.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Converted != 1 {
		t.Errorf("converted = %d, want 1", stats.Converted)
	}
	if stats.Diagnostics == 0 {
		t.Error("expected a structural diagnostic")
	}
	if out := h.output(t, "broken.md"); !strings.Contains(out, "body survives") {
		t.Errorf("body lost:\n%s", out)
	}
}

func TestApplyBatch_KeepsStructuralDiagnostic(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("broken.md", []byte("---\n: [ not yaml\n---\nbody survives\n"))
	if _, err := h.conv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// An in-place edit that keeps the front matter broken must not
	// erase the recorded diagnostic.
	_ = h.vault.Write("broken.md", []byte("---\n: [ not yaml\n---\nbody edited\n"))
	if _, err := h.conv.ApplyBatch(context.Background(), []models.ChangeEvent{
		{Path: "broken.md", Kind: models.Modified},
	}); err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	ds, err := h.db.Diagnostics(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Kind != models.DiagStructural || ds[0].Path != "broken.md" {
		t.Errorf("diagnostics after batch = %+v", ds)
	}
}

func TestPreview_LeavesStateUntouched(t *testing.T) {
	h := newHarness(t, defaultOpts())
	_ = h.vault.Write("binary.md", []byte{0xff, 0xfe, 0x00, 'x'})

	if _, _, err := h.conv.Preview("binary.md"); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
	n, err := h.db.CountDiagnostics()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("preview recorded %d diagnostics, want 0", n)
	}
	if _, err := h.content.Read("binary.md"); err == nil {
		t.Error("preview wrote output")
	}
}

func TestCoalesce(t *testing.T) {
	in := []models.ChangeEvent{
		{Path: "a.md", Kind: models.Created},
		{Path: "b.md", Kind: models.Created},
		{Path: "a.md", Kind: models.Modified},
		{Path: "b.md", Kind: models.Removed},
	}
	out := coalesce(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Path != "a.md" || out[0].Kind != models.Modified {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].Path != "b.md" || out[1].Kind != models.Removed {
		t.Errorf("out[1] = %+v", out[1])
	}
}
