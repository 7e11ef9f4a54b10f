package artifact

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLayoutPaths(t *testing.T) {
	if got := DocumentPath("report.pdf"); got != "documents/report.pdf" {
		t.Errorf("DocumentPath = %q", got)
	}
	if got := PagePath("report.pdf", 3, "txt"); got != "report.pdf/page-0003.txt" {
		t.Errorf("PagePath = %q", got)
	}
	if got := FigurePath("report.pdf", "figure-2", "png"); got != "report.pdf/figure_figure-2.png" {
		t.Errorf("FigurePath = %q", got)
	}
	if got := ManifestPath("report.pdf"); got != "report.pdf/manifest.json" {
		t.Errorf("ManifestPath = %q", got)
	}
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	if got := RunSummaryPath(ts); got != "status/run-20260824T103000Z.json" {
		t.Errorf("RunSummaryPath = %q", got)
	}
}

func TestLocal_RoundTrip(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	url, err := store.Upload(ctx, PagePath("doc.pdf", 1, "txt"), []byte("page one"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("url = %q, want file:// scheme", url)
	}
	if _, err := store.Upload(ctx, ManifestPath("doc.pdf"), []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upload(ctx, DocumentPath("doc.pdf"), []byte("raw")); err != nil {
		t.Fatal(err)
	}

	keys, err := store.List(ctx, DocumentPrefix("doc.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys under document prefix, want 2: %v", len(keys), keys)
	}
	// documents/doc.pdf must not match the per-document prefix.
	for _, k := range keys {
		if strings.HasPrefix(k, "documents/") {
			t.Errorf("original bytes matched the artifact prefix: %s", k)
		}
	}

	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			t.Fatal(err)
		}
	}
	keys, err = store.List(ctx, DocumentPrefix("doc.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("keys remain after delete: %v", keys)
	}

	// Deleting a missing key is not an error.
	if err := store.Delete(ctx, "doc.pdf/page-0099.txt"); err != nil {
		t.Errorf("delete of missing key: %v", err)
	}
}
