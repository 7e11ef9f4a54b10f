package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/artifact"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/chunker"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/extractor"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/table"
)

// Vision calls are serialized; multimodal endpoints throttle per account,
// not per document.
const visionConcurrency = 1

// Deps are the orchestrator's collaborators, built by the factory or by
// tests with fakes.
type Deps struct {
	Source    domain.InputSource
	Artifacts domain.ArtifactStore
	Registry  *extractor.Registry
	Renderer  domain.TableRenderer
	Describer domain.MediaDescriber
	Embedder  domain.EmbeddingsProvider
	Store     domain.VectorStore
	Counter   domain.TokenCounter
	Chunker   *chunker.Chunker
}

// Orchestrator drives documents through read, extract, enrich, chunk,
// embed and upsert. Document, page and embed parallelism are each bounded
// by their own semaphore.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	docSem    chan struct{}
	pageSem   chan struct{}
	embedSem  chan struct{}
	visionSem chan struct{}
}

func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    log.WithComponent("pipeline"),
		docSem:    make(chan struct{}, cfg.Performance.MaxWorkers),
		pageSem:   make(chan struct{}, cfg.Extraction.MaxPageConcurrency),
		embedSem:  make(chan struct{}, cfg.Embeddings.MaxConcurrency),
		visionSem: make(chan struct{}, visionConcurrency),
	}
}

// Close releases the vector store connection.
func (o *Orchestrator) Close() error {
	return o.deps.Store.Close()
}

func (o *Orchestrator) acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the configured document action and persists a run summary.
func (o *Orchestrator) Run(ctx context.Context) (*domain.PipelineStatus, error) {
	started := time.Now()
	status := &domain.PipelineStatus{
		RunID:             uuid.NewString(),
		StartedAt:         started,
		ConfigFingerprint: o.cfg.Fingerprint(),
	}

	var results []domain.IngestionResult
	var err error
	switch o.cfg.Action.DocumentAction {
	case config.ActionAdd:
		results, err = o.runAdd(ctx)
	case config.ActionRemove:
		results, err = o.runRemove(ctx)
	case config.ActionRemoveAll:
		results, err = o.runRemoveAll(ctx)
	default:
		return nil, domain.Errorf(domain.KindConfigInvalid, "pipeline.Run",
			"unknown document action: %s", o.cfg.Action.DocumentAction)
	}
	if err != nil {
		return nil, err
	}

	status.FinishedAt = time.Now()
	status.Results = results
	status.TotalDocuments = len(results)
	for _, r := range results {
		if r.Success {
			status.Succeeded++
		} else {
			status.Failed++
		}
	}
	if status.TotalDocuments > 0 {
		status.SuccessRate = float64(status.Succeeded) / float64(status.TotalDocuments)
	}

	o.persistSummary(ctx, started, status)
	o.logger.Info("run finished",
		"run_id", status.RunID,
		"documents", status.TotalDocuments,
		"succeeded", status.Succeeded,
		"failed", status.Failed,
		"elapsed", status.FinishedAt.Sub(started))
	return status, nil
}

func (o *Orchestrator) persistSummary(ctx context.Context, started time.Time, status *domain.PipelineStatus) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		o.logger.Warn("run summary not serializable", "error", err)
		return
	}
	if _, err := o.deps.Artifacts.Upload(ctx, artifact.RunSummaryPath(started), data); err != nil {
		o.logger.Warn("run summary not persisted", "error", err)
	}
}

func (o *Orchestrator) runAdd(ctx context.Context) ([]domain.IngestionResult, error) {
	files, err := o.deps.Source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list input: %w", err)
	}
	o.logger.Info("starting ingestion", "documents", len(files),
		"max_workers", cap(o.docSem))

	results := make([]domain.IngestionResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range files {
		i, id := i, id
		g.Go(func() error {
			if err := o.acquire(gctx, o.docSem); err != nil {
				results[i] = domain.IngestionResult{
					Filename:     id,
					ErrorMessage: err.Error(),
				}
				return nil
			}
			defer func() { <-o.docSem }()
			results[i] = o.ingestDocument(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ingestDocument is the per-document state machine. Failures are terminal
// for the document only; the result carries the error kind outward.
func (o *Orchestrator) ingestDocument(ctx context.Context, id string) domain.IngestionResult {
	started := time.Now()
	res := domain.IngestionResult{Filename: id}
	fail := func(stage string, err error) domain.IngestionResult {
		res.Success = false
		res.ErrorKind = domain.KindOf(err)
		res.ErrorMessage = err.Error()
		res.ProcessingSecs = time.Since(started).Seconds()
		o.logger.Error("document failed",
			"document", id, "stage", stage,
			"error_kind", string(res.ErrorKind), "error", err)
		return res
	}

	// READ
	sf, err := Retry(ctx, "source.Read", StorePolicy, func(ctx context.Context) (*domain.SourceFile, error) {
		return o.deps.Source.Read(ctx, id)
	})
	if err != nil {
		return fail("read", err)
	}
	res.Filename = sf.Filename

	sum := md5.Sum(sf.Data)
	doc := domain.DocumentMetadata{
		Sourcefile: sf.Filename,
		MD5Hash:    hex.EncodeToString(sum[:]),
		FileSize:   int64(len(sf.Data)),
	}

	// UPLOAD the original bytes.
	doc.StorageURL, err = Retry(ctx, "artifact.UploadDocument", StorePolicy, func(ctx context.Context) (string, error) {
		return o.deps.Artifacts.Upload(ctx, artifact.DocumentPath(sf.Filename), sf.Data)
	})
	if err != nil {
		return fail("upload", err)
	}

	ext, err := o.deps.Registry.ForFile(sf.Filename)
	if err != nil {
		return fail("extract", err)
	}

	// SPLIT
	pageCount, err := Retry(ctx, "extractor.PageCount", ExtractPolicy, func(ctx context.Context) (int, error) {
		return ext.PageCount(ctx, sf.Filename, sf.Data)
	})
	if err != nil {
		return fail("split", err)
	}
	o.logger.Debug("document split", "document", sf.Filename, "pages", pageCount)

	// EXTRACT pages under the page semaphore.
	pages, pageMeta, pageWarnings, err := o.extractPages(ctx, ext, sf, doc, pageCount)
	if err != nil {
		return fail("extract", err)
	}
	res.Warnings = append(res.Warnings, pageWarnings...)
	if len(pages) == 0 {
		return fail("extract", domain.Errorf(domain.KindExtractionFailed,
			"pipeline.ingestDocument", "no pages extracted from %s", sf.Filename))
	}

	// ENRICH
	res.Warnings = append(res.Warnings, o.enrich(ctx, doc, pages)...)

	// CHUNK
	metaFor := func(pageNum int) domain.PageMetadata {
		if m, ok := pageMeta[pageNum]; ok {
			return m
		}
		return domain.PageMetadata{PageNum: pageNum, Sourcepage: domain.Sourcepage(sf.Filename, pageNum)}
	}
	chunkRes, err := o.deps.Chunker.ChunkDocument(doc, pages, metaFor)
	if err != nil {
		return fail("chunk", err)
	}
	res.Warnings = append(res.Warnings, chunkRes.Warnings...)
	chunks := chunkRes.Chunks

	// EMBED, unless the store vectorizes on its side.
	if !o.cfg.Embeddings.Integrated {
		if err := o.embedChunks(ctx, chunks); err != nil {
			return fail("embed", err)
		}
	}

	// DELETE_PRIOR, then UPSERT: replace is idempotent because chunk ids
	// are deterministic.
	_, err = Retry(ctx, "store.DeleteBySourcefile", StorePolicy, func(ctx context.Context) (int, error) {
		return o.deps.Store.DeleteBySourcefile(ctx, sf.Filename)
	})
	if err != nil {
		return fail("delete_prior", err)
	}

	indexed := 0
	if len(chunks) > 0 {
		indexed, err = Retry(ctx, "store.UpsertDocuments", StorePolicy, func(ctx context.Context) (int, error) {
			return o.deps.Store.UpsertDocuments(ctx, chunks, !o.cfg.Embeddings.Integrated)
		})
		if err != nil {
			return fail("upsert", err)
		}
	} else {
		res.Warnings = append(res.Warnings, "document produced no chunks")
	}

	o.writeManifest(ctx, doc, pageMeta, chunks, res.Warnings)

	res.Success = true
	res.ChunksIndexed = indexed
	res.ProcessingSecs = time.Since(started).Seconds()
	o.logger.Info("document ingested",
		"document", sf.Filename,
		"pages", len(pages),
		"chunks", indexed,
		"warnings", len(res.Warnings),
		"seconds", res.ProcessingSecs)
	return res
}

func (o *Orchestrator) extractPages(ctx context.Context, ext domain.Extractor, sf *domain.SourceFile, doc domain.DocumentMetadata, pageCount int) ([]domain.ExtractedPage, map[int]domain.PageMetadata, []string, error) {
	extracted := make([]*domain.ExtractedPage, pageCount)
	metas := make([]*domain.PageMetadata, pageCount)
	var warnMu sync.Mutex
	var warnings []string

	var splitter domain.PageSplitter
	if ext.Paginated() {
		splitter = extractor.NewTextProjection(ext)
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 1; p <= pageCount; p++ {
		p := p
		g.Go(func() error {
			if err := o.acquire(gctx, o.pageSem); err != nil {
				return err
			}
			defer func() { <-o.pageSem }()

			page, err := Retry(gctx, "extractor.ExtractPage", ExtractPolicy, func(ctx context.Context) (*domain.ExtractedPage, error) {
				return ext.ExtractPage(ctx, sf.Filename, sf.Data, p)
			})
			if err != nil {
				if o.cfg.Extraction.PartialPageTolerance {
					warnMu.Lock()
					warnings = append(warnings, fmt.Sprintf("page %d skipped: %v", p, err))
					warnMu.Unlock()
					return nil
				}
				return domain.E(domain.KindExtractionFailed, "pipeline.extractPages",
					fmt.Errorf("page %d of %s: %w", p, sf.Filename, err))
			}

			meta := domain.PageMetadata{
				PageNum:    p,
				Sourcepage: domain.Sourcepage(sf.Filename, p),
			}
			if splitter != nil {
				content, extn, err := splitter.SplitPage(gctx, sf.Filename, sf.Data, p)
				if err != nil {
					warnMu.Lock()
					warnings = append(warnings, fmt.Sprintf("page %d artifact not produced: %v", p, err))
					warnMu.Unlock()
				} else {
					meta.PageBlobURL, err = Retry(gctx, "artifact.UploadPage", StorePolicy, func(ctx context.Context) (string, error) {
						return o.deps.Artifacts.Upload(ctx, artifact.PagePath(sf.Filename, p, extn), content)
					})
					if err != nil {
						return err
					}
				}
			}

			extracted[p-1] = page
			metas[p-1] = &meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	var pages []domain.ExtractedPage
	pageMeta := make(map[int]domain.PageMetadata, pageCount)
	for i, page := range extracted {
		if page == nil {
			continue
		}
		pages = append(pages, *page)
		pageMeta[page.PageNum] = *metas[i]
	}
	sort.Strings(warnings)
	return pages, pageMeta, warnings, nil
}

// enrich renders tables, uploads figure bytes and fills figure
// descriptions. Enrichment failures degrade with warnings; they never
// fail the document.
func (o *Orchestrator) enrich(ctx context.Context, doc domain.DocumentMetadata, pages []domain.ExtractedPage) []string {
	var warnings []string

	for i := range pages {
		page := &pages[i]
		for _, t := range page.Tables {
			rendered, err := o.deps.Renderer.Render(t)
			if err != nil {
				warnings = append(warnings,
					fmt.Sprintf("table %s rendered with fallback: %v", t.TableID, err))
				rendered = table.RenderFallback(t)
			}
			t.RenderedText = rendered
			t.TokenCount = o.deps.Counter.Count(rendered)
		}

		for _, img := range page.Images {
			if len(img.ImageBytes) == 0 {
				continue
			}
			url, err := Retry(ctx, "artifact.UploadFigure", StorePolicy, func(ctx context.Context) (string, error) {
				return o.deps.Artifacts.Upload(ctx, artifact.FigurePath(doc.Sourcefile, img.FigureID, "png"), img.ImageBytes)
			})
			if err != nil {
				warnings = append(warnings,
					fmt.Sprintf("figure %s not archived: %v", img.FigureID, err))
				continue
			}
			img.FigureURL = url
			img.ImageBytes = nil
		}
	}

	if err := o.acquire(ctx, o.visionSem); err != nil {
		return warnings
	}
	defer func() { <-o.visionSem }()
	for i := range pages {
		page := &pages[i]
		if len(page.Images) == 0 {
			continue
		}
		_, err := Retry(ctx, "media.Describe", VisionPolicy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Describer.Describe(ctx, page.Images, page.Text)
		})
		if err != nil {
			warnings = append(warnings,
				fmt.Sprintf("figure descriptions unavailable for page %d: %v", page.PageNum, err))
		}
	}
	return warnings
}

// embedChunks fans batches out under the embed semaphore and writes each
// vector back to its chunk's position, preserving input order.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []domain.ChunkDocument) error {
	if len(chunks) == 0 {
		return nil
	}
	batches := formBatches(chunks, o.deps.Embedder.MaxBatchSize(), o.deps.Embedder.MaxBatchTokens())

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			if err := o.acquire(gctx, o.embedSem); err != nil {
				return err
			}
			defer func() { <-o.embedSem }()

			vecs, err := Retry(gctx, "embedder.EmbedBatch", EmbedPolicy, func(ctx context.Context) ([][]float32, error) {
				return o.deps.Embedder.EmbedBatch(ctx, b.texts)
			})
			if err != nil {
				return err
			}
			if len(vecs) != len(b.texts) {
				return domain.Errorf(domain.KindEmbeddingShape, "pipeline.embedChunks",
					"got %d vectors for %d texts", len(vecs), len(b.texts))
			}
			for j, vec := range vecs {
				chunks[b.start+j].Embedding = vec
			}
			return nil
		})
	}
	return g.Wait()
}

// manifest records what one document contributed to the index.
type manifest struct {
	Document    domain.DocumentMetadata `json:"document"`
	Pages       []domain.PageMetadata   `json:"pages"`
	ChunkIDs    []string                `json:"chunk_ids"`
	TableIDs    []string                `json:"table_ids,omitempty"`
	FigureIDs   []string                `json:"figure_ids,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	CompletedAt time.Time               `json:"completed_at"`
}

func (o *Orchestrator) writeManifest(ctx context.Context, doc domain.DocumentMetadata, pageMeta map[int]domain.PageMetadata, chunks []domain.ChunkDocument, warnings []string) {
	m := manifest{
		Document:    doc,
		Warnings:    warnings,
		CompletedAt: time.Now().UTC(),
	}
	nums := make([]int, 0, len(pageMeta))
	for n := range pageMeta {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		m.Pages = append(m.Pages, pageMeta[n])
	}
	seenTables := map[string]bool{}
	seenFigures := map[string]bool{}
	for _, chunk := range chunks {
		m.ChunkIDs = append(m.ChunkIDs, chunk.ChunkID)
		for _, id := range chunk.TableIDs {
			if !seenTables[id] {
				seenTables[id] = true
				m.TableIDs = append(m.TableIDs, id)
			}
		}
		for _, id := range chunk.FigureIDs {
			if !seenFigures[id] {
				seenFigures[id] = true
				m.FigureIDs = append(m.FigureIDs, id)
			}
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		o.logger.Warn("manifest not serializable", "document", doc.Sourcefile, "error", err)
		return
	}
	if _, err := o.deps.Artifacts.Upload(ctx, artifact.ManifestPath(doc.Sourcefile), data); err != nil {
		o.logger.Warn("manifest not persisted", "document", doc.Sourcefile, "error", err)
	}
}

func (o *Orchestrator) runRemove(ctx context.Context) ([]domain.IngestionResult, error) {
	files, err := o.deps.Source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list input: %w", err)
	}

	results := make([]domain.IngestionResult, 0, len(files))
	for _, id := range files {
		started := time.Now()
		filename := baseName(id)
		res := domain.IngestionResult{Filename: filename}

		deleted, err := Retry(ctx, "store.DeleteBySourcefile", StorePolicy, func(ctx context.Context) (int, error) {
			return o.deps.Store.DeleteBySourcefile(ctx, filename)
		})
		if err != nil {
			res.ErrorKind = domain.KindOf(err)
			res.ErrorMessage = err.Error()
		} else {
			res.Success = true
			res.ChunksIndexed = deleted
			if o.cfg.Action.CleanupArtifacts {
				if err := o.removeArtifacts(ctx, filename); err != nil {
					res.Warnings = append(res.Warnings, fmt.Sprintf("artifacts not cleaned: %v", err))
				}
			}
			o.logger.Info("document removed", "document", filename, "chunks_deleted", deleted)
		}
		res.ProcessingSecs = time.Since(started).Seconds()
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) removeArtifacts(ctx context.Context, sourcefile string) error {
	keys, err := o.deps.Artifacts.List(ctx, artifact.DocumentPrefix(sourcefile))
	if err != nil {
		return err
	}
	keys = append(keys, artifact.DocumentPath(sourcefile))
	for _, key := range keys {
		if err := o.deps.Artifacts.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runRemoveAll(ctx context.Context) ([]domain.IngestionResult, error) {
	started := time.Now()
	res := domain.IngestionResult{Filename: "*"}

	deleted, err := Retry(ctx, "store.DeleteAll", StorePolicy, func(ctx context.Context) (int, error) {
		return o.deps.Store.DeleteAll(ctx)
	})
	if err != nil {
		res.ErrorKind = domain.KindOf(err)
		res.ErrorMessage = err.Error()
	} else {
		res.Success = true
		res.ChunksIndexed = deleted
		if o.cfg.Action.CleanupArtifacts {
			if err := o.removeAllArtifacts(ctx); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("artifacts not cleaned: %v", err))
			}
		}
		o.logger.Info("index cleared", "chunks_deleted", deleted)
	}
	res.ProcessingSecs = time.Since(started).Seconds()
	return []domain.IngestionResult{res}, nil
}

// removeAllArtifacts deletes every artifact except the run summaries,
// which remain as the audit trail of past runs.
func (o *Orchestrator) removeAllArtifacts(ctx context.Context) error {
	keys, err := o.deps.Artifacts.List(ctx, "")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "status/") {
			continue
		}
		if err := o.deps.Artifacts.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func baseName(id string) string { return path.Base(id) }
