package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/chunker"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/extractor"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/media"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/table"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/token"
)

func fastRetries(t *testing.T) {
	t.Helper()
	oldExtract, oldEmbed, oldVision, oldStore := ExtractPolicy, EmbedPolicy, VisionPolicy, StorePolicy
	fast := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}
	ExtractPolicy, EmbedPolicy, VisionPolicy, StorePolicy = fast, fast, fast, fast
	t.Cleanup(func() {
		ExtractPolicy, EmbedPolicy, VisionPolicy, StorePolicy = oldExtract, oldEmbed, oldVision, oldStore
	})
}

// fakeSource serves in-memory files.
type fakeSource struct {
	files map[string][]byte
}

func (s *fakeSource) List(ctx context.Context) ([]string, error) {
	var out []string
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeSource) Read(ctx context.Context, id string) (*domain.SourceFile, error) {
	data, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", id)
	}
	return &domain.SourceFile{Filename: id, Data: data, SourceURL: "mem://" + id}, nil
}

// fakeArtifacts records uploads in memory.
type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: map[string][]byte{}}
}

func (a *fakeArtifacts) Upload(ctx context.Context, p string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[p] = data
	return "mem://" + p, nil
}

func (a *fakeArtifacts) List(ctx context.Context, prefix string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for k := range a.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *fakeArtifacts) Delete(ctx context.Context, p string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, p)
	return nil
}

// fakeExtractor treats file content as newline-separated pages. failPage
// always fails with failKind; delay holds each extraction open so tests
// can observe concurrency.
type fakeExtractor struct {
	failPage int
	failKind domain.Kind
	delay    time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (e *fakeExtractor) Supports(filename string) bool {
	return strings.HasSuffix(filename, ".fake")
}

func (e *fakeExtractor) Paginated() bool { return true }

func (e *fakeExtractor) pages(data []byte) []string {
	return strings.Split(string(data), "\n")
}

func (e *fakeExtractor) PageCount(ctx context.Context, filename string, data []byte) (int, error) {
	return len(e.pages(data)), nil
}

func (e *fakeExtractor) ExtractPage(ctx context.Context, filename string, data []byte, pageNum int) (*domain.ExtractedPage, error) {
	e.mu.Lock()
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if pageNum == e.failPage {
		return nil, domain.Errorf(e.failKind, "fakeExtractor", "page %d is broken", pageNum)
	}
	return &domain.ExtractedPage{PageNum: pageNum, Text: e.pages(data)[pageNum-1]}, nil
}

// memStore is an in-memory vector store keyed by chunk id.
type memStore struct {
	mu     sync.Mutex
	chunks map[string]domain.ChunkDocument
}

func newMemStore() *memStore { return &memStore{chunks: map[string]domain.ChunkDocument{}} }

func (s *memStore) UpsertDocuments(ctx context.Context, chunks []domain.ChunkDocument, includeEmbeddings bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		if includeEmbeddings && len(chunk.Embedding) == 0 {
			return 0, domain.Errorf(domain.KindEmbeddingShape, "memStore", "chunk %s has no embedding", chunk.ChunkID)
		}
		s.chunks[chunk.ChunkID] = chunk
	}
	return len(chunks), nil
}

func (s *memStore) DeleteBySourcefile(ctx context.Context, sourcefile string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, chunk := range s.chunks {
		if chunk.Document.Sourcefile == sourcefile {
			delete(s.chunks, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks)
	s.chunks = map[string]domain.ChunkDocument{}
	return n, nil
}

func (s *memStore) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	return nil, nil
}

func (s *memStore) Dimensions() int { return 4 }
func (s *memStore) Close() error    { return nil }

func (s *memStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.chunks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// fakeEmbedder hashes text into a vector and tracks concurrency.
type fakeEmbedder struct {
	batchSize   int
	delay       time.Duration
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	failures    int // remaining transient failures
}

func vecFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	v := h.Sum32()
	return []float32{float32(v & 0xff), float32(v >> 8 & 0xff), float32(v >> 16 & 0xff), float32(v >> 24)}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return vecFor(text), nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.failures > 0 {
		e.failures--
		e.mu.Unlock()
		return nil, domain.Errorf(domain.KindRateLimited, "fakeEmbedder", "throttled")
	}
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vecFor(t)
	}

	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int   { return 4 }
func (e *fakeEmbedder) ModelName() string { return "fake" }
func (e *fakeEmbedder) MaxSeqLength() int { return 1024 }
func (e *fakeEmbedder) MaxBatchSize() int {
	if e.batchSize > 0 {
		return e.batchSize
	}
	return 64
}
func (e *fakeEmbedder) MaxBatchTokens() int { return 100000 }

func testConfig() *config.Config {
	return &config.Config{
		Extraction: config.ExtractionConfig{
			MaxPageConcurrency:   4,
			PartialPageTolerance: true,
		},
		Embeddings:  config.EmbeddingsConfig{Provider: "fake", MaxConcurrency: 2},
		Performance: config.PerformanceConfig{MaxWorkers: 2},
		Action:      config.ActionConfig{DocumentAction: config.ActionAdd},
		Table:       config.TableConfig{Render: "markdown"},
	}
}

func testOrchestrator(t *testing.T, cfg *config.Config, src *fakeSource, ext *fakeExtractor, store *memStore, emb *fakeEmbedder) (*Orchestrator, *fakeArtifacts) {
	t.Helper()
	renderer, err := table.NewRenderer("markdown")
	require.NoError(t, err)
	ch, err := chunker.New(token.WordCounter{}, chunker.Options{TargetTokens: 50, MaxSeqLength: 1024})
	require.NoError(t, err)

	registry := extractor.NewRegistry()
	registry.Register(ext)

	artifacts := newFakeArtifacts()
	o := NewOrchestrator(cfg, Deps{
		Source:    src,
		Artifacts: artifacts,
		Registry:  registry,
		Renderer:  renderer,
		Describer: media.Disabled{},
		Embedder:  emb,
		Store:     store,
		Counter:   token.WordCounter{},
		Chunker:   ch,
	})
	return o, artifacts
}

func TestRun_AddThenReAddIsIdempotent(t *testing.T) {
	fastRetries(t)
	src := &fakeSource{files: map[string][]byte{
		"a.fake": []byte("alpha beta gamma\ndelta epsilon"),
	}}
	store := newMemStore()
	o, artifacts := testOrchestrator(t, testConfig(), src, &fakeExtractor{}, store, &fakeEmbedder{})

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, status.TotalDocuments)
	require.True(t, status.AllSucceeded(), "first run: %+v", status.Results)
	firstIDs := store.ids()
	require.NotEmpty(t, firstIDs)
	assert.Equal(t, len(firstIDs), status.Results[0].ChunksIndexed)

	status, err = o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, status.AllSucceeded(), "second run: %+v", status.Results)
	assert.Equal(t, firstIDs, store.ids(), "unchanged input must reproduce the same chunk ids")

	// Original bytes, page artifacts and manifest were all archived.
	keys, err := artifacts.List(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, keys, "documents/a.fake")
	assert.Contains(t, keys, "a.fake/page-0001.txt")
	assert.Contains(t, keys, "a.fake/manifest.json")
}

func TestRun_PartialPageTolerance(t *testing.T) {
	fastRetries(t)
	pages := "one one\ntwo two\nthree three\nfour four\nfive five"

	t.Run("tolerant", func(t *testing.T) {
		src := &fakeSource{files: map[string][]byte{"doc.fake": []byte(pages)}}
		store := newMemStore()
		ext := &fakeExtractor{failPage: 3, failKind: domain.KindTransientNetwork}
		o, _ := testOrchestrator(t, testConfig(), src, ext, store, &fakeEmbedder{})

		status, err := o.Run(context.Background())
		require.NoError(t, err)
		res := status.Results[0]
		assert.True(t, res.Success, "document should survive one broken page: %+v", res)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, strings.Join(res.Warnings, "; "), "page 3")

		for _, id := range store.ids() {
			assert.NotContains(t, id, "_p3_", "page 3 must contribute no chunks")
		}
	})

	t.Run("strict", func(t *testing.T) {
		cfg := testConfig()
		cfg.Extraction.PartialPageTolerance = false
		src := &fakeSource{files: map[string][]byte{"doc.fake": []byte(pages)}}
		ext := &fakeExtractor{failPage: 3, failKind: domain.KindTransientNetwork}
		o, _ := testOrchestrator(t, cfg, src, ext, newMemStore(), &fakeEmbedder{})

		status, err := o.Run(context.Background())
		require.NoError(t, err)
		res := status.Results[0]
		assert.False(t, res.Success)
		assert.Equal(t, domain.KindExtractionFailed, res.ErrorKind)
	})
}

func TestRun_UnsupportedFormat(t *testing.T) {
	fastRetries(t)
	src := &fakeSource{files: map[string][]byte{"blob.bin": []byte("xx")}}
	o, _ := testOrchestrator(t, testConfig(), src, &fakeExtractor{}, newMemStore(), &fakeEmbedder{})

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	res := status.Results[0]
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindUnsupportedFormat, res.ErrorKind)
}

func TestRun_EmbedRetriesTransient(t *testing.T) {
	fastRetries(t)
	src := &fakeSource{files: map[string][]byte{"a.fake": []byte("hello world")}}
	store := newMemStore()
	emb := &fakeEmbedder{failures: 2}
	o, _ := testOrchestrator(t, testConfig(), src, &fakeExtractor{}, store, emb)

	status, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, status.AllSucceeded(), "two throttles fit inside three attempts: %+v", status.Results)
	assert.NotEmpty(t, store.ids())
}

func TestEmbedChunks_OrderPreserved(t *testing.T) {
	fastRetries(t)
	emb := &fakeEmbedder{batchSize: 2, delay: 5 * time.Millisecond}
	o, _ := testOrchestrator(t, testConfig(), &fakeSource{}, &fakeExtractor{}, newMemStore(), emb)

	chunks := make([]domain.ChunkDocument, 9)
	for i := range chunks {
		chunks[i] = domain.ChunkDocument{
			ChunkID:    fmt.Sprintf("d_p1_c%d", i+1),
			Text:       fmt.Sprintf("chunk number %d", i),
			TokenCount: 3,
		}
	}
	require.NoError(t, o.embedChunks(context.Background(), chunks))

	for i, chunk := range chunks {
		assert.Equal(t, vecFor(chunk.Text), chunk.Embedding, "chunk %d got another chunk's vector", i)
	}
	assert.LessOrEqual(t, emb.maxInFlight, 2, "embed concurrency must respect the semaphore")
	assert.Greater(t, emb.maxInFlight, 0)
}

func TestRun_DocumentWorkerBound(t *testing.T) {
	fastRetries(t)
	files := map[string][]byte{}
	for i := 0; i < 6; i++ {
		files[fmt.Sprintf("doc%d.fake", i)] = []byte("alpha beta gamma")
	}
	src := &fakeSource{files: files}
	ext := &fakeExtractor{delay: 10 * time.Millisecond}
	cfg := testConfig()

	o, _ := testOrchestrator(t, cfg, src, ext, newMemStore(), &fakeEmbedder{})
	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, status.AllSucceeded(), "%+v", status.Results)

	// Single-page documents, so concurrent extractions equal concurrent
	// documents, which the worker semaphore caps.
	assert.LessOrEqual(t, ext.maxInFlight, cfg.Performance.MaxWorkers,
		"document concurrency must respect max_workers")
	assert.Greater(t, ext.maxInFlight, 0)
}

func TestRun_Remove(t *testing.T) {
	fastRetries(t)
	src := &fakeSource{files: map[string][]byte{"a.fake": []byte("alpha beta")}}
	store := newMemStore()

	cfg := testConfig()
	o, artifacts := testOrchestrator(t, cfg, src, &fakeExtractor{}, store, &fakeEmbedder{})
	_, err := o.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, store.ids())

	cfg.Action.DocumentAction = config.ActionRemove
	cfg.Action.CleanupArtifacts = true
	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, status.AllSucceeded())
	assert.Empty(t, store.ids())

	keys, err := artifacts.List(context.Background(), "a.fake/")
	require.NoError(t, err)
	assert.Empty(t, keys, "per-document artifacts should be cleaned up")
}

func TestRun_RemoveAll(t *testing.T) {
	fastRetries(t)
	src := &fakeSource{files: map[string][]byte{
		"a.fake": []byte("alpha"),
		"b.fake": []byte("beta"),
	}}
	store := newMemStore()
	cfg := testConfig()
	o, artifacts := testOrchestrator(t, cfg, src, &fakeExtractor{}, store, &fakeEmbedder{})

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	total := len(store.ids())
	require.Greater(t, total, 0)

	cfg.Action.DocumentAction = config.ActionRemoveAll
	cfg.Action.CleanupArtifacts = true
	status, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Results, 1)
	assert.Equal(t, total, status.Results[0].ChunksIndexed)
	assert.Empty(t, store.ids())

	// Document artifacts are gone; run summaries survive as the audit
	// trail.
	keys, err := artifacts.List(context.Background(), "")
	require.NoError(t, err)
	for _, key := range keys {
		assert.True(t, strings.HasPrefix(key, "status/"), "artifact %s should have been cleaned", key)
	}
	assert.NotEmpty(t, keys)
}

func TestFormBatches(t *testing.T) {
	chunks := func(tokens ...int) []domain.ChunkDocument {
		out := make([]domain.ChunkDocument, len(tokens))
		for i, n := range tokens {
			out[i] = domain.ChunkDocument{Text: fmt.Sprintf("c%d", i), TokenCount: n}
		}
		return out
	}

	t.Run("size bound", func(t *testing.T) {
		batches := formBatches(chunks(1, 1, 1, 1, 1), 2, 0)
		require.Len(t, batches, 3)
		assert.Equal(t, 0, batches[0].start)
		assert.Equal(t, 2, batches[1].start)
		assert.Equal(t, 4, batches[2].start)
	})

	t.Run("token bound", func(t *testing.T) {
		batches := formBatches(chunks(40, 40, 40), 10, 100)
		require.Len(t, batches, 2)
		assert.Len(t, batches[0].texts, 2)
		assert.Len(t, batches[1].texts, 1)
	})

	t.Run("oversize chunk travels alone", func(t *testing.T) {
		batches := formBatches(chunks(10, 500, 10), 10, 100)
		require.Len(t, batches, 3)
		assert.Equal(t, 500, batches[1].tokens)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, formBatches(nil, 10, 100))
	})
}

func TestRetry(t *testing.T) {
	fastRetries(t)
	ctx := context.Background()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		out, err := Retry(ctx, "op", StorePolicy, func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, domain.Errorf(domain.KindTransientNetwork, "op", "flaky")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, out)
		assert.Equal(t, 3, calls)
	})

	t.Run("terminal error is not retried", func(t *testing.T) {
		calls := 0
		_, err := Retry(ctx, "op", StorePolicy, func(ctx context.Context) (int, error) {
			calls++
			return 0, domain.Errorf(domain.KindUnsupportedFormat, "op", "nope")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, domain.KindUnsupportedFormat, domain.KindOf(err))
	})

	t.Run("exhaustion returns last error", func(t *testing.T) {
		calls := 0
		_, err := Retry(ctx, "op", StorePolicy, func(ctx context.Context) (int, error) {
			calls++
			return 0, domain.Errorf(domain.KindRateLimited, "op", "still throttled")
		})
		require.Error(t, err)
		assert.Equal(t, StorePolicy.MaxAttempts, calls)
		assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Retry(cctx, "op", StorePolicy, func(ctx context.Context) (int, error) {
			return 0, domain.Errorf(domain.KindTransientNetwork, "op", "flaky")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
