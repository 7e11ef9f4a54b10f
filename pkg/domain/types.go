// Package domain holds the entities that flow through the ingestion
// pipeline and the capability interfaces its collaborators implement.
// References between chunks and tables/figures are by id only.
package domain

import (
	"context"
	"fmt"
	"time"
)

// DocumentMetadata identifies one source document. Created once when
// ingestion of the document starts, immutable afterwards.
type DocumentMetadata struct {
	Sourcefile string `json:"sourcefile"`
	StorageURL string `json:"storage_url"`
	MD5Hash    string `json:"md5_hash"`
	FileSize   int64  `json:"file_size"`
}

// PageMetadata identifies one extracted page of a document.
type PageMetadata struct {
	PageNum     int    `json:"page_num"`
	Sourcepage  string `json:"sourcepage"`
	PageBlobURL string `json:"page_blob_url,omitempty"`
}

// Sourcepage builds the citation identifier for a page of a sourcefile.
func Sourcepage(sourcefile string, pageNum int) string {
	return fmt.Sprintf("%s#page=%d", sourcefile, pageNum)
}

// TableCell is one grid cell. Merged cells appear once at their origin
// with RowSpan/ColSpan > 1; non-origin positions are absent from the grid.
type TableCell struct {
	Text    string `json:"text"`
	RowSpan int    `json:"row_span,omitempty"`
	ColSpan int    `json:"col_span,omitempty"`
}

// ExtractedTable is a table found on a page, anchored at Offset inside the
// page text. RenderedText is filled in by the table renderer and is never
// empty after enrichment.
type ExtractedTable struct {
	TableID      string        `json:"table_id"`
	Rows         [][]TableCell `json:"rows"`
	Caption      string        `json:"caption,omitempty"`
	RenderedText string        `json:"rendered_text,omitempty"`
	TokenCount   int           `json:"token_count,omitempty"`
	Offset       int           `json:"offset"`
}

// ExtractedImage is a figure found on a page. After artifact upload exactly
// one of ImageBytes / FigureURL is set. Description is filled in by the
// media describer and stays empty when describing is disabled.
type ExtractedImage struct {
	PageNum     int        `json:"page_num"`
	FigureID    string     `json:"figure_id"`
	BBox        [4]float64 `json:"bbox,omitempty"`
	Caption     string     `json:"caption,omitempty"`
	ImageBytes  []byte     `json:"-"`
	FigureURL   string     `json:"figure_url,omitempty"`
	Description string     `json:"description,omitempty"`
	OCRText     string     `json:"ocr_text,omitempty"`
	Offset      int        `json:"offset"`
}

// ExtractedPage is one page of extracted content. Text plus every
// table's RenderedText plus every image's Description form the enriched
// page text that the chunker operates on.
type ExtractedPage struct {
	PageNum int
	Text    string
	Tables  []*ExtractedTable
	Images  []*ExtractedImage
}

// ChunkDocument is one indexable unit of enriched text.
type ChunkDocument struct {
	Document   DocumentMetadata `json:"document"`
	Page       PageMetadata     `json:"page"`
	ChunkID    string           `json:"chunk_id"`
	Text       string           `json:"text"`
	TokenCount int              `json:"token_count"`
	Embedding  []float32        `json:"embedding,omitempty"`
	TableIDs   []string         `json:"table_ids,omitempty"`
	FigureIDs  []string         `json:"figure_ids,omitempty"`
}

// ChunkID builds the canonical chunk identifier. The format is part of the
// external contract; citations carry it alongside the sourcepage.
func ChunkID(sourcefile string, pageNum, index int) string {
	return fmt.Sprintf("%s_p%d_c%d", sourcefile, pageNum, index)
}

// IngestionResult is the terminal outcome for one document.
type IngestionResult struct {
	Filename       string   `json:"filename"`
	Success        bool     `json:"success"`
	ChunksIndexed  int      `json:"chunks_indexed"`
	ErrorKind      Kind     `json:"error_kind,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	ProcessingSecs float64  `json:"processing_time_seconds"`
}

// PipelineStatus summarizes one run.
type PipelineStatus struct {
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	FinishedAt        time.Time         `json:"finished_at"`
	TotalDocuments    int               `json:"total_documents"`
	Succeeded         int               `json:"succeeded"`
	Failed            int               `json:"failed"`
	SuccessRate       float64           `json:"success_rate"`
	Results           []IngestionResult `json:"results"`
	ConfigFingerprint string            `json:"config_fingerprint"`
}

// AllSucceeded reports whether every document reached a terminal success.
func (s *PipelineStatus) AllSucceeded() bool { return s.Failed == 0 }

// SourceFile is the raw material returned by an input source.
type SourceFile struct {
	Filename  string
	Data      []byte
	SourceURL string
}

// TokenCounter counts tokens the way the embedding model's encoder would.
type TokenCounter interface {
	Count(text string) int
}

// InputSource enumerates and reads source documents.
type InputSource interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, id string) (*SourceFile, error)
}

// ArtifactStore is the durable sink for full documents, per-page
// artifacts, figures, manifests and run summaries.
type ArtifactStore interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// Extractor turns document bytes into ordered extracted pages. Pages are
// independently extractable so the orchestrator can fan them out and
// tolerate per-page failures.
type Extractor interface {
	Supports(filename string) bool
	// Paginated reports whether the format has real pages and therefore
	// per-page artifacts.
	Paginated() bool
	PageCount(ctx context.Context, filename string, data []byte) (int, error)
	ExtractPage(ctx context.Context, filename string, data []byte, pageNum int) (*ExtractedPage, error)
}

// PageSplitter produces the per-page artifact for one page of a paginated
// document. Implementations may project to text when a native page writer
// is unavailable.
type PageSplitter interface {
	SplitPage(ctx context.Context, filename string, data []byte, pageNum int) (content []byte, ext string, err error)
}

// TableRenderer renders a table grid to text. Pure function over the grid.
type TableRenderer interface {
	Render(table *ExtractedTable) (string, error)
}

// MediaDescriber annotates image descriptions in place. Callers invoke it
// sequentially per document to respect vision-model rate limits.
type MediaDescriber interface {
	Describe(ctx context.Context, images []*ExtractedImage, pageText string) error
}

// EmbeddingsProvider produces fixed-dimensional vectors for chunk text.
type EmbeddingsProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	MaxSeqLength() int
	// MaxBatchSize and MaxBatchTokens bound the groups the orchestrator
	// hands to EmbedBatch.
	MaxBatchSize() int
	MaxBatchTokens() int
}

// SearchHit is one result of a vector store query.
type SearchHit struct {
	Chunk ChunkDocument
	Score float32
}

// VectorStore indexes chunk documents keyed by chunk id.
type VectorStore interface {
	// UpsertDocuments merges-or-uploads chunks. When includeEmbeddings is
	// false the store computes vectors itself (integrated vectorization);
	// stores that cannot must reject such configs at construction.
	UpsertDocuments(ctx context.Context, chunks []ChunkDocument, includeEmbeddings bool) (int, error)
	DeleteBySourcefile(ctx context.Context, sourcefile string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]SearchHit, error)
	Dimensions() int
	Close() error
}
