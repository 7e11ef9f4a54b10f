package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// SQLite keeps the index in a single database file. It is the only store
// supporting integrated vectorization: given a store-side embedder it
// computes vectors for chunks uploaded without them. Search is an exact
// cosine scan, fine at the scale a file-backed index is chosen for.
type SQLite struct {
	db       *sql.DB
	dims     int
	embedder domain.EmbeddingsProvider
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id      TEXT PRIMARY KEY,
	sourcefile    TEXT NOT NULL,
	sourcepage    TEXT,
	page_num      INTEGER,
	content       TEXT,
	token_count   INTEGER,
	table_ids     TEXT,
	figure_ids    TEXT,
	storage_url   TEXT,
	page_blob_url TEXT,
	embedding     BLOB
);
CREATE INDEX IF NOT EXISTS idx_chunks_sourcefile ON chunks(sourcefile);
`

// NewSQLite opens (or creates) the database. embedder may be nil; it is
// required only for integrated vectorization.
func NewSQLite(path string, dims int, embedder domain.EmbeddingsProvider) (*SQLite, error) {
	const op = "vectorstore.NewSQLite"
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, domain.E(domain.KindVectorStoreDown, op, fmt.Errorf("open %s: %w", path, err))
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, domain.E(domain.KindVectorStoreDown, op, fmt.Errorf("init schema: %w", err))
	}
	if embedder != nil && embedder.Dimensions() != dims {
		db.Close()
		return nil, domain.Errorf(domain.KindDimensionMismatch, op,
			"store expects %d dimensions, embedder produces %d", dims, embedder.Dimensions())
	}
	return &SQLite{db: db, dims: dims, embedder: embedder}, nil
}

func (s *SQLite) UpsertDocuments(ctx context.Context, chunks []domain.ChunkDocument, includeEmbeddings bool) (int, error) {
	const op = "vectorstore.SQLite.UpsertDocuments"
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(chunks))
	if includeEmbeddings {
		for i, chunk := range chunks {
			if len(chunk.Embedding) != s.dims {
				return 0, domain.Errorf(domain.KindDimensionMismatch, op,
					"chunk %s has %d dimensions, store expects %d",
					chunk.ChunkID, len(chunk.Embedding), s.dims)
			}
			vectors[i] = chunk.Embedding
		}
	} else {
		if s.embedder == nil {
			return 0, domain.Errorf(domain.KindConfigInvalid, op,
				"integrated vectorization requires a store-side embedder")
		}
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, err
		}
		if len(vecs) != len(chunks) {
			return 0, domain.Errorf(domain.KindEmbeddingShape, op,
				"got %d vectors for %d chunks", len(vecs), len(chunks))
		}
		vectors = vecs
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, op, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(chunk_id, sourcefile, sourcepage, page_num, content, token_count,
		 table_ids, figure_ids, storage_url, page_blob_url, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, op, err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		_, err := stmt.ExecContext(ctx,
			chunk.ChunkID,
			chunk.Document.Sourcefile,
			chunk.Page.Sourcepage,
			chunk.Page.PageNum,
			chunk.Text,
			chunk.TokenCount,
			strings.Join(chunk.TableIDs, ","),
			strings.Join(chunk.FigureIDs, ","),
			chunk.Document.StorageURL,
			chunk.Page.PageBlobURL,
			encodeVector(vectors[i]),
		)
		if err != nil {
			return 0, domain.E(domain.KindVectorStoreDown, op,
				fmt.Errorf("upsert %s: %w", chunk.ChunkID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, op, err)
	}
	return len(chunks), nil
}

func (s *SQLite) DeleteBySourcefile(ctx context.Context, sourcefile string) (int, error) {
	const op = "vectorstore.SQLite.DeleteBySourcefile"
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE sourcefile = ?`, sourcefile)
	if err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, op, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) DeleteAll(ctx context.Context) (int, error) {
	const op = "vectorstore.SQLite.DeleteAll"
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	if err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, op, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	const op = "vectorstore.SQLite.Search"
	query := `SELECT chunk_id, sourcefile, sourcepage, page_num, content,
		token_count, table_ids, figure_ids, storage_url, page_blob_url, embedding
		FROM chunks`
	keys := make([]string, 0, len(filters))
	for k := range filters {
		switch k {
		case "sourcefile", "sourcepage", "chunk_id":
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var args []any
	var clauses []string
	for _, k := range keys {
		clauses = append(clauses, k+" = ?")
		args = append(args, filters[k])
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.E(domain.KindVectorStoreDown, op, err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var chunk domain.ChunkDocument
		var tableIDs, figureIDs string
		var blob []byte
		err := rows.Scan(&chunk.ChunkID, &chunk.Document.Sourcefile,
			&chunk.Page.Sourcepage, &chunk.Page.PageNum, &chunk.Text,
			&chunk.TokenCount, &tableIDs, &figureIDs,
			&chunk.Document.StorageURL, &chunk.Page.PageBlobURL, &blob)
		if err != nil {
			return nil, domain.E(domain.KindVectorStoreDown, op, err)
		}
		if tableIDs != "" {
			chunk.TableIDs = strings.Split(tableIDs, ",")
		}
		if figureIDs != "" {
			chunk.FigureIDs = strings.Split(figureIDs, ",")
		}
		hits = append(hits, domain.SearchHit{
			Chunk: chunk,
			Score: cosine(vector, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.E(domain.KindVectorStoreDown, op, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *SQLite) Dimensions() int { return s.dims }

func (s *SQLite) Close() error { return s.db.Close() }

// Count returns the number of indexed chunks; tests and the status
// command use it.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, domain.E(domain.KindVectorStoreDown, "vectorstore.SQLite.Count", err)
	}
	return n, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
