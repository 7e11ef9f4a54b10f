// Package vectorstore provides the chunk indexes: a qdrant collection
// over gRPC and a sqlite file for self-contained runs.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
)

const (
	connectTimeout = 30 * time.Second
	scrollPageSize = 1000
)

// Qdrant indexes chunks in a qdrant collection. Point ids are UUIDv5
// digests of the chunk id, so re-upserting the same chunk overwrites the
// prior point and ADD stays idempotent.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	batchSize   int
}

// NewQdrant connects and ensures the collection exists with the expected
// vector size. A collection with a different size is a configuration
// error surfaced immediately, never silently recreated.
func NewQdrant(ctx context.Context, url, collection string, dims, batchSize int) (*Qdrant, error) {
	const op = "vectorstore.NewQdrant"
	addr := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, domain.E(domain.KindVectorStoreDown, op, fmt.Errorf("connect %s: %w", addr, err))
	}

	s := &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		batchSize:   batchSize,
	}
	if err := s.ensureCollection(dialCtx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Qdrant) ensureCollection(ctx context.Context) error {
	const op = "vectorstore.Qdrant.ensureCollection"
	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return rpcErr(op, err)
	}

	for _, col := range listResp.Collections {
		if col.Name != s.collection {
			continue
		}
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		if err != nil {
			return rpcErr(op, err)
		}
		if cfg := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams(); cfg != nil {
			if int(cfg.Size) != s.dims {
				return domain.Errorf(domain.KindDimensionMismatch, op,
					"collection %s has %d dimensions, embedder produces %d",
					s.collection, cfg.Size, s.dims)
			}
		}
		return nil
	}

	log.WithComponent("vectorstore").Info("creating qdrant collection",
		"collection", s.collection, "dimensions", s.dims)
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return rpcErr(op, err)
	}
	return nil
}

// pointID derives the deterministic point uuid for a chunk id.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *Qdrant) UpsertDocuments(ctx context.Context, chunks []domain.ChunkDocument, includeEmbeddings bool) (int, error) {
	const op = "vectorstore.Qdrant.UpsertDocuments"
	if !includeEmbeddings {
		return 0, domain.Errorf(domain.KindConfigInvalid, op,
			"qdrant store requires caller-side embeddings")
	}

	wait := true
	total := 0
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]*pb.PointStruct, 0, end-start)
		for _, chunk := range chunks[start:end] {
			if len(chunk.Embedding) != s.dims {
				return total, domain.Errorf(domain.KindDimensionMismatch, op,
					"chunk %s has %d dimensions, collection expects %d",
					chunk.ChunkID, len(chunk.Embedding), s.dims)
			}
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(chunk.ChunkID)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: chunk.Embedding},
				}},
				Payload: chunkPayload(chunk),
			})
		}

		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return total, rpcErr(op, err)
		}
		total += len(points)
	}
	return total, nil
}

func chunkPayload(chunk domain.ChunkDocument) map[string]*pb.Value {
	str := func(v string) *pb.Value {
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	num := func(v int) *pb.Value {
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(v)}}
	}
	payload := map[string]*pb.Value{
		"chunk_id":    str(chunk.ChunkID),
		"content":     str(chunk.Text),
		"sourcefile":  str(chunk.Document.Sourcefile),
		"sourcepage":  str(chunk.Page.Sourcepage),
		"page_num":    num(chunk.Page.PageNum),
		"token_count": num(chunk.TokenCount),
	}
	if chunk.Document.StorageURL != "" {
		payload["storage_url"] = str(chunk.Document.StorageURL)
	}
	if chunk.Page.PageBlobURL != "" {
		payload["page_blob_url"] = str(chunk.Page.PageBlobURL)
	}
	if len(chunk.TableIDs) > 0 {
		payload["table_ids"] = str(strings.Join(chunk.TableIDs, ","))
	}
	if len(chunk.FigureIDs) > 0 {
		payload["figure_ids"] = str(strings.Join(chunk.FigureIDs, ","))
	}
	return payload
}

// DeleteBySourcefile scrolls the sourcefile's points page by page and
// deletes them in batches, returning how many points went away.
func (s *Qdrant) DeleteBySourcefile(ctx context.Context, sourcefile string) (int, error) {
	const op = "vectorstore.Qdrant.DeleteBySourcefile"
	filter := &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   "sourcefile",
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: sourcefile}},
		}},
	}}}

	var ids []*pb.PointId
	limit := uint32(scrollPageSize)
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
		})
		if err != nil {
			return 0, rpcErr(op, err)
		}
		for _, p := range resp.Result {
			ids = append(ids, p.Id)
		}
		if resp.NextPageOffset == nil {
			break
		}
		offset = resp.NextPageOffset
	}
	if len(ids) == 0 {
		return 0, nil
	}

	wait := true
	for start := 0; start < len(ids); start += s.batchSize {
		end := start + s.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		_, err := s.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: s.collection,
			Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids[start:end]},
			}},
			Wait: &wait,
		})
		if err != nil {
			return 0, rpcErr(op, err)
		}
	}
	return len(ids), nil
}

func (s *Qdrant) DeleteAll(ctx context.Context) (int, error) {
	const op = "vectorstore.Qdrant.DeleteAll"
	countResp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, rpcErr(op, err)
	}
	total := int(countResp.GetResult().GetCount())
	if total == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{
			Filter: &pb.Filter{},
		}},
		Wait: &wait,
	})
	if err != nil {
		return 0, rpcErr(op, err)
	}
	return total, nil
}

func (s *Qdrant) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.SearchHit, error) {
	const op = "vectorstore.Qdrant.Search"
	var filter *pb.Filter
	if len(filters) > 0 {
		conditions := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				}},
			})
		}
		filter = &pb.Filter{Must: conditions}
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         filter,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, rpcErr(op, err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hits = append(hits, domain.SearchHit{
			Chunk: chunkFromPayload(point.Payload),
			Score: point.Score,
		})
	}
	return hits, nil
}

func chunkFromPayload(payload map[string]*pb.Value) domain.ChunkDocument {
	get := func(k string) string { return payload[k].GetStringValue() }
	chunk := domain.ChunkDocument{
		ChunkID:    get("chunk_id"),
		Text:       get("content"),
		TokenCount: int(payload["token_count"].GetIntegerValue()),
		Document: domain.DocumentMetadata{
			Sourcefile: get("sourcefile"),
			StorageURL: get("storage_url"),
		},
		Page: domain.PageMetadata{
			PageNum:     int(payload["page_num"].GetIntegerValue()),
			Sourcepage:  get("sourcepage"),
			PageBlobURL: get("page_blob_url"),
		},
	}
	if v := get("table_ids"); v != "" {
		chunk.TableIDs = strings.Split(v, ",")
	}
	if v := get("figure_ids"); v != "" {
		chunk.FigureIDs = strings.Split(v, ",")
	}
	return chunk
}

func (s *Qdrant) Dimensions() int { return s.dims }

func (s *Qdrant) Close() error { return s.conn.Close() }

// rpcErr maps gRPC status codes onto the error taxonomy.
func rpcErr(op string, err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return domain.E(domain.KindRateLimited, op, err)
	case codes.Aborted, codes.AlreadyExists:
		return domain.E(domain.KindUpsertConflict, op, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.E(domain.KindCredentialInvalid, op, err)
	default:
		return domain.E(domain.KindVectorStoreDown, op, err)
	}
}
