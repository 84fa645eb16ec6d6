// Package qdrant implements vectorindex.Index against a Qdrant server over
// gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/becomeliminal/nim-graph/logger"
	"github.com/becomeliminal/nim-graph/vectorindex"
)

// idKey keeps the caller's ID when it had to be mapped to a UUID point ID.
const idKey = "_id"

var pointIDNamespace = uuid.MustParse("6a1c1f55-2f0e-4f8b-9a57-3f3c1b0d7e21")

// Client captures the subset of the qdrant client used by the index.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

type Index struct {
	client Client
	log    *logger.Logger
}

var _ vectorindex.Index = (*Index)(nil)

// Dial connects to Qdrant.
func Dial(cfg Config, log *logger.Logger) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithUserAgent("nim-graph"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return New(client, log), nil
}

// New wraps an existing client.
func New(client Client, log *logger.Logger) *Index {
	return &Index{
		client: client,
		log:    logger.OrNop(log).With("component", "vectorindex.qdrant"),
	}
}

// EnsureCollection creates collection with cosine distance when missing.
func (s *Index) EnsureCollection(ctx context.Context, collection string, dims int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Another process may have won the race.
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	s.log.Info("created collection", "collection", collection, "dims", dims)
	return nil
}

func (s *Index) Upsert(ctx context.Context, collection, id string, vector []float32, payload vectorindex.Payload) error {
	values := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		values[k] = v
	}
	pointID := id
	if _, err := uuid.Parse(id); err != nil {
		pointID = uuid.NewSHA1(pointIDNamespace, []byte(collection+"|"+id)).String()
		values[idKey] = id
	}
	valueMap, err := qdrant.TryValueMap(values)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", id, err)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: valueMap,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert %s into %s: %w", id, collection, err)
	}
	return nil
}

func (s *Index) Search(ctx context.Context, collection string, vector []float32, k int, filter vectorindex.Payload) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		keys := make([]string, 0, len(filter))
		for key := range filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		must := make([]*qdrant.Condition, 0, len(keys))
		for _, key := range keys {
			must = append(must, qdrant.NewMatch(key, filter[key]))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	matches := make([]vectorindex.Match, 0, len(points))
	for _, p := range points {
		payload := make(vectorindex.Payload, len(p.GetPayload()))
		for key, v := range p.GetPayload() {
			payload[key] = v.GetStringValue()
		}
		id := p.GetId().GetUuid()
		if orig, ok := payload[idKey]; ok {
			id = orig
			delete(payload, idKey)
		}
		matches = append(matches, vectorindex.Match{ID: id, Payload: payload, Score: p.GetScore()})
	}
	return matches, nil
}

func (s *Index) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
