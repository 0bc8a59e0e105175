package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/quantlayer/finsight/pkg/config"
)

// ChromemStore is an embedded vector store backed by chromem-go.
// Collections are created on demand and guarded by a read-write mutex.
// Documents arrive pre-embedded, so the collection embedding func is an
// identity that never runs.
type ChromemStore struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	dimension   int
	cache       *queryCache
	logger      *slog.Logger
}

func NewChromemStore(cfg config.VectorConfig, dimension int, logger *slog.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	ttl := time.Duration(cfg.QueryCacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		dimension:   dimension,
		cache:       newQueryCache(ttl),
		logger:      logger,
	}, nil
}

// noopEmbed satisfies chromem's embedding hook; documents always carry
// their own embedding.
func noopEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("documents must be pre-embedded")
}

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	collection, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return collection, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if collection, ok := s.collections[name]; ok {
		return collection, nil
	}
	collection, err := s.db.GetOrCreateCollection(name, nil, noopEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	s.collections[name] = collection
	return collection, nil
}

// recreateCollection drops a collection after a dimension mismatch and
// creates it fresh. The previous contents are lost; the caller retries
// its operation once.
func (s *ChromemStore) recreateCollection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Warn("recreating vector collection after dimension mismatch",
		"collection", name, "dimension", s.dimension)

	if err := s.db.DeleteCollection(name); err != nil {
		return nil, fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	collection, err := s.db.GetOrCreateCollection(name, nil, noopEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate collection %s: %w", name, err)
	}
	s.collections[name] = collection
	s.cache.invalidateAll()
	return collection, nil
}

func isDimensionMismatch(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "dimension") ||
		strings.Contains(message, "length") ||
		strings.Contains(message, "must match")
}

// cleanMetadata normalizes metadata for storage: nils are dropped and
// every remaining value is stringified.
func cleanMetadata(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = v
		default:
			out[key] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// AddDocument stores a pre-embedded document. An empty ID gets a
// generated "{collection}_{unixnano}" one. A dimension mismatch drops
// and recreates the collection, then retries the write once.
func (s *ChromemStore) AddDocument(ctx context.Context, collectionName string, doc Document) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document for %s has no embedding", collectionName)
	}

	collection, err := s.getCollection(collectionName)
	if err != nil {
		return err
	}

	id := doc.ID
	if id == "" {
		id = fmt.Sprintf("%s_%d", collectionName, time.Now().UnixNano())
	}

	metadata := cleanMetadata(doc.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	if _, ok := metadata["timestamp"]; !ok {
		metadata["timestamp"] = time.Now().Format(time.RFC3339)
	}

	chromemDoc := chromem.Document{
		ID:        id,
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata:  metadata,
	}

	if len(doc.Embedding) != s.dimension || collectionDimensionDiffers(collection, len(doc.Embedding)) {
		collection, err = s.recreateCollection(collectionName)
		if err != nil {
			return err
		}
		s.dimension = len(doc.Embedding)
	}

	if err := collection.AddDocument(ctx, chromemDoc); err != nil {
		if !isDimensionMismatch(err) {
			return fmt.Errorf("failed to add document to %s: %w", collectionName, err)
		}
		collection, rerr := s.recreateCollection(collectionName)
		if rerr != nil {
			return rerr
		}
		if err := collection.AddDocument(ctx, chromemDoc); err != nil {
			return fmt.Errorf("failed to add document to recreated %s: %w", collectionName, err)
		}
	}
	return nil
}

// collectionDimensionDiffers samples the collection to see whether its
// stored embeddings have a different length than the incoming one.
func collectionDimensionDiffers(collection *chromem.Collection, incoming int) bool {
	if collection.Count() == 0 {
		return false
	}
	probe := make([]float32, incoming)
	probe[0] = 1
	_, err := collection.QueryEmbedding(context.Background(), probe, 1, nil, nil)
	return isDimensionMismatch(err)
}

// SearchSimilar returns up to n nearest documents. Results are memoized
// for the cache TTL. Distance is 1 - similarity. A dimension mismatch
// recreates the collection and returns no results.
func (s *ChromemStore) SearchSimilar(ctx context.Context, collectionName string, embedding []float32, n int, where map[string]string) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("search embedding is empty")
	}

	cacheKey := s.cache.key(collectionName, embedding, n, where)
	if results, ok := s.cache.get(cacheKey); ok {
		return results, nil
	}

	collection, err := s.getCollection(collectionName)
	if err != nil {
		return nil, err
	}

	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	matches, err := collection.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		if isDimensionMismatch(err) {
			if _, rerr := s.recreateCollection(collectionName); rerr != nil {
				return nil, rerr
			}
			return nil, nil
		}
		return nil, fmt.Errorf("search in %s failed: %w", collectionName, err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, SearchResult{
			ID:       match.ID,
			Content:  match.Content,
			Metadata: match.Metadata,
			Distance: 1 - float64(match.Similarity),
		})
	}
	s.cache.set(cacheKey, results)
	return results, nil
}

// Count returns the number of documents in a collection.
func (s *ChromemStore) Count(collectionName string) int {
	collection, err := s.getCollection(collectionName)
	if err != nil {
		return 0
	}
	return collection.Count()
}
