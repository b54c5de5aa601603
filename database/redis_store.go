package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tieubaoca/jwt-assistant-be/config"
)

const (
	defaultEFConstruction = 200
	defaultM              = 16

	fieldRecordID = "record_id"
	fieldContent  = "content"
	fieldMetadata = "metadata"
	fieldVector   = "vector"
	fieldScore    = "score"
)

// metadata keys mirrored as TAG fields for server-side filtering.
var redisTagKeys = []string{"type", "source_url", "source_type", "section_id", "content_hash"}

// RedisStore keeps each collection under its own key prefix with a
// RediSearch HNSW index using the cosine metric.
type RedisStore struct {
	client  *redis.Client
	mu      sync.Mutex
	indexed map[string]bool
}

var _ VectorStore = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, cfg config.RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, indexed: map[string]bool{}}, nil
}

func indexName(collection string) string {
	return "idx:" + collection
}

func keyPrefix(collection string) string {
	return "vec:" + collection + ":"
}

// EnsureCollection records an existing index. The index itself is created on
// the first upsert, once the vector dimension is known.
func (s *RedisStore) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed[name] {
		return nil
	}
	if _, err := s.client.Do(ctx, "FT.INFO", indexName(name)).Result(); err == nil {
		s.indexed[name] = true
	}
	return nil
}

func (s *RedisStore) ensureIndex(ctx context.Context, collection string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed[collection] {
		return nil
	}
	if _, err := s.client.Do(ctx, "FT.INFO", indexName(collection)).Result(); err == nil {
		s.indexed[collection] = true
		return nil
	}

	args := []interface{}{
		"FT.CREATE", indexName(collection),
		"ON", "HASH",
		"PREFIX", "1", keyPrefix(collection),
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(defaultEFConstruction),
		"M", strconv.Itoa(defaultM),
		fieldRecordID, "TAG",
		fieldContent, "TEXT",
	}
	for _, key := range redisTagKeys {
		args = append(args, key, "TAG")
	}
	if _, err := s.client.Do(ctx, args...).Result(); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	s.indexed[collection] = true
	return nil
}

func (s *RedisStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureIndex(ctx, collection, len(records[0].Vector)); err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", r.ID, err)
		}
		values := []interface{}{
			fieldRecordID, r.ID,
			fieldContent, r.Content,
			fieldMetadata, string(meta),
			fieldVector, float32SliceToBytes(r.Vector),
		}
		for _, key := range redisTagKeys {
			if v, ok := r.Metadata[key]; ok {
				values = append(values, key, fmt.Sprint(v))
			}
		}
		pipe.HSet(ctx, keyPrefix(collection)+r.ID, values...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}
	return nil
}

func (s *RedisStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 5
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	indexed := s.indexed[collection]
	s.mu.Unlock()
	if !indexed {
		return nil, nil
	}

	prefilter, rest := buildTagQuery(filter)
	k := topK
	if len(rest) > 0 {
		k = topK * 4
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $query_vector AS %s]", prefilter, k, fieldVector, fieldScore)

	result, err := s.client.Do(ctx, "FT.SEARCH", indexName(collection), query,
		"PARAMS", "2", "query_vector", float32SliceToBytes(vector),
		"RETURN", "4", fieldRecordID, fieldContent, fieldMetadata, fieldScore,
		"SORTBY", fieldScore,
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var hits []VectorHit
	for _, fields := range searchDocuments(result) {
		rec, score := parseHash(fields)
		if !rest.Matches(rec.Metadata) {
			continue
		}
		hits = append(hits, VectorHit{Record: rec, Distance: score})
	}
	return rankHits(hits, topK), nil
}

func (s *RedisStore) Get(ctx context.Context, collection string, ids []string) ([]VectorRecord, error) {
	var records []VectorRecord
	for _, id := range ids {
		values, err := s.client.HGetAll(ctx, keyPrefix(collection)+id).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", id, err)
		}
		if len(values) == 0 {
			continue
		}
		records = append(records, hashToRecord(values, true))
	}
	return records, nil
}

func (s *RedisStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix(collection) + id
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Scan(ctx context.Context, collection string, filter Filter, fn func(VectorRecord) error) error {
	var matched []VectorRecord
	iter := s.client.Scan(ctx, 0, keyPrefix(collection)+"*", 200).Iterator()
	for iter.Next(ctx) {
		values, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		rec := hashToRecord(values, false)
		if filter.Matches(rec.Metadata) {
			matched = append(matched, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	for _, rec := range matched {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}
	s.mu.Lock()
	indexed := s.indexed[collection]
	s.mu.Unlock()
	if !indexed {
		return 0, nil
	}
	result, err := s.client.Do(ctx, "FT.SEARCH", indexName(collection), "*", "LIMIT", "0", "0").Result()
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return 0, nil
	}
	total, _ := values[0].(int64)
	return int(total), nil
}

func (s *RedisStore) Reset(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.client.Do(ctx, "FT.DROPINDEX", indexName(collection), "DD").Err()
	if err != nil && !isUnknownIndex(err) {
		return fmt.Errorf("failed to drop index: %w", err)
	}
	delete(s.indexed, collection)
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func isUnknownIndex(err error) bool {
	if errors.Is(err, redis.Nil) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

// buildTagQuery turns the TAG part of filter into a RediSearch prefilter.
func buildTagQuery(filter Filter) (string, Filter) {
	var parts []string
	rest := Filter{}
	for key, value := range filter {
		if !isTagKey(key) {
			rest[key] = value
			continue
		}
		parts = append(parts, fmt.Sprintf("@%s:{%s}", key, escapeTag(fmt.Sprint(value))))
	}
	if len(parts) == 0 {
		return "*", rest
	}
	return "(" + strings.Join(parts, " ") + ")", rest
}

func isTagKey(key string) bool {
	for _, k := range redisTagKeys {
		if k == key {
			return true
		}
	}
	return false
}

// escapeTag escapes RediSearch TAG punctuation.
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// searchDocuments extracts the field lists of an FT.SEARCH reply
// ([total, key1, fields1, key2, fields2, ...]).
func searchDocuments(result interface{}) [][]interface{} {
	values, ok := result.([]interface{})
	if !ok {
		return nil
	}
	var docs [][]interface{}
	for i := 1; i+1 < len(values); i += 2 {
		if fields, ok := values[i+1].([]interface{}); ok {
			docs = append(docs, fields)
		}
	}
	return docs
}

func parseHash(fields []interface{}) (VectorRecord, float64) {
	values := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		val, _ := fields[i+1].(string)
		values[name] = val
	}
	score, _ := strconv.ParseFloat(values[fieldScore], 64)
	return hashToRecord(values, false), score
}

func hashToRecord(values map[string]string, withVector bool) VectorRecord {
	rec := VectorRecord{
		ID:       values[fieldRecordID],
		Content:  values[fieldContent],
		Metadata: map[string]any{},
	}
	if meta := values[fieldMetadata]; meta != "" {
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	}
	if withVector {
		rec.Vector = bytesToFloat32Slice([]byte(values[fieldVector]))
	}
	return rec
}
