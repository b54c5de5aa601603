package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tieubaoca/jwt-assistant-be/config"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const weaviateScanPage = 100

// metadata keys copied into their own properties so they can be filtered
// server side; everything else is post-filtered from the JSON blob.
var weaviateIndexedKeys = []string{"type", "source_url", "source_type", "section_id", "content_hash"}

// WeaviateStore keeps each collection in its own class with self-provided
// vectors and the cosine distance.
type WeaviateStore struct {
	client *weaviate.Client
	mu     sync.Mutex
	known  map[string]bool
}

var _ VectorStore = (*WeaviateStore)(nil)

func NewWeaviateStore(cfg config.WeaviateStoreConfig) (*WeaviateStore, error) {
	var scheme string
	if strings.Contains(cfg.Host, "https") {
		scheme = "https"
	} else {
		scheme = "http"
	}
	host := strings.TrimPrefix(cfg.Host, scheme+"://")
	wcfg := weaviate.Config{
		Host:   host,
		Scheme: scheme,
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{
			Value: cfg.APIKey,
		}
		wcfg.Headers = map[string]string{
			"X-Weaviate-Api-Key":     cfg.APIKey,
			"X-Weaviate-Cluster-Url": fmt.Sprintf("%s://%s", scheme, host),
		}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	return &WeaviateStore{client: client, known: map[string]bool{}}, nil
}

// ClassName maps a collection name to a valid class name,
// e.g. jwt_knowledge -> JwtKnowledge.
func ClassName(collection string) string {
	var b strings.Builder
	upper := true
	for _, r := range collection {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func classObject(className string) *models.Class {
	props := []*models.Property{
		{Name: "record_id", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "content", DataType: []string{"text"}},
		{Name: "metadata", DataType: []string{"text"}},
	}
	for _, key := range weaviateIndexedKeys {
		props = append(props, &models.Property{Name: key, DataType: []string{"text"}, Tokenization: "field"})
	}
	return &models.Class{
		Class:           className,
		Properties:      props,
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
	}
}

func objectID(collection, id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+id)).String())
}

func (s *WeaviateStore) EnsureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	className := ClassName(name)
	if s.known[className] {
		return nil
	}

	schema, err := s.client.Schema().Getter().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}
	for _, class := range schema.Classes {
		if class.Class == className {
			s.known[className] = true
			return nil
		}
	}
	if err := s.client.Schema().ClassCreator().WithClass(classObject(className)).Do(ctx); err != nil {
		return fmt.Errorf("failed to create %s class: %w", className, err)
	}
	s.known[className] = true
	return nil
}

func (s *WeaviateStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	className := ClassName(collection)

	batcher := s.client.Batch().ObjectsBatcher()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", r.ID, err)
		}
		properties := map[string]interface{}{
			"record_id": r.ID,
			"content":   r.Content,
			"metadata":  string(meta),
		}
		for _, key := range weaviateIndexedKeys {
			if v, ok := r.Metadata[key]; ok {
				properties[key] = fmt.Sprint(v)
			}
		}
		batcher = batcher.WithObjects(&models.Object{
			Class:      className,
			ID:         objectID(collection, r.ID),
			Properties: properties,
			Vector:     r.Vector,
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert batch into %s: %w", className, err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("failed to insert object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func recordFields() []graphql.Field {
	return []graphql.Field{
		{Name: "record_id"},
		{Name: "content"},
		{Name: "metadata"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}, {Name: "id"}}},
	}
}

func (s *WeaviateStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]VectorHit, error) {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}
	className := ClassName(collection)
	where, rest := buildMetadataFilter(filter)

	limit := topK
	if len(rest) > 0 {
		// leave room for post-filtering
		limit = topK * 4
	}
	getBuilder := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(recordFields()...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(limit)
	if where != nil {
		getBuilder = getBuilder.WithWhere(where)
	}

	result, err := getBuilder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %s", result.Errors[0].Message)
	}

	var hits []VectorHit
	for _, item := range graphqlItems(result, "Get", className) {
		rec, additional := parseRecord(item)
		if !rest.Matches(rec.Metadata) {
			continue
		}
		dist, _ := additional["distance"].(float64)
		hits = append(hits, VectorHit{Record: rec, Distance: dist})
	}
	return rankHits(hits, topK), nil
}

func (s *WeaviateStore) Get(ctx context.Context, collection string, ids []string) ([]VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}
	className := ClassName(collection)
	where := filters.Where().
		WithPath([]string{"record_id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(ids...)

	result, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithFields(recordFields()...).
		WithWhere(where).
		WithLimit(len(ids)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("get failed: %s", result.Errors[0].Message)
	}

	var records []VectorRecord
	for _, item := range graphqlItems(result, "Get", className) {
		rec, _ := parseRecord(item)
		records = append(records, rec)
	}
	return records, nil
}

func (s *WeaviateStore) Delete(ctx context.Context, collection string, ids []string) error {
	className := ClassName(collection)
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(className).
			WithID(string(objectID(collection, id))).
			Do(ctx)
		if err != nil && !strings.Contains(err.Error(), "404") {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	return nil
}

func (s *WeaviateStore) Scan(ctx context.Context, collection string, filter Filter, fn func(VectorRecord) error) error {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	className := ClassName(collection)

	var matched []VectorRecord
	after := ""
	for {
		getBuilder := s.client.GraphQL().Get().
			WithClassName(className).
			WithFields(recordFields()...).
			WithLimit(weaviateScanPage)
		if after != "" {
			getBuilder = getBuilder.WithAfter(after)
		}
		result, err := getBuilder.Do(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("scan failed: %s", result.Errors[0].Message)
		}

		items := graphqlItems(result, "Get", className)
		for _, item := range items {
			rec, additional := parseRecord(item)
			after, _ = additional["id"].(string)
			if filter.Matches(rec.Metadata) {
				matched = append(matched, rec)
			}
		}
		if len(items) < weaviateScanPage {
			break
		}
	}

	for _, rec := range matched {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *WeaviateStore) Count(ctx context.Context, collection string) (int, error) {
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}
	className := ClassName(collection)
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("count failed: %s", result.Errors[0].Message)
	}
	items := graphqlItems(result, "Aggregate", className)
	if len(items) == 0 {
		return 0, nil
	}
	meta, _ := items[0]["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *WeaviateStore) Reset(ctx context.Context, collection string) error {
	className := ClassName(collection)
	s.mu.Lock()
	delete(s.known, className)
	s.mu.Unlock()

	err := s.client.Schema().ClassDeleter().WithClassName(className).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "404") {
		return fmt.Errorf("failed to delete %s class: %w", className, err)
	}
	return s.EnsureCollection(ctx, collection)
}

func (s *WeaviateStore) Close() error {
	return nil
}

func graphqlItems(result *models.GraphQLResponse, op, className string) []map[string]interface{} {
	root, ok := result.Data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	data, ok := root[className].([]interface{})
	if !ok {
		return nil
	}
	items := make([]map[string]interface{}, 0, len(data))
	for _, item := range data {
		if m, ok := item.(map[string]interface{}); ok {
			items = append(items, m)
		}
	}
	return items
}

func parseRecord(item map[string]interface{}) (VectorRecord, map[string]interface{}) {
	rec := VectorRecord{Metadata: map[string]any{}}
	rec.ID, _ = item["record_id"].(string)
	rec.Content, _ = item["content"].(string)
	if meta, ok := item["metadata"].(string); ok && meta != "" {
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
	}
	additional, _ := item["_additional"].(map[string]interface{})
	return rec, additional
}

// buildMetadataFilter turns the indexed part of filter into a where clause
// and returns the remainder for post-filtering.
func buildMetadataFilter(filter Filter) (*filters.WhereBuilder, Filter) {
	var operands []*filters.WhereBuilder
	rest := Filter{}
	for key, value := range filter {
		if !isIndexedKey(key) {
			rest[key] = value
			continue
		}
		operands = append(operands, filters.Where().
			WithPath([]string{key}).
			WithOperator(filters.Equal).
			WithValueText(fmt.Sprint(value)))
	}
	switch len(operands) {
	case 0:
		return nil, rest
	case 1:
		return operands[0], rest
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands), rest
	}
}

func isIndexedKey(key string) bool {
	for _, k := range weaviateIndexedKeys {
		if k == key {
			return true
		}
	}
	return false
}
