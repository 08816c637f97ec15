// Package vector implements the C6 entity store backend: one Milvus
// collection per namespace holding the entity rows and their embeddings,
// plus a side relational table (sidedb) tracking which namespaces exist,
// since Milvus itself has no notion of "already exists" for a collection
// name. Grounded on kaizen/backend/milvus.py and kaizen/db/sqlite_manager.py
// from the original implementation.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/rakunlabs/kaizen/internal/conflict"
	"github.com/rakunlabs/kaizen/internal/embedding"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
	"github.com/rakunlabs/kaizen/internal/store/vector/sidedb"
)

const metricType = entity.IP

// Backend is a Milvus-backed store.Backend.
type Backend struct {
	milvus   client.Client
	sideDB   *sidedb.Store
	embedder embedding.Provider
	resolver *conflict.Resolver
}

func New(milvusClient client.Client, sideDB *sidedb.Store, embedder embedding.Provider, resolver *conflict.Resolver) *Backend {
	return &Backend{milvus: milvusClient, sideDB: sideDB, embedder: embedder, resolver: resolver}
}

func (b *Backend) Ready(ctx context.Context) error {
	if _, err := b.milvus.ListCollections(ctx); err != nil {
		return kschema.NewStoreError("ready", err)
	}
	return nil
}

func collectionSchema(dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: "",
		Fields: []*entity.Field{
			{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
			{Name: "type", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: "content", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
			{Name: "created_at", DataType: entity.FieldTypeInt64},
			{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(dimension)}},
			{Name: "metadata", DataType: entity.FieldTypeJSON},
		},
	}
}

func (b *Backend) CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error) {
	id := name
	if id == "" {
		id = "ns_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	}

	now := time.Now().UTC()

	// The side table enforces uniqueness; create it first so a collection
	// is never left orphaned by a duplicate-name race.
	if err := b.sideDB.Create(ctx, id, now); err != nil {
		return nil, err
	}

	has, err := b.milvus.HasCollection(ctx, id)
	if err != nil {
		return nil, kschema.NewStoreError("check collection", err)
	}
	if !has {
		schema := collectionSchema(b.embedder.Dimension())
		schema.CollectionName = id
		if err := b.milvus.CreateCollection(ctx, schema, 1); err != nil {
			return nil, kschema.NewStoreError("create collection", err)
		}
	}

	return &kschema.Namespace{ID: id, Name: id, CreatedAt: now}, nil
}

func (b *Backend) GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error) {
	if err := b.validateNamespace(ctx, id); err != nil {
		return nil, err
	}
	ns, err := b.sideDB.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ns.NumEntities = b.collectionCount(ctx, id)
	return ns, nil
}

func (b *Backend) ListNamespaces(ctx context.Context, limit int) ([]kschema.Namespace, error) {
	namespaces, err := b.sideDB.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range namespaces {
		namespaces[i].NumEntities = b.collectionCount(ctx, namespaces[i].ID)
	}
	return namespaces, nil
}

// collectionCount reports the live row count for a namespace's collection.
// It returns 0 on any stats failure rather than propagating it, since
// NumEntities is documented as a best-effort, possibly-lagging figure.
func (b *Backend) collectionCount(ctx context.Context, id string) int64 {
	stats, err := b.milvus.GetCollectionStatistics(ctx, id)
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(stats["row_count"], 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// DeleteNamespace drops the Milvus collection then the side-table row. This
// is not atomic: if the side-table delete fails after the collection drop
// succeeds, the side table may retain an orphan row pointing at a
// nonexistent collection. Unlike the filesystem backend, deleting a
// namespace that was never created raises a *kschema.StoreError here,
// since Milvus errors on dropping an unknown collection.
func (b *Backend) DeleteNamespace(ctx context.Context, id string) error {
	if err := b.milvus.DropCollection(ctx, id); err != nil {
		return kschema.NewStoreError("drop collection", err)
	}
	return b.sideDB.Delete(ctx, id)
}

func (b *Backend) validateNamespace(ctx context.Context, id string) error {
	has, err := b.milvus.HasCollection(ctx, id)
	if err != nil {
		return kschema.NewStoreError("check collection", err)
	}
	if !has {
		return &kschema.NamespaceNotFoundError{Namespace: id}
	}
	return nil
}

func (b *Backend) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, enableConflictResolution bool) ([]kschema.EntityUpdate, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	entityType := entities[0].Type
	for _, e := range entities {
		if e.Type != entityType {
			return nil, kschema.NewStoreError("update entities", fmt.Errorf("all entities must have the same type"))
		}
	}

	now := time.Now().UTC()

	newWithTempIDs := make([]kschema.RecordedEntity, len(entities))
	for i, e := range entities {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		newWithTempIDs[i] = kschema.RecordedEntity{
			ID: conflict.PlaceholderID(i), Type: e.Type, Content: e.Content, Metadata: meta, CreatedAt: now,
		}
	}

	if !enableConflictResolution {
		var updates []kschema.EntityUpdate
		for _, e := range entities {
			meta := e.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			id, err := b.insert(ctx, namespaceID, entityType, e.Content, meta, now)
			if err != nil {
				return nil, err
			}
			updates = append(updates, kschema.EntityUpdate{Event: kschema.EventAdd, ID: id, Type: entityType, Content: e.Content, Metadata: meta})
		}
		return updates, nil
	}

	var oldEntities []kschema.RecordedEntity
	seen := map[string]bool{}
	for _, e := range entities {
		similar, err := b.SearchEntities(ctx, namespaceID, store.Filter{Query: serializeContent(e.Content)})
		if err != nil {
			return nil, err
		}
		for _, s := range similar {
			if !seen[s.ID] {
				seen[s.ID] = true
				oldEntities = append(oldEntities, s)
			}
		}
	}

	updates, err := b.resolver.Resolve(ctx, oldEntities, newWithTempIDs)
	if err != nil {
		return nil, err
	}

	for i := range updates {
		switch updates[i].Event {
		case kschema.EventAdd:
			id, err := b.insert(ctx, namespaceID, entityType, updates[i].Content, updates[i].Metadata, now)
			if err != nil {
				return nil, err
			}
			updates[i].ID = id
		case kschema.EventUpdate:
			if err := b.upsert(ctx, namespaceID, updates[i].ID, entityType, updates[i].Content, updates[i].Metadata, now); err != nil {
				return nil, err
			}
		case kschema.EventDelete:
			if err := b.DeleteEntity(ctx, namespaceID, updates[i].ID); err != nil {
				return nil, err
			}
		case kschema.EventNone:
			// no-op
		}
	}

	return updates, nil
}

func (b *Backend) insert(ctx context.Context, namespaceID, entityType string, content any, metadata map[string]any, now time.Time) (string, error) {
	contentStr := serializeContent(content)
	vec, err := b.embedder.Embed(ctx, contentStr)
	if err != nil {
		return "", kschema.NewStoreError("embed content", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", kschema.NewStoreError("marshal metadata", err)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("type", []string{entityType}),
		entity.NewColumnVarChar("content", []string{contentStr}),
		entity.NewColumnInt64("created_at", []int64{now.Unix()}),
		entity.NewColumnFloatVector("embedding", len(vec), [][]float32{vec}),
		entity.NewColumnJSONBytes("metadata", [][]byte{metaJSON}),
	}

	idColumn, err := b.milvus.Insert(ctx, namespaceID, "", columns...)
	if err != nil {
		return "", kschema.NewStoreError("insert entity", err)
	}

	idCol, ok := idColumn.(*entity.ColumnInt64)
	if !ok || idCol.Len() == 0 {
		return "", kschema.NewStoreError("insert entity", fmt.Errorf("unexpected id column type from Milvus insert"))
	}
	id, err := idCol.ValueByIdx(0)
	if err != nil {
		return "", kschema.NewStoreError("insert entity", err)
	}

	return strconv.FormatInt(id, 10), nil
}

func (b *Backend) upsert(ctx context.Context, namespaceID, id, entityType string, content any, metadata map[string]any, now time.Time) error {
	intID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return kschema.NewStoreError("upsert entity", fmt.Errorf("invalid entity id %q: %w", id, err))
	}

	contentStr := serializeContent(content)
	vec, err := b.embedder.Embed(ctx, contentStr)
	if err != nil {
		return kschema.NewStoreError("embed content", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return kschema.NewStoreError("marshal metadata", err)
	}

	columns := []entity.Column{
		entity.NewColumnInt64("id", []int64{intID}),
		entity.NewColumnVarChar("type", []string{entityType}),
		entity.NewColumnVarChar("content", []string{contentStr}),
		entity.NewColumnInt64("created_at", []int64{now.Unix()}),
		entity.NewColumnFloatVector("embedding", len(vec), [][]float32{vec}),
		entity.NewColumnJSONBytes("metadata", [][]byte{metaJSON}),
	}

	if _, err := b.milvus.Upsert(ctx, namespaceID, "", columns...); err != nil {
		return kschema.NewStoreError("upsert entity", err)
	}
	return nil
}

func (b *Backend) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return nil, err
	}

	expr := buildFilterExpr(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	outputFields := []string{"id", "type", "content", "created_at", "metadata"}

	if filter.Query == "" {
		if expr == "" {
			expr = "id > 0"
		}
		results, err := b.milvus.Query(ctx, namespaceID, nil, expr, outputFields, client.WithLimit(int64(limit)))
		if err != nil {
			return nil, kschema.NewStoreError("query entities", err)
		}
		return parseColumns(results)
	}

	vec, err := b.embedder.Embed(ctx, filter.Query)
	if err != nil {
		return nil, kschema.NewStoreError("embed query", err)
	}

	searchResults, err := b.milvus.Search(ctx, namespaceID, nil, expr, outputFields,
		[]entity.Vector{entity.FloatVector(vec)}, "embedding", metricType, limit, nil)
	if err != nil {
		return nil, kschema.NewStoreError("search entities", err)
	}

	var out []kschema.RecordedEntity
	for _, sr := range searchResults {
		parsed, err := parseColumns(sr.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed...)
	}
	return out, nil
}

func (b *Backend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	if err := b.validateNamespace(ctx, namespaceID); err != nil {
		return err
	}

	intID, err := strconv.ParseInt(entityID, 10, 64)
	if err != nil {
		return kschema.NewStoreError("delete entity", fmt.Errorf("invalid entity id %q: must be numeric", entityID))
	}

	existing, err := b.milvus.Query(ctx, namespaceID, nil, fmt.Sprintf("id == %d", intID), []string{"id"})
	if err != nil {
		return kschema.NewStoreError("check entity exists", err)
	}
	if len(existing) == 0 || existing[0].Len() == 0 {
		return kschema.NewStoreError("delete entity", fmt.Errorf("entity %q not found in namespace %q", entityID, namespaceID))
	}

	if err := b.milvus.Delete(ctx, namespaceID, "", fmt.Sprintf("id in [%d]", intID)); err != nil {
		return kschema.NewStoreError("delete entity", err)
	}

	return nil
}

func buildFilterExpr(filter store.Filter) string {
	var clauses []string
	if filter.Type != "" {
		clauses = append(clauses, fmt.Sprintf("type == '%s'", escapeExprString(filter.Type)))
	}
	for k, v := range filter.Metadata {
		clauses = append(clauses, fmt.Sprintf("%s == '%v'", k, escapeExprString(fmt.Sprintf("%v", v))))
	}
	return strings.Join(clauses, " AND ")
}

func escapeExprString(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func serializeContent(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(raw)
}

func deserializeContent(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// parseColumns converts the column-oriented result Milvus returns into row-
// oriented RecordedEntity values, matching parse_milvus_entity's reshaping
// of pymilvus's row-dict results.
func parseColumns(columns []entity.Column) ([]kschema.RecordedEntity, error) {
	if len(columns) == 0 {
		return nil, nil
	}

	var ids []int64
	var types, contents []string
	var createdAts []int64
	var metadatas [][]byte

	for _, col := range columns {
		switch c := col.(type) {
		case *entity.ColumnInt64:
			if col.Name() == "id" {
				for i := 0; i < c.Len(); i++ {
					v, _ := c.ValueByIdx(i)
					ids = append(ids, v)
				}
			} else if col.Name() == "created_at" {
				for i := 0; i < c.Len(); i++ {
					v, _ := c.ValueByIdx(i)
					createdAts = append(createdAts, v)
				}
			}
		case *entity.ColumnVarChar:
			if col.Name() == "type" {
				for i := 0; i < c.Len(); i++ {
					v, _ := c.ValueByIdx(i)
					types = append(types, v)
				}
			} else if col.Name() == "content" {
				for i := 0; i < c.Len(); i++ {
					v, _ := c.ValueByIdx(i)
					contents = append(contents, v)
				}
			}
		case *entity.ColumnJSONBytes:
			for i := 0; i < c.Len(); i++ {
				v, _ := c.ValueByIdx(i)
				metadatas = append(metadatas, v)
			}
		}
	}

	out := make([]kschema.RecordedEntity, len(ids))
	for i := range ids {
		rec := kschema.RecordedEntity{ID: strconv.FormatInt(ids[i], 10)}
		if i < len(types) {
			rec.Type = types[i]
		}
		if i < len(contents) {
			rec.Content = deserializeContent(contents[i])
		}
		if i < len(createdAts) {
			rec.CreatedAt = time.Unix(createdAts[i], 0).UTC()
		}
		if i < len(metadatas) {
			var meta map[string]any
			if err := json.Unmarshal(metadatas[i], &meta); err == nil {
				rec.Metadata = meta
			}
		}
		out[i] = rec
	}

	return out, nil
}
