// Package filesystem implements the C5 entity store backend: one JSON file
// per namespace, guarded by a single process-wide mutex, with substring
// search and a decimal string id counter. Grounded on
// kaizen/backend/filesystem.py from the original implementation.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rakunlabs/kaizen/internal/conflict"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

// namespaceFile is the on-disk shape of one namespace's JSON file.
type namespaceFile struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	NextID    int             `json:"next_id"`
	Entities  []fileEntity    `json:"entities"`
}

type fileEntity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Backend is a filesystem-backed store.Backend.
type Backend struct {
	dir      string
	resolver *conflict.Resolver

	mu sync.Mutex
}

func New(dir string, resolver *conflict.Resolver) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Backend{dir: dir, resolver: resolver}, nil
}

func (b *Backend) Ready(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return kschema.NewStoreError("ready", err)
	}
	if !info.IsDir() {
		return kschema.NewStoreError("ready", fmt.Errorf("%s is not a directory", b.dir))
	}
	return nil
}

func (b *Backend) namespacePath(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *Backend) load(id string) (*namespaceFile, error) {
	path := b.namespacePath(id)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &kschema.NamespaceNotFoundError{Namespace: id}
		}
		return nil, kschema.NewStoreError("load namespace", err)
	}

	var data namespaceFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, kschema.NewStoreError("parse namespace file", err)
	}
	return &data, nil
}

func (b *Backend) save(data *namespaceFile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return kschema.NewStoreError("marshal namespace", err)
	}
	if err := os.WriteFile(b.namespacePath(data.ID), raw, 0o644); err != nil {
		return kschema.NewStoreError("write namespace file", err)
	}
	return nil
}

func (b *Backend) CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := name
	if id == "" {
		id = "ns_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	}

	if _, err := os.Stat(b.namespacePath(id)); err == nil {
		return nil, &kschema.NamespaceAlreadyExistsError{Namespace: id}
	}

	now := time.Now().UTC()
	data := &namespaceFile{ID: id, CreatedAt: now, NextID: 1}
	if err := b.save(data); err != nil {
		return nil, err
	}

	return &kschema.Namespace{ID: id, Name: id, CreatedAt: now}, nil
}

func (b *Backend) GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.load(id)
	if err != nil {
		return nil, err
	}
	return &kschema.Namespace{
		ID: data.ID, Name: data.ID, CreatedAt: data.CreatedAt,
		NumEntities: int64(len(data.Entities)),
	}, nil
}

func (b *Backend) ListNamespaces(ctx context.Context, limit int) ([]kschema.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, kschema.NewStoreError("list namespaces", err)
	}

	var out []kschema.Namespace
	for _, entry := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		data, err := b.load(id)
		if err != nil {
			continue
		}
		out = append(out, kschema.Namespace{
			ID: data.ID, Name: data.ID, CreatedAt: data.CreatedAt,
			NumEntities: int64(len(data.Entities)),
		})
	}
	return out, nil
}

// DeleteNamespace is idempotent: deleting a namespace that doesn't exist is
// a silent success, matching the original's "already deleted, no-op" path.
func (b *Backend) DeleteNamespace(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.namespacePath(id))
	if err != nil && !os.IsNotExist(err) {
		return kschema.NewStoreError("delete namespace", err)
	}
	return nil
}

func (b *Backend) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, enableConflictResolution bool) ([]kschema.EntityUpdate, error) {
	if len(entities) == 0 {
		return nil, nil
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
			ID:        conflict.PlaceholderID(i),
			Type:      e.Type,
			Content:   e.Content,
			Metadata:  meta,
			CreatedAt: now,
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.load(namespaceID)
	if err != nil {
		return nil, err
	}

	var updates []kschema.EntityUpdate

	if enableConflictResolution {
		var oldEntities []kschema.RecordedEntity
		seen := map[string]bool{}
		for _, e := range entities {
			query := contentToString(e.Content)
			similar := searchInternal(data, store.Filter{Query: query, Limit: 10})
			for _, s := range similar {
				if !seen[s.ID] {
					seen[s.ID] = true
					oldEntities = append(oldEntities, s)
				}
			}
		}

		updates, err = b.resolver.Resolve(ctx, oldEntities, newWithTempIDs)
		if err != nil {
			return nil, err
		}

		for i := range updates {
			switch updates[i].Event {
			case kschema.EventAdd:
				id := strconv.Itoa(data.NextID)
				data.NextID++
				data.Entities = append(data.Entities, fileEntity{
					ID: id, Type: entityType, Content: updates[i].Content,
					CreatedAt: now, Metadata: updates[i].Metadata,
				})
				updates[i].ID = id
			case kschema.EventUpdate:
				for j := range data.Entities {
					if data.Entities[j].ID == updates[i].ID {
						data.Entities[j].Content = updates[i].Content
						data.Entities[j].CreatedAt = now
						data.Entities[j].Metadata = updates[i].Metadata
						break
					}
				}
			case kschema.EventDelete:
				filtered := data.Entities[:0]
				for _, ent := range data.Entities {
					if ent.ID != updates[i].ID {
						filtered = append(filtered, ent)
					}
				}
				data.Entities = filtered
			case kschema.EventNone:
				// no-op
			}
		}
	} else {
		for _, e := range entities {
			meta := e.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			id := strconv.Itoa(data.NextID)
			data.NextID++
			data.Entities = append(data.Entities, fileEntity{
				ID: id, Type: entityType, Content: e.Content, CreatedAt: now, Metadata: meta,
			})
			updates = append(updates, kschema.EntityUpdate{
				Event: kschema.EventAdd, ID: id, Type: entityType, Content: e.Content, Metadata: meta,
			})
		}
	}

	if err := b.save(data); err != nil {
		return nil, err
	}

	return updates, nil
}

func (b *Backend) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.load(namespaceID)
	if err != nil {
		return nil, err
	}
	return searchInternal(data, filter), nil
}

func (b *Backend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.load(namespaceID)
	if err != nil {
		return err
	}

	originalCount := len(data.Entities)
	filtered := data.Entities[:0]
	for _, e := range data.Entities {
		if e.ID != entityID {
			filtered = append(filtered, e)
		}
	}
	data.Entities = filtered

	if len(data.Entities) == originalCount {
		return kschema.NewStoreError("delete entity", fmt.Errorf("entity %q not found", entityID))
	}

	return b.save(data)
}

// searchInternal checks top-level entity fields before metadata when
// matching a filter key, matching the original's lookup order exactly.
func searchInternal(data *namespaceFile, filter store.Filter) []kschema.RecordedEntity {
	entities := data.Entities

	if filter.Type != "" || len(filter.Metadata) > 0 {
		filtered := entities[:0:0]
		for _, e := range entities {
			if filter.Type != "" && e.Type != filter.Type {
				continue
			}
			match := true
			for key, value := range filter.Metadata {
				var entValue any
				switch key {
				case "id":
					entValue = e.ID
				case "type":
					entValue = e.Type
				case "content":
					entValue = e.Content
				default:
					if e.Metadata != nil {
						entValue = e.Metadata[key]
					}
				}
				if entValue != value {
					match = false
					break
				}
			}
			if match {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []fileEntity
	if filter.Query == "" {
		if len(entities) > limit {
			results = entities[:limit]
		} else {
			results = entities
		}
	} else {
		queryLower := strings.ToLower(filter.Query)
		for _, e := range entities {
			if len(results) >= limit {
				break
			}
			if strings.Contains(strings.ToLower(contentToString(e.Content)), queryLower) {
				results = append(results, e)
			}
		}
	}

	out := make([]kschema.RecordedEntity, len(results))
	for i, e := range results {
		out[i] = kschema.RecordedEntity{
			ID: e.ID, Type: e.Type, Content: e.Content, CreatedAt: e.CreatedAt, Metadata: e.Metadata,
		}
	}
	return out
}

func contentToString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(raw)
}
