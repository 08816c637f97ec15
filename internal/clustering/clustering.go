// Package clustering implements C10: grouping guideline entities by task
// description similarity and merging each group into a consolidated tip
// set via the LLM gateway. Grounded on
// kaizen/llm/tips/clustering.py's cluster_entities/combine_cluster and
// kaizen/frontend/client/kaizen_client.py's cluster_tips/consolidate_tips.
package clustering

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/rakunlabs/kaizen/internal/embedding"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/store"
)

// DefaultThreshold is the cosine similarity cutoff at or above which two
// entities are considered part of the same cluster.
const DefaultThreshold = 0.80

// MaxClusterEntities caps how many guideline entities one clustering pass
// considers; raised from the Python original's 5,000 per spec.md.
const MaxClusterEntities = 10000

const maxCombineAttempts = 3

// Clusterer groups and merges guideline entities within a namespace.
type Clusterer struct {
	backend          store.Backend
	embedder         embedding.Provider
	gateway          *llmgateway.Gateway
	model            string
	defaultThreshold float64
}

// New builds a Clusterer. defaultThreshold <= 0 falls back to
// DefaultThreshold; it is used whenever a caller passes threshold <= 0 to
// ClusterTips/ConsolidateTips, letting KAIZEN_CLUSTERING_THRESHOLD override
// the built-in default.
func New(backend store.Backend, embedder embedding.Provider, gateway *llmgateway.Gateway, model string, defaultThreshold float64) *Clusterer {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultThreshold
	}
	return &Clusterer{backend: backend, embedder: embedder, gateway: gateway, model: model, defaultThreshold: defaultThreshold}
}

// ConsolidationResult aggregates the outcome of ConsolidateTips across all
// clusters found.
type ConsolidationResult struct {
	ClustersFound int
	TipsBefore    int
	TipsAfter     int
}

// ClusterTips fetches guideline entities, embeds their task descriptions,
// and groups entities whose cosine similarity is at least threshold (<=0
// uses the Clusterer's configured default). Singleton groups are excluded.
// Cluster order follows input order, per the original's determinism
// guarantee.
func (c *Clusterer) ClusterTips(ctx context.Context, namespaceID string, threshold float64) ([][]kschema.RecordedEntity, error) {
	if threshold <= 0 {
		threshold = c.defaultThreshold
	}

	entities, err := c.backend.SearchEntities(ctx, namespaceID, store.Filter{
		Type:  kschema.EntityTypeGuideline,
		Limit: MaxClusterEntities,
	})
	if err != nil {
		return nil, err
	}
	if len(entities) >= MaxClusterEntities {
		slog.Warn("clustering: hit max cluster entity cap, results may be incomplete", "namespace", namespaceID, "limit", MaxClusterEntities)
	}

	var withTaskDescription []kschema.RecordedEntity
	var taskDescriptions []string
	for _, e := range entities {
		td, _ := e.Metadata["task_description"].(string)
		if td == "" {
			continue
		}
		withTaskDescription = append(withTaskDescription, e)
		taskDescriptions = append(taskDescriptions, td)
	}

	if len(withTaskDescription) < 2 {
		return nil, nil
	}

	vectors := make([][]float32, len(taskDescriptions))
	for i, td := range taskDescriptions {
		v, err := c.embedder.Embed(ctx, td)
		if err != nil {
			return nil, fmt.Errorf("embed task description: %w", err)
		}
		vectors[i] = v
	}

	uf := newUnionFind(len(withTaskDescription))
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			if embedding.CosineSimilarity(vectors[i], vectors[j]) >= threshold {
				uf.union(i, j)
			}
		}
	}

	groups := map[int][]int{}
	for i := range withTaskDescription {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	// Sort group roots so cluster order is deterministic and reflects
	// input order, not Go's randomized map iteration.
	roots := make([]int, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var clusters [][]kschema.RecordedEntity
	for _, root := range roots {
		indices := groups[root]
		if len(indices) < 2 {
			continue
		}
		cluster := make([]kschema.RecordedEntity, len(indices))
		for i, idx := range indices {
			cluster[i] = withTaskDescription[idx]
		}
		clusters = append(clusters, cluster)
	}

	return clusters, nil
}

// ConsolidateTips clusters guideline entities, then for each cluster asks
// the LLM to merge them and performs a two-phase insert-then-delete. A
// cluster that fails to merge, or merges to zero tips, is skipped without
// touching its originals; Phase 2 deletion failures are logged, not
// propagated, so a partial failure never rolls back Phase 1's insert.
func (c *Clusterer) ConsolidateTips(ctx context.Context, namespaceID string, threshold float64) (ConsolidationResult, error) {
	clusters, err := c.ClusterTips(ctx, namespaceID, threshold)
	if err != nil {
		return ConsolidationResult{}, err
	}

	var result ConsolidationResult

	for _, cluster := range clusters {
		merged, err := c.combineCluster(ctx, cluster)
		if err != nil {
			slog.Warn("consolidation: skipping cluster after merge failure", "namespace", namespaceID, "error", err)
			continue
		}
		if len(merged) == 0 {
			slog.Warn("consolidation: LLM returned zero merged tips, skipping cluster", "namespace", namespaceID)
			continue
		}

		taskDescription, _ := cluster[0].Metadata["task_description"].(string)

		newEntities := make([]kschema.Entity, len(merged))
		for i, tip := range merged {
			newEntities[i] = kschema.Entity{
				Type:    kschema.EntityTypeGuideline,
				Content: tip.Content,
				Metadata: map[string]any{
					"rationale":        tip.Rationale,
					"category":         tip.Category,
					"trigger":          tip.Trigger,
					"task_description": taskDescription,
				},
			}
		}

		if _, err := c.backend.UpdateEntities(ctx, namespaceID, newEntities, false); err != nil {
			slog.Warn("consolidation: failed to insert merged tips, skipping cluster", "namespace", namespaceID, "error", err)
			continue
		}

		result.ClustersFound++
		result.TipsBefore += len(cluster)
		result.TipsAfter += len(merged)

		for _, original := range cluster {
			if err := c.backend.DeleteEntity(ctx, namespaceID, original.ID); err != nil {
				slog.Error("consolidation: failed to delete original entity after merge, leaving duplicate", "namespace", namespaceID, "entity_id", original.ID, "error", err)
			}
		}
	}

	return result, nil
}

var promptTemplate = template.Must(template.New("combine_cluster").Parse(defaultCombinePrompt))

type combinePromptInput struct {
	TaskDescriptions string
	Tips             string
}

type combineResponse struct {
	Tips []kschema.Tip `json:"tips"`
}

// combineCluster asks the LLM to merge a cluster's tips into a smaller,
// deduplicated set, retrying up to maxCombineAttempts times. Unlike tip
// generation (C9), exhaustion here is raised rather than degraded, since
// a cluster's originals aren't deleted until Phase 1 succeeds.
func (c *Clusterer) combineCluster(ctx context.Context, cluster []kschema.RecordedEntity) ([]kschema.Tip, error) {
	descriptionSet := map[string]bool{}
	var taskDescriptions []string
	tips := make([]kschema.Tip, 0, len(cluster))

	for _, e := range cluster {
		td, _ := e.Metadata["task_description"].(string)
		if td != "" && !descriptionSet[td] {
			descriptionSet[td] = true
			taskDescriptions = append(taskDescriptions, td)
		}

		content, _ := e.Content.(string)
		rationale, _ := e.Metadata["rationale"].(string)
		category, _ := e.Metadata["category"].(string)
		trigger, _ := e.Metadata["trigger"].(string)
		tips = append(tips, kschema.Tip{Content: content, Rationale: rationale, Category: category, Trigger: trigger})
	}

	tipsJSON, err := json.MarshalIndent(tips, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal cluster tips: %w", err)
	}
	descriptionsJSON, err := json.MarshalIndent(taskDescriptions, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal task descriptions: %w", err)
	}

	var prompt strings.Builder
	if err := promptTemplate.Execute(&prompt, combinePromptInput{
		TaskDescriptions: string(descriptionsJSON),
		Tips:             string(tipsJSON),
	}); err != nil {
		return nil, fmt.Errorf("render combine cluster prompt: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxCombineAttempts; attempt++ {
		raw, err := c.gateway.Call(ctx, c.model, "", prompt.String(), combineClusterSchema)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed combineResponse
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			lastErr = fmt.Errorf("parse combine cluster response: %w", err)
			continue
		}

		return parsed.Tips, nil
	}

	return nil, fmt.Errorf("combine cluster failed after %d attempts: %w", maxCombineAttempts, lastErr)
}

const defaultCombinePrompt = `You are consolidating tips gathered from several similar tasks into a single, smaller set of non-redundant tips.

Task descriptions covered by this cluster:
{{.TaskDescriptions}}

Existing tips:
{{.Tips}}

Merge overlapping tips, drop duplicates, and keep only the most useful distinct guidance. Respond with JSON matching the required schema.`

var combineClusterSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tips": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":   map[string]any{"type": "string"},
					"rationale": map[string]any{"type": "string"},
					"category":  map[string]any{"type": "string"},
					"trigger":   map[string]any{"type": "string"},
				},
				"required":             []string{"content", "rationale", "category", "trigger"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"tips"},
	"additionalProperties": false,
}

// unionFind is a simple union-find structure with path compression, used
// to group similarity-matrix index pairs into clusters.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	if u.parent[i] != i {
		u.parent[i] = u.find(u.parent[i])
	}
	return u.parent[i]
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[ri] = rj
	}
}
