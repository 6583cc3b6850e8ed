package sqlite

import (
	"context"
	"sort"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/scoring"
)

// SearchMemoriesByVector scores every stored memory by cosine similarity.
// Brute force is deliberate here: this backend targets graphs of a few
// thousand memories.
func (s *Store) SearchMemoriesByVector(ctx context.Context, embedding pgvector.Vector, k int, validOnly bool) ([]graph.MemoryHit, error) {
	memories, err := s.allMemories(ctx, validOnly)
	if err != nil {
		return nil, err
	}

	query := embedding.Slice()
	hits := make([]graph.MemoryHit, 0, len(memories))
	for _, m := range memories {
		if m.Embedding == nil {
			continue
		}
		sim := scoring.CosineSimilarity(m.Embedding.Slice(), query)
		if sim <= 0 {
			continue
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: sim})
	}
	sortHits(hits)
	return capHits(hits, k), nil
}

// SearchMemoriesByText ranks memories by the fraction of query terms their
// content contains.
func (s *Store) SearchMemoriesByText(ctx context.Context, query string, k int, validOnly bool) ([]graph.MemoryHit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	memories, err := s.allMemories(ctx, validOnly)
	if err != nil {
		return nil, err
	}

	hits := make([]graph.MemoryHit, 0, len(memories))
	for _, m := range memories {
		if score := termOverlap(m.Content, terms); score > 0 {
			hits = append(hits, graph.MemoryHit{Memory: m, Score: score})
		}
	}
	sortHits(hits)
	return capHits(hits, k), nil
}

// SearchEntitiesHybrid fuses a vector pass and a term-match pass over entities
// with reciprocal-rank fusion.
func (s *Store) SearchEntitiesHybrid(ctx context.Context, query string, embedding pgvector.Vector, k int) ([]graph.EntityHit, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+entityCols+" FROM entities")
	if err != nil {
		return nil, mapErr("search entities", err)
	}
	defer rows.Close()

	byID := make(map[string]model.Entity)
	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, mapErr("search entities", err)
		}
		byID[e.ID] = e
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("search entities", err)
	}

	queryVec := embedding.Slice()
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		id    string
		score float64
	}
	var byVector, byText []scored
	for _, e := range entities {
		if e.Embedding != nil {
			if sim := scoring.CosineSimilarity(e.Embedding.Slice(), queryVec); sim > 0 {
				byVector = append(byVector, scored{e.ID, sim})
			}
		}
		text := e.Name
		if e.Description != nil {
			text += " " + *e.Description
		}
		if score := termOverlap(text, terms); score > 0 {
			byText = append(byText, scored{e.ID, score})
		}
	}

	rankOf := func(list []scored) []string {
		sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.id
		}
		return ids
	}
	fused := scoring.ReciprocalRankFusion([][]string{rankOf(byVector), rankOf(byText)}, 60)

	hits := make([]graph.EntityHit, 0, len(fused))
	for id, score := range fused {
		hits = append(hits, graph.EntityHit{Entity: byID[id], Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// PersonalizedPageRank loads the ABOUT subgraph into memory, runs the shared
// power-iteration kernel, and returns the top valid memories by rank.
func (s *Store) PersonalizedPageRank(ctx context.Context, sources map[string]float64, damping float64, iterations, limit int) ([]graph.MemoryHit, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT memory_id, entity_id FROM about_edges")
	if err != nil {
		return nil, mapErr("pagerank edges", err)
	}
	defer rows.Close()

	adj := graph.Adjacency{}
	memoryNodes := make(map[string]bool)
	for rows.Next() {
		var memoryID, entityID string
		if err := rows.Scan(&memoryID, &entityID); err != nil {
			return nil, mapErr("pagerank edges", err)
		}
		adj[memoryID] = append(adj[memoryID], entityID)
		adj[entityID] = append(adj[entityID], memoryID)
		memoryNodes[memoryID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("pagerank edges", err)
	}

	rank := graph.RunPersonalizedPageRank(adj, sources, damping, iterations)

	type ranked struct {
		id    string
		score float64
	}
	var candidates []ranked
	for id, r := range rank {
		if memoryNodes[id] {
			candidates = append(candidates, ranked{id, r})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	hits := make([]graph.MemoryHit, 0, limit)
	for _, c := range candidates {
		if limit > 0 && len(hits) >= limit {
			break
		}
		m, err := s.GetMemoryByID(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if !m.Valid() {
			continue
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: c.score})
	}
	return hits, nil
}

func (s *Store) allMemories(ctx context.Context, validOnly bool) ([]model.Memory, error) {
	q := "SELECT " + memoryCols + " FROM memories"
	if validOnly {
		q += " WHERE invalid_at IS NULL"
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapErr("list memories", err)
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, mapErr("list memories", err)
		}
		memories = append(memories, m)
	}
	return memories, mapErr("list memories", rows.Err())
}

func termOverlap(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func sortHits(hits []graph.MemoryHit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func capHits(hits []graph.MemoryHit, k int) []graph.MemoryHit {
	if k > 0 && len(hits) > k {
		return hits[:k]
	}
	return hits
}
