package postgres

import (
	"context"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/memento/internal/graph"
	"github.com/ashita-ai/memento/internal/model"
	"github.com/ashita-ai/memento/internal/scoring"
)

// SearchMemoriesByVector returns up to k memories by cosine similarity.
// pgvector's `<=>` is cosine distance, so score = 1 - distance.
func (s *Store) SearchMemoriesByVector(ctx context.Context, embedding pgvector.Vector, k int, validOnly bool) ([]graph.MemoryHit, error) {
	q := `SELECT ` + memoryCols + `, 1 - (embedding <=> $1) AS score
	      FROM memories
	      WHERE embedding IS NOT NULL`
	if validOnly {
		q += ` AND invalid_at IS NULL`
	}
	q += ` ORDER BY embedding <=> $1 LIMIT $2`

	rows, err := s.pool.Query(ctx, q, embedding, k)
	if err != nil {
		return nil, mapErr("vector search", err)
	}
	defer rows.Close()

	var hits []graph.MemoryHit
	for rows.Next() {
		var m model.Memory
		var score float64
		if err := rows.Scan(&m.ID, &m.Content, &m.Embedding, &m.CreatedAt, &m.ValidAt, &m.InvalidAt, &score); err != nil {
			return nil, mapErr("vector search", err)
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: score})
	}
	return hits, mapErr("vector search", rows.Err())
}

// SearchMemoriesByText returns up to k memories ranked by ts_rank against a
// websearch-style query.
func (s *Store) SearchMemoriesByText(ctx context.Context, query string, k int, validOnly bool) ([]graph.MemoryHit, error) {
	q := `SELECT ` + memoryCols + `, ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS score
	      FROM memories
	      WHERE content_tsv @@ websearch_to_tsquery('english', $1)`
	if validOnly {
		q += ` AND invalid_at IS NULL`
	}
	q += ` ORDER BY score DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, q, query, k)
	if err != nil {
		return nil, mapErr("fulltext search", err)
	}
	defer rows.Close()

	var hits []graph.MemoryHit
	for rows.Next() {
		var m model.Memory
		var score float64
		if err := rows.Scan(&m.ID, &m.Content, &m.Embedding, &m.CreatedAt, &m.ValidAt, &m.InvalidAt, &score); err != nil {
			return nil, mapErr("fulltext search", err)
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: score})
	}
	return hits, mapErr("fulltext search", rows.Err())
}

// SearchEntitiesHybrid runs a vector pass and a full-text pass over entities
// and fuses them with reciprocal-rank fusion.
func (s *Store) SearchEntitiesHybrid(ctx context.Context, query string, embedding pgvector.Vector, k int) ([]graph.EntityHit, error) {
	fetch := 2 * k
	if fetch < 20 {
		fetch = 20
	}

	byID := make(map[string]model.Entity)

	collect := func(q string, args ...any) ([]string, error) {
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, mapErr("entity search", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var e model.Entity
			if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &e.Embedding,
				&e.IsWellKnown, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return nil, mapErr("entity search", err)
			}
			byID[e.ID] = e
			ids = append(ids, e.ID)
		}
		return ids, mapErr("entity search", rows.Err())
	}

	vectorIDs, err := collect(
		`SELECT `+entityCols+` FROM entities WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1 LIMIT $2`, embedding, fetch)
	if err != nil {
		return nil, err
	}
	textIDs, err := collect(
		`SELECT `+entityCols+` FROM entities
		 WHERE to_tsvector('english', name || ' ' || coalesce(description, '')) @@ websearch_to_tsquery('english', $1)
		 ORDER BY ts_rank(to_tsvector('english', name || ' ' || coalesce(description, '')), websearch_to_tsquery('english', $1)) DESC
		 LIMIT $2`, query, fetch)
	if err != nil {
		return nil, err
	}

	fused := scoring.ReciprocalRankFusion([][]string{vectorIDs, textIDs}, 60)
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

// PersonalizedPageRank loads the ABOUT adjacency in one query, runs the shared
// kernel, and hydrates the top valid memories.
func (s *Store) PersonalizedPageRank(ctx context.Context, sources map[string]float64, damping float64, iterations, limit int) ([]graph.MemoryHit, error) {
	rows, err := s.pool.Query(ctx, `SELECT memory_id, entity_id FROM about_edges`)
	if err != nil {
		return nil, mapErr("pagerank edges", err)
	}

	adj := graph.Adjacency{}
	memoryNodes := make(map[string]bool)
	for rows.Next() {
		var memoryID, entityID string
		if err := rows.Scan(&memoryID, &entityID); err != nil {
			rows.Close()
			return nil, mapErr("pagerank edges", err)
		}
		adj[memoryID] = append(adj[memoryID], entityID)
		adj[entityID] = append(adj[entityID], memoryID)
		memoryNodes[memoryID] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("pagerank edges", err)
	}

	rank := graph.RunPersonalizedPageRank(adj, sources, damping, iterations)

	type ranked struct {
		id    string
		score float64
	}
	candidates := make([]ranked, 0, len(rank))
	for id, r := range rank {
		if memoryNodes[id] {
			candidates = append(candidates, ranked{id, r})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	ids := make([]string, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
		scores[c.id] = c.score
	}

	memRows, err := s.pool.Query(ctx,
		`SELECT `+memoryCols+` FROM memories WHERE id = ANY($1) AND invalid_at IS NULL`, ids)
	if err != nil {
		return nil, mapErr("pagerank memories", err)
	}
	defer memRows.Close()

	byID := make(map[string]model.Memory, len(ids))
	for memRows.Next() {
		var m model.Memory
		if err := memRows.Scan(&m.ID, &m.Content, &m.Embedding, &m.CreatedAt, &m.ValidAt, &m.InvalidAt); err != nil {
			return nil, mapErr("pagerank memories", err)
		}
		byID[m.ID] = m
	}
	if err := memRows.Err(); err != nil {
		return nil, mapErr("pagerank memories", err)
	}

	hits := make([]graph.MemoryHit, 0, limit)
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue
		}
		if limit > 0 && len(hits) >= limit {
			break
		}
		hits = append(hits, graph.MemoryHit{Memory: m, Score: scores[id]})
	}
	return hits, nil
}
