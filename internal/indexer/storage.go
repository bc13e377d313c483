package indexer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage is the Postgres side of the segment mirror.
type Storage struct {
	pool      *pgxpool.Pool
	termCache sync.Map
}

func NewPostgresClient(ctx context.Context, cfg *config.IndexerConfig) (*Storage, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres_dsn is empty in config")
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	pgConfig.MaxConns = int32(cfg.PoolSize)
	pgConfig.MinConns = 1

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, createSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Storage{
		pool: pool,
	}, nil
}

func (s *Storage) InsertDocuments(ctx context.Context, segment uint64, docs []*Document) error {
	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(insertDocuments,
			int64(doc.DocID),
			strings.ToValidUTF8(doc.URL, ""),
			strings.ToValidUTF8(doc.Title, ""),
			int32(doc.Length),
			doc.Category,
			doc.Brand,
			doc.Price,
			int64(segment),
		)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for range docs {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) UpsertTerms(ctx context.Context, terms []string) (map[string]int64, error) {
	termMap := make(map[string]int64, len(terms))
	var missingTerms []string
	for _, term := range terms {
		if id, ok := s.termCache.Load(term); ok {
			termMap[term] = id.(int64)
		} else {
			missingTerms = append(missingTerms, term)
		}
	}
	if len(missingTerms) == 0 {
		return termMap, nil
	}
	slices.Sort(missingTerms)
	if _, err := s.pool.Exec(ctx, insertMissingTerms, missingTerms); err != nil {
		return nil, fmt.Errorf("error inserting terms: %w", err)
	}
	rows, err := s.pool.Query(ctx, getIDsByTerms, missingTerms)
	if err != nil {
		return nil, fmt.Errorf("error fetching term IDs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var term string
		if err = rows.Scan(&id, &term); err != nil {
			return nil, err
		}
		termMap[term] = id
		s.termCache.Store(term, id)
	}
	return termMap, rows.Err()
}

func (s *Storage) InsertPostings(ctx context.Context, termMap map[string]int64, postings map[string][]Posting) error {
	const maxBatchSize = 1000
	type row struct {
		termID    int64
		docID     int64
		positions []int32
	}

	var all []row
	for term, list := range postings {
		termID, ok := termMap[term]
		if !ok {
			continue
		}
		for _, p := range list {
			positions := make([]int32, len(p.Positions))
			for i, pos := range p.Positions {
				positions[i] = int32(pos)
			}
			all = append(all, row{termID: termID, docID: int64(p.DocID), positions: positions})
		}
	}

	slices.SortFunc(all, func(a, b row) int {
		if c := cmp.Compare(a.termID, b.termID); c != 0 {
			return c
		}
		return cmp.Compare(a.docID, b.docID)
	})

	for i := 0; i < len(all); i += maxBatchSize {
		end := min(i+maxBatchSize, len(all))

		batch := &pgx.Batch{}
		for _, r := range all[i:end] {
			batch.Queue(insertPostings, r.termID, r.docID, r.positions)
		}

		results := s.pool.SendBatch(ctx, batch)
		for j := 0; j < batch.Len(); j++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("error inserting posting in batch [%d-%d]: %w", i, end, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("error closing batch: %w", err)
		}
	}

	return nil
}

func (s *Storage) Close() {
	s.pool.Close()
}
