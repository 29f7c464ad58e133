package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/hrcopilot/internal/models"
	"github.com/xhad/hrcopilot/internal/types"
)

const collectionsTable = "rag_collections"

type VectorStoreConfig struct {
	ConnString string
	TableName  string
}

// PGVectorStore keeps chunks in a Postgres table with a pgvector column and
// answers exact nearest-neighbour queries ordered by distance, then key.
type PGVectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool

	mu        sync.RWMutex
	created   bool
	dimension int
	metric    types.Metric
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*PGVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "items"
	}
	if !types.TableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("%w: invalid table name %q", types.ErrInvalidConfiguration, config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

// initialize prepares the extension and the collection registry, then picks
// up a collection created by an earlier ingest run.
func (vs *PGVectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createRegistry := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			metric TEXT NOT NULL
		)`, collectionsTable)
	if _, err := vs.pool.Exec(ctx, createRegistry); err != nil {
		return fmt.Errorf("failed to create collection registry: %w", err)
	}

	return vs.reload(ctx)
}

// reload refreshes the collection shape from the registry. Another process,
// usually an ingest run, may have created or rebuilt the collection since
// this handle last looked.
func (vs *PGVectorStore) reload(ctx context.Context) error {
	dimension, metric, found, err := vs.lookup(ctx, vs.pool)
	if err != nil {
		return err
	}

	vs.mu.Lock()
	vs.created, vs.dimension, vs.metric = found, dimension, metric
	vs.mu.Unlock()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (vs *PGVectorStore) lookup(ctx context.Context, q querier) (int, types.Metric, bool, error) {
	var (
		dimension int
		metric    string
	)
	err := q.QueryRow(ctx,
		fmt.Sprintf("SELECT dimension, metric FROM %s WHERE name = $1", collectionsTable),
		vs.config.TableName,
	).Scan(&dimension, &metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to read collection registry: %w", err)
	}
	return dimension, types.Metric(metric), true, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.config.TableName}.Sanitize()
}

func (vs *PGVectorStore) CreateCollection(ctx context.Context, dimension int, metric types.Metric, strict bool) error {
	if err := checkCollection(dimension, metric); err != nil {
		return err
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existingDim, existingMetric, found, err := vs.lookup(ctx, tx)
	if err != nil {
		return err
	}

	if strict && found {
		if existingDim != dimension || existingMetric != metric {
			return fmt.Errorf("%w: collection %s exists with dimension %d/%s, requested %d/%s",
				types.ErrDimensionMismatch, vs.config.TableName, existingDim, existingMetric, dimension, metric)
		}
		vs.created, vs.dimension, vs.metric = true, dimension, metric
		return nil
	}

	statements := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.table()),
		fmt.Sprintf(`
			CREATE TABLE %s (
				id BIGSERIAL PRIMARY KEY,
				document_id TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding vector(%d) NOT NULL
			)`, vs.table(), dimension),
		fmt.Sprintf("CREATE INDEX %s ON %s (document_id)",
			pgx.Identifier{vs.config.TableName + "_document_idx"}.Sanitize(), vs.table()),
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (name, dimension, metric) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			dimension = EXCLUDED.dimension,
			metric = EXCLUDED.metric`, collectionsTable)
	if _, err := tx.Exec(ctx, upsert, vs.config.TableName, dimension, string(metric)); err != nil {
		return fmt.Errorf("failed to register collection: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.created, vs.dimension, vs.metric = true, dimension, metric
	return nil
}

func (vs *PGVectorStore) insertSQL() string {
	return fmt.Sprintf(`
		INSERT INTO %s (document_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, vs.table())
}

func (vs *PGVectorStore) checkInsert(c models.Chunk) error {
	if !vs.created {
		return fmt.Errorf("%w: collection %s has not been created", types.ErrInvalidConfiguration, vs.config.TableName)
	}
	return checkVector(vs.dimension, c.Vector)
}

func (vs *PGVectorStore) Insert(ctx context.Context, chunk models.Chunk) (int64, error) {
	if err := vs.reload(ctx); err != nil {
		return 0, err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if err := vs.checkInsert(chunk); err != nil {
		return 0, err
	}

	var id int64
	err := vs.pool.QueryRow(ctx, vs.insertSQL(),
		chunk.DocumentID,
		chunk.Index,
		sanitizeUTF8(chunk.Text),
		pgvector.NewVector(toFloat32(chunk.Vector)),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chunk: %w", err)
	}
	return id, nil
}

// InsertBatch writes every chunk in one transaction; a single bad vector
// rejects the whole batch before anything is sent.
func (vs *PGVectorStore) InsertBatch(ctx context.Context, chunks []models.Chunk) error {
	if err := vs.reload(ctx); err != nil {
		return err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	for _, c := range chunks {
		if err := vs.checkInsert(c); err != nil {
			return err
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := vs.insertRows(ctx, tx, chunks); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceDocument deletes and reinserts in one transaction, so readers see
// either the old chunks or the new ones.
func (vs *PGVectorStore) ReplaceDocument(ctx context.Context, documentID string, chunks []models.Chunk) (int64, error) {
	if err := vs.reload(ctx); err != nil {
		return 0, err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	for _, c := range chunks {
		if err := vs.checkInsert(c); err != nil {
			return 0, err
		}
	}
	if !vs.created {
		return 0, nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.table()), documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	if err := vs.insertRows(ctx, tx, chunks); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (vs *PGVectorStore) insertRows(ctx context.Context, tx pgx.Tx, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	stmt := vs.insertSQL()
	for _, c := range chunks {
		batch.Queue(stmt, c.DocumentID, c.Index, sanitizeUTF8(c.Text), pgvector.NewVector(toFloat32(c.Vector)))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (vs *PGVectorStore) Nearest(ctx context.Context, vector []float64, k int) ([]models.ScoredChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", types.ErrInvalidConfiguration, k)
	}
	if err := vs.reload(ctx); err != nil {
		return nil, err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if !vs.created {
		return nil, types.ErrEmptyCollection
	}
	if err := checkVector(vs.dimension, vector); err != nil {
		return nil, err
	}

	// pgvector yields NaN cosine distance for a zero vector; it counts as 1
	distance := "COALESCE(NULLIF(embedding <=> $1, 'NaN'::float8), 1)"
	if vs.metric == types.MetricL2 {
		distance = "embedding <-> $1"
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, content, embedding, %s AS distance
		FROM %s
		ORDER BY distance, id
		LIMIT $2`,
		distance, vs.table())

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(toFloat32(vector)), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var (
			sc  models.ScoredChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&sc.Key,
			&sc.Chunk.DocumentID,
			&sc.Chunk.Index,
			&sc.Chunk.Text,
			&emb,
			&sc.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sc.Chunk.Vector = toFloat64(emb.Slice())
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	if len(results) == 0 {
		return nil, types.ErrEmptyCollection
	}
	return results, nil
}

func (vs *PGVectorStore) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	if err := vs.reload(ctx); err != nil {
		return 0, err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if !vs.created {
		return 0, nil
	}

	tag, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", vs.table()), documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

func (vs *PGVectorStore) Count(ctx context.Context) (int64, error) {
	if err := vs.reload(ctx); err != nil {
		return 0, err
	}

	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if !vs.created {
		return 0, nil
	}

	var n int64
	if err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.table())).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Dimension reports the dimension seen at the last registry read, or 0
// before a collection exists.
func (vs *PGVectorStore) Dimension() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.dimension
}

func (vs *PGVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// Postgres rejects invalid UTF-8 in TEXT columns; stray bytes from legacy
// encoded files are dropped.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}

var _ types.VectorStore = (*PGVectorStore)(nil)
