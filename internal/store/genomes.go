package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"neat-trader/internal/genome"
)

// ErrNotFound 表示查询结果为空。
var ErrNotFound = errors.New("store: not found")

// GenomeRecord 为仓库中的一条基因组记录。
type GenomeRecord struct {
	RunID      string
	Generation int
	Fitness    float64
	Genome     genome.Genome
	CreatedAt  time.Time
}

// GenomeRepository 保存每一代的最优基因组。
type GenomeRepository struct {
	db *sql.DB
}

// NewGenomeRepository 创建仓库并初始化表结构。
func NewGenomeRepository(s *Store) (*GenomeRepository, error) {
	if s == nil {
		return nil, fmt.Errorf("store: store 不能为空")
	}
	r := &GenomeRepository{db: s.DB()}

	stmt := `
CREATE TABLE IF NOT EXISTS genomes (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	generation INTEGER NOT NULL,
	fitness REAL NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_genomes_run_fitness ON genomes(run_id, fitness DESC);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("store: 初始化基因组表失败: %w", err)
	}
	return r, nil
}

// Save 写入基因组，同一 ID 重复写入时覆盖。
func (r *GenomeRepository) Save(ctx context.Context, runID string, g genome.Genome) error {
	payload, err := genome.Marshal(g)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO genomes (id, run_id, generation, fitness, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET generation = excluded.generation, fitness = excluded.fitness, payload = excluded.payload`,
		g.ID, runID, g.Generation, g.Fitness, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: 写入基因组失败: %w", err)
	}
	return nil
}

// Best 返回指定运行中适应度最高的基因组；runID 为空时在全部记录中查找。
func (r *GenomeRepository) Best(ctx context.Context, runID string) (GenomeRecord, error) {
	query := `SELECT run_id, generation, fitness, payload, created_at FROM genomes`
	args := make([]interface{}, 0, 1)
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY fitness DESC, generation DESC LIMIT 1`

	var (
		rec     GenomeRecord
		payload string
		created string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&rec.RunID, &rec.Generation, &rec.Fitness, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return GenomeRecord{}, ErrNotFound
	}
	if err != nil {
		return GenomeRecord{}, fmt.Errorf("store: 查询基因组失败: %w", err)
	}

	g, err := genome.Unmarshal([]byte(payload))
	if err != nil {
		return GenomeRecord{}, err
	}
	rec.Genome = g
	if ts, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}
