package normcache

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"neat-trader/internal/store"
)

// SQLiteBackend 将边界保存到 normalization_bounds 表。
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend 创建 SQLite 后端并初始化表结构。
func NewSQLiteBackend(st *store.Store) (*SQLiteBackend, error) {
	if st == nil {
		return nil, fmt.Errorf("normcache: store 不能为空")
	}
	b := &SQLiteBackend{db: st.DB()}

	stmt := `
CREATE TABLE IF NOT EXISTS normalization_bounds (
	channel INTEGER PRIMARY KEY,
	min_value REAL NOT NULL,
	max_value REAL NOT NULL,
	created_at TEXT NOT NULL
);`
	if _, err := b.db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("normcache: 初始化表失败: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]Bounds, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT channel, min_value, max_value FROM normalization_bounds ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("normcache: 查询边界失败: %w", err)
	}
	defer rows.Close()

	bounds := make([]Bounds, 0)
	for rows.Next() {
		var (
			channel int
			lo, hi  float64
		)
		if err := rows.Scan(&channel, &lo, &hi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
		if channel != len(bounds) {
			return nil, fmt.Errorf("%w: 通道序号不连续 (%d)", ErrCacheCorrupt, channel)
		}
		if math.IsNaN(lo) || math.IsNaN(hi) {
			return nil, fmt.Errorf("%w: 通道 %d 边界非法", ErrCacheCorrupt, channel)
		}
		bounds = append(bounds, Bounds{Min: lo, Max: hi})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("normcache: 遍历边界失败: %w", err)
	}
	if len(bounds) == 0 {
		return nil, nil
	}
	return bounds, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, bounds []Bounds) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("normcache: 开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM normalization_bounds`).Scan(&count); err != nil {
		return fmt.Errorf("normcache: 查询边界失败: %w", err)
	}
	if count > 0 {
		return ErrBoundsExist
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, bd := range bounds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO normalization_bounds (channel, min_value, max_value, created_at) VALUES (?, ?, ?, ?)`,
			i, bd.Min, bd.Max, now,
		); err != nil {
			return fmt.Errorf("normcache: 写入边界失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("normcache: 提交事务失败: %w", err)
	}
	return nil
}

// Discard 清空表，以便重新计算后写入。
func (b *SQLiteBackend) Discard(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM normalization_bounds`); err != nil {
		return fmt.Errorf("normcache: 清空边界失败: %w", err)
	}
	return nil
}
