// Package storage 保存执行历史，基于 gorm 与 sqlite。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/raja-9679/TraceIQ-sub000/internal/logger"
	"github.com/raja-9679/TraceIQ-sub000/pkg/domain"
)

// ErrNotFound run 不存在
var ErrNotFound = errors.New("storage: run not found")

// Open 打开 sqlite 并迁移表结构，prefix 为表名前缀
func Open(dsn, prefix string, l logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// RunRecord 一次执行的持久化记录，完整结果以 JSON 存放
type RunRecord struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      int64  `gorm:"uniqueIndex"`
	Status     string `gorm:"size:16;index"`
	DurationMS int64
	Error      *string
	Cases      int
	Result     string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunRepo 执行历史仓库
type RunRepo struct {
	db *gorm.DB
}

// NewRunRepo 创建仓库
func NewRunRepo(db *gorm.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Save 保存结果，同一 run id 覆盖旧记录
func (r *RunRepo) Save(ctx context.Context, res *domain.RunResult) error {
	if res == nil {
		return errors.New("nil run result")
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode run %d: %w", res.RunID, err)
	}
	rec := RunRecord{
		RunID:      int64(res.RunID),
		Status:     string(res.Status),
		DurationMS: res.DurationMS,
		Error:      res.Error,
		Cases:      len(res.Results),
		Result:     string(b),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "duration_ms", "error", "cases", "result", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save run %d: %w", res.RunID, err)
	}
	return nil
}

// Get 读取完整结果
func (r *RunRepo) Get(ctx context.Context, id domain.RunID) (*domain.RunResult, error) {
	var rec RunRecord
	err := r.db.WithContext(ctx).Where("run_id = ?", int64(id)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	var res domain.RunResult
	if err := json.Unmarshal([]byte(rec.Result), &res); err != nil {
		return nil, fmt.Errorf("decode run %d: %w", id, err)
	}
	return &res, nil
}

// List 按时间倒序返回最近的 limit 条摘要，limit <= 0 时返回 50 条
func (r *RunRepo) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []RunRecord
	err := r.db.WithContext(ctx).
		Select("run_id", "status", "duration_ms", "error", "cases", "created_at").
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]domain.RunSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.RunSummary{
			RunID:      domain.RunID(rec.RunID),
			Status:     domain.Status(rec.Status),
			DurationMS: rec.DurationMS,
			Error:      rec.Error,
			Cases:      rec.Cases,
			CreatedAt:  rec.CreatedAt,
		})
	}
	return out, nil
}
