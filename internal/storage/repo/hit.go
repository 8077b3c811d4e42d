package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"campaignkit/pkg/domain"

	"campaignkit/internal/storage/model"
)

// HitRepo 上报队列仓库，按入库顺序先进先出
type HitRepo struct {
	BaseRepository[model.HitRecord]
}

// NewHitRepo 创建上报队列仓库实例
func NewHitRepo(db *gorm.DB) *HitRepo {
	return &HitRepo{
		BaseRepository: *NewBaseRepository[model.HitRecord](db),
	}
}

// Add 追加一条记录到队尾
func (r *HitRepo) Add(ctx context.Context, rec *model.HitRecord) error {
	return r.Db.WithContext(ctx).Create(rec).Error
}

// Peek 返回队首记录（最早入库的一条），队列为空时返回 ErrRecordNotFound
func (r *HitRepo) Peek(ctx context.Context) (*model.HitRecord, error) {
	var rec model.HitRecord
	err := r.Db.WithContext(ctx).Order("id ASC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Remove 按业务ID删除记录
func (r *HitRepo) Remove(ctx context.Context, uid string) error {
	return r.Db.WithContext(ctx).Delete(&model.HitRecord{}, "uid = ?", uid).Error
}

// Size 返回队列长度
func (r *HitRepo) Size(ctx context.Context) (int64, error) {
	var count int64
	err := r.Db.WithContext(ctx).Model(&model.HitRecord{}).Count(&count).Error
	return count, err
}

// Clear 清空队列
func (r *HitRepo) Clear(ctx context.Context) error {
	return r.Db.WithContext(ctx).Where("1 = 1").Delete(&model.HitRecord{}).Error
}
