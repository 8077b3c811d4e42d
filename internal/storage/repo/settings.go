package repo

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"campaignkit/internal/storage/model"
)

// SettingsRepo 本地状态仓库
type SettingsRepo struct {
	BaseRepository[model.Setting]
}

// NewSettingsRepo 创建本地状态仓库实例
func NewSettingsRepo(db *gorm.DB) *SettingsRepo {
	return &SettingsRepo{
		BaseRepository: *NewBaseRepository[model.Setting](db),
	}
}

// Get 获取设置值
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	result := r.Db.WithContext(ctx).Where("key = ?", key).First(&setting)
	if result.Error != nil {
		return "", result.Error
	}
	return setting.Value, nil
}

// GetWithDefault 获取设置值，不存在时返回默认值
func (r *SettingsRepo) GetWithDefault(ctx context.Context, key, defaultValue string) string {
	val, err := r.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	return val
}

// Set 设置值（存在则更新，不存在则创建）
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	setting := model.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return r.Db.WithContext(ctx).Save(&setting).Error
}

// DeleteByKey 根据 key 删除设置
func (r *SettingsRepo) DeleteByKey(ctx context.Context, key string) error {
	return r.Db.WithContext(ctx).Delete(&model.Setting{}, "key = ?", key).Error
}

// GetAll 获取所有设置
func (r *SettingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	var settings []model.Setting
	if err := r.Db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}

// GetRemoteURL 获取最近一次成功下载的规则包地址
func (r *SettingsRepo) GetRemoteURL(ctx context.Context) string {
	return r.GetWithDefault(ctx, model.SettingKeyRemoteURL, "")
}

// SetRemoteURL 记录最近一次成功下载的规则包地址
func (r *SettingsRepo) SetRemoteURL(ctx context.Context, url string) error {
	return r.Set(ctx, model.SettingKeyRemoteURL, url)
}

// GetExperienceCloudID 获取最近一次注册使用的访客标识
func (r *SettingsRepo) GetExperienceCloudID(ctx context.Context) string {
	return r.GetWithDefault(ctx, model.SettingKeyExperienceCloudID, "")
}

// SetExperienceCloudID 记录最近一次注册使用的访客标识
func (r *SettingsRepo) SetExperienceCloudID(ctx context.Context, ecid string) error {
	return r.Set(ctx, model.SettingKeyExperienceCloudID, ecid)
}

// GetRegistrationTimestamp 获取最近一次注册成功时间，未注册过时返回零值
func (r *SettingsRepo) GetRegistrationTimestamp(ctx context.Context) time.Time {
	raw := r.GetWithDefault(ctx, model.SettingKeyRegistrationTimestamp, "")
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SetRegistrationTimestamp 记录最近一次注册成功时间
func (r *SettingsRepo) SetRegistrationTimestamp(ctx context.Context, ts time.Time) error {
	return r.Set(ctx, model.SettingKeyRegistrationTimestamp, strconv.FormatInt(ts.UnixMilli(), 10))
}

// ClearRegistration 清除注册相关的全部本地状态
func (r *SettingsRepo) ClearRegistration(ctx context.Context) error {
	keys := []string{
		model.SettingKeyRemoteURL,
		model.SettingKeyExperienceCloudID,
		model.SettingKeyRegistrationTimestamp,
	}
	return r.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := tx.Delete(&model.Setting{}, "key = ?", key).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
