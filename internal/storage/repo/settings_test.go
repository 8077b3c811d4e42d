package repo_test

import (
	"context"
	"testing"
	"time"

	"campaignkit/internal/storage/db"
	"campaignkit/internal/storage/model"
	"campaignkit/internal/storage/repo"
)

// setupSettingsTestDB 创建用于 SettingsRepo 测试的内存数据库。
func setupSettingsTestDB(t *testing.T) *repo.SettingsRepo {
	gdb, err := db.New(db.Options{
		Name:   ":memory:",
		Prefix: "test_",
	})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}

	err = db.Migrate(gdb, &model.Setting{})
	if err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}

	return repo.NewSettingsRepo(gdb)
}

// TestSettingsRepo_SetAndGet 测试设置的保存与读取。
func TestSettingsRepo_SetAndGet(t *testing.T) {
	r := setupSettingsTestDB(t)

	key := "test_key"
	value := "test_value"

	err := r.Set(context.Background(), key, value)
	if err != nil {
		t.Fatalf("设置失败: %v", err)
	}

	retrieved, err := r.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("获取设置失败: %v", err)
	}

	if retrieved != value {
		t.Errorf("预期值为 %s，实际为 %s", value, retrieved)
	}
}

// TestSettingsRepo_GetWithDefault 测试不存在的键返回默认值。
func TestSettingsRepo_GetWithDefault(t *testing.T) {
	r := setupSettingsTestDB(t)

	defaultVal := "default_value"
	retrieved := r.GetWithDefault(context.Background(), "non_existent_key", defaultVal)

	if retrieved != defaultVal {
		t.Errorf("预期返回默认值 %s，实际返回 %s", defaultVal, retrieved)
	}
}

// TestSettingsRepo_DeleteByKey 测试按键删除功能。
func TestSettingsRepo_DeleteByKey(t *testing.T) {
	r := setupSettingsTestDB(t)

	key := "to_delete"
	r.Set(context.Background(), key, "some_value")

	err := r.DeleteByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("删除失败: %v", err)
	}

	_, err = r.Get(context.Background(), key)
	if err == nil {
		t.Error("预期键已删除，但仍然能获取到值")
	}
}

// TestSettingsRepo_RegistrationTimestamp 测试注册时间的存取与零值语义。
func TestSettingsRepo_RegistrationTimestamp(t *testing.T) {
	r := setupSettingsTestDB(t)
	ctx := context.Background()

	// 未注册过时返回零值
	if ts := r.GetRegistrationTimestamp(ctx); !ts.IsZero() {
		t.Errorf("未注册时预期零值，实际为 %v", ts)
	}

	now := time.Now().Truncate(time.Millisecond)
	if err := r.SetRegistrationTimestamp(ctx, now); err != nil {
		t.Fatalf("写入注册时间失败: %v", err)
	}

	got := r.GetRegistrationTimestamp(ctx)
	if !got.Equal(now) {
		t.Errorf("注册时间预期 %v，实际 %v", now, got)
	}

	// 非法值按零值处理
	r.Set(ctx, model.SettingKeyRegistrationTimestamp, "not-a-number")
	if ts := r.GetRegistrationTimestamp(ctx); !ts.IsZero() {
		t.Errorf("非法值预期零值，实际为 %v", ts)
	}
}

// TestSettingsRepo_ClearRegistration 测试注册状态整体清除。
func TestSettingsRepo_ClearRegistration(t *testing.T) {
	r := setupSettingsTestDB(t)
	ctx := context.Background()

	r.SetRemoteURL(ctx, "https://mcias.example.com/bundle/rules.zip")
	r.SetExperienceCloudID(ctx, "ecid-123")
	r.SetRegistrationTimestamp(ctx, time.Now())

	if err := r.ClearRegistration(ctx); err != nil {
		t.Fatalf("清除注册状态失败: %v", err)
	}

	if got := r.GetRemoteURL(ctx); got != "" {
		t.Errorf("预期规则包地址已清除，实际为 %s", got)
	}
	if got := r.GetExperienceCloudID(ctx); got != "" {
		t.Errorf("预期访客标识已清除，实际为 %s", got)
	}
	if ts := r.GetRegistrationTimestamp(ctx); !ts.IsZero() {
		t.Errorf("预期注册时间已清除，实际为 %v", ts)
	}
}
