package domain

import "errors"

// 网络相关错误
var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrNetworkTimeout     = errors.New("network timeout")
)

// 配置相关错误
var (
	ErrInvalidConfig  = errors.New("invalid config")
	ErrConfigNotReady = errors.New("config not ready")
)

// 规则包相关错误
var (
	ErrBundleCorrupt  = errors.New("rules bundle corrupt")
	ErrRulesNotFound  = errors.New("rules file not found in bundle")
	ErrCacheNotFound  = errors.New("cache entry not found")
	ErrNothingToApply = errors.New("no rules payload to apply")
)

// 数据库相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
	ErrRecordNotFound         = errors.New("record not found")
)
