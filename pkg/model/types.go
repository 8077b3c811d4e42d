package model

// CoreConfig 宿主装配参数。
// 零值可用: 缓存与数据库落在平台默认目录。
type CoreConfig struct {
	CacheDir     string `json:"cacheDir"`     // 规则包与消息资源缓存根目录
	DatabasePath string `json:"databasePath"` // 持久化数据库路径，":memory:" 仅内存
}

// EngineStats 规则评估累计统计
type EngineStats struct {
	Total   int64            `json:"total"`   // 评估过的事件总数
	Matched int64            `json:"matched"` // 命中过规则的事件数
	ByRule  map[string]int64 `json:"byRule"`  // 规则 ID -> 命中次数
}

// QueueStats 追踪命中队列观测信息
type QueueStats struct {
	Pending int64 `json:"pending"` // 待发送的命中数
}
