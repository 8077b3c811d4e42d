package config

// Config 组件本地配置（数据库、缓存目录、日志）
type Config struct {
	Version string `yaml:"version"`
	Sqlite  struct {
		Db     string `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`
	Cache struct {
		Dir string `yaml:"dir"`
	} `yaml:"cache"`
	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Sqlite.Db = "campaign.db"
	cfg.Sqlite.Prefix = "campaignkit_"
	cfg.Cache.Dir = "campaign"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"file", "console"}
	return cfg
}
