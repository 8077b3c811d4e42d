package config

import "time"

// DefaultSettings 定义运行期参数的默认值
type DefaultSettings struct {
	RequestTimeout        time.Duration // 网络请求超时
	RegistrationDelayDays int           // 两次注册之间的最小间隔天数
	RetryInterval         time.Duration // 上报队列重试间隔
}

// GetDefaultSettings 返回默认运行期参数
func GetDefaultSettings() DefaultSettings {
	return DefaultSettings{
		RequestTimeout:        5 * time.Second,
		RegistrationDelayDays: 7,
		RetryInterval:         30 * time.Second,
	}
}
