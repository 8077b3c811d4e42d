package model

import (
	"time"
)

// Setting 本地状态表（键值对）
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`  // 设置键
	Value     string    `gorm:"type:text" json:"value"` // 设置值
	UpdatedAt time.Time `json:"updatedAt"`              // 更新时间
}

// 预定义的设置 Key
const (
	SettingKeyRemoteURL             = "CampaignRemoteUrl"             // 最近一次成功下载的规则包地址
	SettingKeyExperienceCloudID     = "ExperienceCloudId"             // 最近一次注册使用的访客标识
	SettingKeyRegistrationTimestamp = "CampaignRegistrationTimestamp" // 最近一次注册成功时间（Unix 毫秒）
)

// HitRecord 上报队列表（按主键自增保证先进先出）
type HitRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UID       string    `gorm:"uniqueIndex;not null" json:"uid"` // 入队时生成的业务ID
	DataJSON  string    `gorm:"type:text" json:"dataJson"`       // 序列化后的请求内容
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (HitRecord) TableName() string {
	return "hit_records"
}
