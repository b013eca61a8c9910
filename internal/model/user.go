// Package model 包含了应用的数据模型定义。
package model

import "time"

// User 代表一个注册用户。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;size:191;not null" json:"email"`
	Name      string    `gorm:"size:64" json:"name"`
	Password  string    `gorm:"not null" json:"-"` // bcrypt 哈希，永不下发
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
