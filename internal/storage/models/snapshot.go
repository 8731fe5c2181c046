// internal/storage/models/snapshot.go
package models

import "time"

// PositionSnapshot — строка снимка портфеля. Снимок заменяется целиком на
// каждое успешное обновление: RefreshID связывает строки одного обновления.
type PositionSnapshot struct {
	BaseModel
	RefreshID     string    `gorm:"index;not null;type:varchar(36)"`
	WalletAddress string    `gorm:"index;not null;type:varchar(44)"`
	Protocol      string    `gorm:"not null;type:varchar(30)"`
	PoolID        string    `gorm:"index;not null;type:varchar(64)"` // синтетические идентификаторы длиннее base58
	PositionID    string    `gorm:"not null;type:varchar(44)"`
	TickLower     int32     `gorm:"not null"`
	TickUpper     int32     `gorm:"not null"`
	Liquidity     string    `gorm:"not null;type:varchar(40)"` // u128 не влезает в bigint
	ValueUSD      float64   `gorm:"type:decimal(20,9)"`
	FeesUSD       float64   `gorm:"type:decimal(20,9)"`
	RewardsUSD    float64   `gorm:"type:decimal(20,9)"`
	FetchedAt     time.Time `gorm:"index;not null"`
}

// PoolInfo — кеш метаданных пула для отображения без похода в сеть.
type PoolInfo struct {
	BaseModel
	PoolID      string    `gorm:"unique;not null;type:varchar(44)"`
	Protocol    string    `gorm:"not null;type:varchar(30)"`
	TokenAMint  string    `gorm:"index;not null;type:varchar(44)"`
	TokenBMint  string    `gorm:"index;not null;type:varchar(44)"`
	TokenASym   string    `gorm:"type:varchar(20)"`
	TokenBSym   string    `gorm:"type:varchar(20)"`
	TickSpacing int32     `gorm:"not null"`
	FeeRate     uint16    `gorm:"not null"`
	LastUpdate  time.Time `gorm:"index;not null"`
}
