// internal/storage/models/operation.go
package models

// OperationRecord — журнал исполненных операций над позициями. Signature
// пустая для no-op операций: нечего было собирать — нечего и подтверждать.
type OperationRecord struct {
	BaseModel
	Operation     string `gorm:"index;not null;type:varchar(40)"`
	Protocol      string `gorm:"not null;type:varchar(30)"`
	WalletAddress string `gorm:"index;not null;type:varchar(44)"`
	PoolID        string `gorm:"index;type:varchar(44)"`
	PositionID    string `gorm:"index;type:varchar(44)"`
	Signature     string `gorm:"type:varchar(88)"`
	State         string `gorm:"not null;type:varchar(20)"` // attempted / fallback / settled
	Success       bool   `gorm:"not null"`
	NoOp          bool   `gorm:"not null;default:false"`
	Fallback      bool   `gorm:"not null;default:false"`
	ErrorMessage  string `gorm:"type:text"`
}
