package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`

	//セール価格（無ければNULL）
	SalePrice decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"sale_price"`
	IsOnSale  bool                `gorm:"not null;default:false" json:"is_on_sale"`
	//セール価格で売れる残り数
	OnSaleQuantity int64 `gorm:"not null;default:0" json:"on_sale_quantity"`

	Stock int64 `gorm:"not null" json:"stock"`

	//画像の相対パス（/images/products/uploads/...）
	Image string `gorm:"type:varchar(512);not null;default:''" json:"image"`

	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
