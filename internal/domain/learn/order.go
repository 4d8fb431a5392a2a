package learn

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderInit     OrderStatus = "init"
	OrderToBePaid OrderStatus = "to_be_paid"
	OrderSuccess  OrderStatus = "success"
	OrderRefund   OrderStatus = "refund"
	OrderClosed   OrderStatus = "closed"
)

// Order is owned by the payment subsystem; the engine reads Status and may open a buy record.
type Order struct {
	ID       uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderBID string      `gorm:"column:order_bid;not null;uniqueIndex" json:"order_bid"`
	UserBID  string      `gorm:"column:user_bid;not null;index:idx_order_user_shifu,priority:1" json:"user_bid"`
	ShifuBID string      `gorm:"column:shifu_bid;not null;index:idx_order_user_shifu,priority:2" json:"shifu_bid"`
	Price    float64     `gorm:"column:price;not null;default:0" json:"price"`
	Status   OrderStatus `gorm:"column:status;not null" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "order_orders" }

func (o *Order) Paid() bool { return o != nil && o.Status == OrderSuccess }

func (o *Order) Open() bool {
	return o != nil && (o.Status == OrderInit || o.Status == OrderToBePaid)
}
