package mysql

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/flashorder/internal/domain"
)

// productModel соответствует таблице products.
type productModel struct {
	ID        int64           `gorm:"primaryKey;autoIncrement:false"`
	Name      string          `gorm:"size:255;not null"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Stock     int64           `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (productModel) TableName() string { return "products" }

// orderModel соответствует таблице orders.
type orderModel struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	PublicID      string          `gorm:"size:36;uniqueIndex;not null"`
	UserID        int64           `gorm:"not null;index"`
	ProductID     int64           `gorm:"not null"`
	Quantity      int64           `gorm:"not null"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Status        string          `gorm:"size:16;not null;index"`
	DeductionID   string          `gorm:"size:36;uniqueIndex;not null"`
	FailureReason sql.NullString  `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (orderModel) TableName() string { return "orders" }

// outboxModel соответствует таблице outbox_messages.
type outboxModel struct {
	ID            string    `gorm:"primaryKey;size:36"`
	AggregateType string    `gorm:"size:64;not null"`
	AggregateID   string    `gorm:"size:64;not null"`
	EventType     string    `gorm:"size:64;not null"`
	Payload       []byte    `gorm:"type:json;not null"`
	Status        string    `gorm:"size:16;not null;index:idx_outbox_pending,priority:1"`
	AttemptCount  int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"index:idx_outbox_pending,priority:2"`
	UpdatedAt     time.Time
}

func (outboxModel) TableName() string { return "outbox_messages" }

func toProductModel(p domain.Product) productModel {
	return productModel{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (m productModel) toDomain() domain.Product {
	return domain.Product{
		ID:        m.ID,
		Name:      m.Name,
		Price:     m.Price,
		Stock:     m.Stock,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func toOrderModel(o domain.Order) orderModel {
	return orderModel{
		ID:            o.ID,
		PublicID:      o.PublicID,
		UserID:        o.UserID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		TotalPrice:    o.TotalPrice,
		Status:        string(o.Status),
		DeductionID:   o.DeductionID,
		FailureReason: sql.NullString{String: o.FailureReason, Valid: o.FailureReason != ""},
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (m orderModel) toDomain() domain.Order {
	return domain.Order{
		ID:            m.ID,
		PublicID:      m.PublicID,
		UserID:        m.UserID,
		ProductID:     m.ProductID,
		Quantity:      m.Quantity,
		TotalPrice:    m.TotalPrice,
		Status:        domain.OrderStatus(m.Status),
		DeductionID:   m.DeductionID,
		FailureReason: m.FailureReason.String,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

func toOutboxModel(msg domain.OutboxMessage, now time.Time) outboxModel {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return outboxModel{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		Status:        outboxStatusPending,
		CreatedAt:     createdAt.UTC(),
		UpdatedAt:     now,
	}
}

func (m outboxModel) toDomain() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}
