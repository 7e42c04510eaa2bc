// Package model holds the Zza entities. They are plain structs: the data
// context never wraps or subclasses them, and navigation fields stay nil
// until a query includes them.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        uuid.UUID  `gorm:"column:Id;primaryKey" json:"id"`
	StoreID   *uuid.UUID `gorm:"column:StoreId" json:"storeId,omitempty"`
	FirstName string     `gorm:"not null" json:"firstName"`
	LastName  string     `gorm:"not null" json:"lastName"`
	Phone     string     `json:"phone,omitempty"`
	Email     string     `json:"email,omitempty"`
	Street    string     `json:"street,omitempty"`
	City      string     `json:"city,omitempty"`
	State     string     `json:"state,omitempty"`
	Zip       string     `json:"zip,omitempty"`

	Orders []*Order `json:"orders,omitempty"`
}

// FullName is first and last name joined by a space.
func (c *Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type Order struct {
	ID             int64           `gorm:"column:Id;primaryKey" json:"id"`
	CustomerID     uuid.UUID       `gorm:"column:CustomerId;not null" json:"customerId"`
	OrderDate      time.Time       `gorm:"not null" json:"orderDate"`
	Phone          string          `json:"phone,omitempty"`
	DeliveryDate   *time.Time      `json:"deliveryDate,omitempty"`
	DeliveryCharge decimal.Decimal `gorm:"type:numeric(9,2)" json:"deliveryCharge"`
	DeliveryStreet string          `json:"deliveryStreet,omitempty"`
	DeliveryCity   string          `json:"deliveryCity,omitempty"`
	DeliveryState  string          `json:"deliveryState,omitempty"`
	DeliveryZip    string          `json:"deliveryZip,omitempty"`
	ItemsTotal     decimal.Decimal `gorm:"type:numeric(9,2)" json:"itemsTotal"`

	Customer *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}

// Total is the items total plus the delivery charge.
func (o *Order) Total() decimal.Decimal {
	return o.ItemsTotal.Add(o.DeliveryCharge)
}
