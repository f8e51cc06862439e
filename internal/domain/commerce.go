package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the inventory owner's view of a sellable item.
type Product struct {
	ID        string
	Name      string
	ImageURL  string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	UpdatedAt time.Time
}

// Address is a shipping destination owned by a single user.
type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Cart holds the products a user intends to purchase.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem is a single product quantity inside a cart.
type CartItem struct {
	ProductID string
	Quantity  int
}

// UserRole controls access to administrative operations.
type UserRole string

const (
	UserRoleCustomer UserRole = "CUSTOMER"
	UserRoleAdmin    UserRole = "ADMIN"
)

// User is the identity owner's record resolved from an authenticated email.
type User struct {
	ID    string
	Email string
	Name  string
	Role  UserRole
}

// UserDeletedEvent announces that a user account was removed.
type UserDeletedEvent struct {
	EventID   string
	EventType string
	UserID    string
	Email     string
}

// NormaliseEmail is the canonical form used to match principals to users.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
