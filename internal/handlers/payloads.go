package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickcart/commerce/internal/services"
)

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	TotalAmount   string `json:"total_amount"`
	ItemCount     int    `json:"item_count"`
	PlacedAt      string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"order_number"`
	UserID               string             `json:"user_id"`
	ShippingAddressID    string             `json:"shipping_address_id"`
	Status               string             `json:"status"`
	PaymentStatus        string             `json:"payment_status"`
	PaymentMethod        string             `json:"payment_method"`
	PaymentReference     string             `json:"payment_reference,omitempty"`
	Totals               orderTotalsPayload `json:"totals"`
	Items                []orderItemPayload `json:"items"`
	PlacedAt             string             `json:"placed_at"`
	ExpectedDeliveryDate string             `json:"expected_delivery_date,omitempty"`
	ShippedAt            string             `json:"shipped_at,omitempty"`
	DeliveredAt          string             `json:"delivered_at,omitempty"`
	CancelledAt          string             `json:"cancelled_at,omitempty"`
	CancellationReason   string             `json:"cancellation_reason,omitempty"`
	TrackingNumber       string             `json:"tracking_number,omitempty"`
	RefundDeadline       string             `json:"refund_deadline,omitempty"`
	UpdatedAt            string             `json:"updated_at,omitempty"`
	Version              int64              `json:"version"`
}

// Amounts are rendered as decimal strings so clients never round through floats.
type orderTotalsPayload struct {
	ItemTotal   string `json:"item_total"`
	ShippingFee string `json:"shipping_fee"`
	CGST        string `json:"cgst"`
	SGST        string `json:"sgst"`
	Total       string `json:"total"`
}

type orderItemPayload struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	ProductImageURL string `json:"product_image_url,omitempty"`
	Quantity        int    `json:"quantity"`
	Price           string `json:"price"`
	LineTotal       string `json:"line_total"`
}

type orderItemResponse struct {
	Item orderItemPayload `json:"item"`
}

type cancellationReasonsResponse struct {
	OrderID string   `json:"order_id"`
	Status  string   `json:"status"`
	Reasons []string `json:"reasons"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnPayload struct {
	ID          string              `json:"id"`
	OrderID     string              `json:"order_id"`
	UserID      string              `json:"user_id"`
	Status      string              `json:"status"`
	Type        string              `json:"type"`
	Reason      string              `json:"reason"`
	Items       []returnItemPayload `json:"items"`
	RefundTotal string              `json:"refund_total"`
	CreatedAt   string              `json:"created_at"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
}

type returnItemPayload struct {
	ID           string `json:"id"`
	OrderItemID  string `json:"order_item_id"`
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	RefundAmount string `json:"refund_amount"`
}

type returnItemsResponse struct {
	ReturnID string              `json:"return_id"`
	Items    []returnItemPayload `json:"items"`
}

type refundTotalResponse struct {
	ReturnID    string `json:"return_id"`
	RefundTotal string `json:"refund_total"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalAmount:   formatAmount(order.TotalAmount),
		ItemCount:     len(order.Items),
		PlacedAt:      formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		ShippingAddressID: order.ShippingAddressID,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     string(order.PaymentMethod),
		PaymentReference:  strings.TrimSpace(order.PaymentReference),
		Totals: orderTotalsPayload{
			ItemTotal:   formatAmount(order.ItemTotal),
			ShippingFee: formatAmount(order.ShippingFee),
			CGST:        formatAmount(order.CGSTAmount),
			SGST:        formatAmount(order.SGSTAmount),
			Total:       formatAmount(order.TotalAmount),
		},
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		PlacedAt:             formatTime(order.PlacedAt),
		ExpectedDeliveryDate: formatDate(order.ExpectedDeliveryDate),
		ShippedAt:            formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:          formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:          formatTime(pointerTime(order.CancelledAt)),
		CancellationReason:   order.CancellationReason,
		TrackingNumber:       order.TrackingNumber,
		RefundDeadline:       formatTime(pointerTime(order.RefundDeadline)),
		UpdatedAt:            formatTime(order.UpdatedAt),
		Version:              order.Version,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}
	return payload
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	return orderItemPayload{
		ID:              item.ID,
		OrderID:         item.OrderID,
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		ProductImageURL: item.ProductImageURL,
		Quantity:        item.Quantity,
		Price:           formatAmount(item.Price),
		LineTotal:       formatAmount(item.LineTotal()),
	}
}

func buildReturnPayload(ret services.ReturnRequest) returnPayload {
	return returnPayload{
		ID:          ret.ID,
		OrderID:     ret.OrderID,
		UserID:      ret.UserID,
		Status:      string(ret.Status),
		Type:        string(ret.Type),
		Reason:      ret.Reason,
		Items:       buildReturnItemPayloads(ret.Items),
		RefundTotal: formatAmount(ret.RefundTotal()),
		CreatedAt:   formatTime(ret.CreatedAt),
		UpdatedAt:   formatTime(ret.UpdatedAt),
	}
}

func buildReturnItemPayloads(items []services.ReturnItem) []returnItemPayload {
	result := make([]returnItemPayload, 0, len(items))
	for _, item := range items {
		result = append(result, returnItemPayload{
			ID:           item.ID,
			OrderItemID:  item.OrderItemID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			RefundAmount: formatAmount(item.RefundAmount),
		})
	}
	return result
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}
