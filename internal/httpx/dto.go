package httpx

import (
	"time"

	"github.com/TomyLeHuy/ecommerce-platform/internal/orders"
)

type itemResp struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductSKU  string `json:"product_sku"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
}

type historyResp struct {
	ID        string        `json:"id"`
	Status    orders.Status `json:"status"`
	Notes     string        `json:"notes"`
	ChangedBy string        `json:"changed_by"`
	CreatedAt time.Time     `json:"created_at"`
}

type orderResp struct {
	ID                string                   `json:"id"`
	OrderNumber       string                   `json:"order_number"`
	CustomerID        string                   `json:"customer_id"`
	ShopID            string                   `json:"shop_id"`
	Status            orders.Status            `json:"status"`
	FulfillmentMethod orders.FulfillmentMethod `json:"fulfillment_method"`
	ShippingAddress   orders.Address           `json:"shipping_address"`
	Subtotal          string                   `json:"subtotal"`
	TaxAmount         string                   `json:"tax_amount"`
	ShippingCost      string                   `json:"shipping_cost"`
	DiscountAmount    string                   `json:"discount_amount"`
	TokensUsed        int                      `json:"tokens_used"`
	TokensValue       string                   `json:"tokens_value"`
	Total             string                   `json:"total"`
	PaymentStatus     string                   `json:"payment_status"`
	PaymentMethod     string                   `json:"payment_method,omitempty"`
	IsPaid            bool                     `json:"is_paid"`
	CanBeCancelled    bool                     `json:"can_be_cancelled"`
	CustomerNotes     string                   `json:"customer_notes,omitempty"`
	TrackingNumber    string                   `json:"tracking_number,omitempty"`
	TrackingURL       string                   `json:"tracking_url,omitempty"`
	OrderedAt         time.Time                `json:"ordered_at"`
	ConfirmedAt       *time.Time               `json:"confirmed_at,omitempty"`
	ShippedAt         *time.Time               `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time               `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time               `json:"cancelled_at,omitempty"`
	UpdatedAt         time.Time                `json:"updated_at"`
	Items             []itemResp               `json:"items"`
	History           []historyResp            `json:"history,omitempty"`
	Replayed          bool                     `json:"replayed,omitempty"`
}

func toOrderResp(o orders.Order, replayed bool) orderResp {
	resp := orderResp{
		ID:                o.ID,
		OrderNumber:       o.OrderNumber,
		CustomerID:        o.CustomerID,
		ShopID:            o.ShopID,
		Status:            o.Status,
		FulfillmentMethod: o.FulfillmentMethod,
		ShippingAddress:   o.ShippingAddress,
		Subtotal:          o.Subtotal.StringFixed(2),
		TaxAmount:         o.TaxAmount.StringFixed(2),
		ShippingCost:      o.ShippingCost.StringFixed(2),
		DiscountAmount:    o.DiscountAmount.StringFixed(2),
		TokensUsed:        o.TokensUsed,
		TokensValue:       o.TokensValue.StringFixed(2),
		Total:             o.Total.StringFixed(2),
		PaymentStatus:     o.PaymentStatus,
		PaymentMethod:     o.PaymentMethod,
		IsPaid:            o.IsPaid(),
		CanBeCancelled:    o.CanBeCancelled(),
		CustomerNotes:     o.CustomerNotes,
		TrackingNumber:    o.TrackingNumber,
		TrackingURL:       o.TrackingURL,
		OrderedAt:         o.OrderedAt,
		ConfirmedAt:       o.ConfirmedAt,
		ShippedAt:         o.ShippedAt,
		DeliveredAt:       o.DeliveredAt,
		CancelledAt:       o.CancelledAt,
		UpdatedAt:         o.UpdatedAt,
		Items:             make([]itemResp, 0, len(o.Items)),
		History:           toHistoryResp(o.History),
		Replayed:          replayed,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, itemResp{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ProductSKU:  it.ProductSKU,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal.StringFixed(2),
			TaxRate:     it.TaxRate.String(),
			TaxAmount:   it.TaxAmount.StringFixed(2),
		})
	}
	return resp
}

func toHistoryResp(hist []orders.StatusHistory) []historyResp {
	out := make([]historyResp, 0, len(hist))
	for _, h := range hist {
		out = append(out, historyResp{
			ID:        h.ID,
			Status:    h.Status,
			Notes:     h.Notes,
			ChangedBy: h.ChangedBy,
			CreatedAt: h.CreatedAt,
		})
	}
	return out
}
