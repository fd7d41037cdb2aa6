package domain

import (
	"github.com/google/uuid"
)

type EffectType string

// Side-effect intents emitted by aggregate transitions. The coordinator
// persists them alongside the state change and a relay delivers them to
// collaborators at-least-once; they never roll back a committed transition.
const (
	EffectNotify             EffectType = "notify"
	EffectInventoryReserve   EffectType = "inventory_reserve"
	EffectInventoryRelease   EffectType = "inventory_release"
	EffectInventoryDecrement EffectType = "inventory_decrement"
	EffectRequestRefund      EffectType = "request_refund"
	EffectFlagManualReview   EffectType = "flag_manual_review"
)

type Effect struct {
	Type      EffectType     `json:"type"`
	OrderID   uuid.UUID      `json:"order_id,omitempty"`
	PaymentID uuid.UUID      `json:"payment_id,omitempty"`
	ProductID uuid.UUID      `json:"product_id,omitempty"`
	Quantity  int32          `json:"quantity,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Template  string         `json:"template,omitempty"`
	Amount    *Money         `json:"amount,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func notifyEffect(orderID uuid.UUID, recipient, template string, data map[string]any) Effect {
	return Effect{
		Type:      EffectNotify,
		OrderID:   orderID,
		Recipient: recipient,
		Template:  template,
		Data:      data,
	}
}

func inventoryEffect(effectType EffectType, orderID, productID uuid.UUID, qty int32) Effect {
	return Effect{
		Type:      effectType,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  qty,
	}
}
