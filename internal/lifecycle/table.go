package lifecycle

import (
	"github.com/Additional-Code/orderflow/internal/entity"
	"github.com/Additional-Code/orderflow/pkg/errorbank"
)

// Trigger is an input to the order state machine.
type Trigger string

const (
	TriggerPaymentSucceeded     Trigger = "payment_succeeded"
	TriggerPaymentFailed        Trigger = "payment_failed"
	TriggerRefundCompleted      Trigger = "refund_completed"
	TriggerManualCancel         Trigger = "manual_cancel"
	TriggerFulfillmentShipped   Trigger = "fulfillment_shipped"
	TriggerFulfillmentDelivered Trigger = "fulfillment_delivered"
)

// Triggers lists every trigger in the order admin resolution prefers them.
var Triggers = []Trigger{
	TriggerManualCancel,
	TriggerFulfillmentShipped,
	TriggerFulfillmentDelivered,
	TriggerPaymentSucceeded,
	TriggerRefundCompleted,
	TriggerPaymentFailed,
}

type transition struct {
	sources []entity.OrderStatus
	target  entity.OrderStatus
	payment entity.PaymentStatus
}

var table = map[Trigger]transition{
	TriggerPaymentSucceeded: {
		sources: []entity.OrderStatus{entity.StatusPending},
		target:  entity.StatusProcessing,
		payment: entity.PaymentPaid,
	},
	TriggerPaymentFailed: {
		sources: []entity.OrderStatus{entity.StatusPending, entity.StatusProcessing},
		target:  entity.StatusCancelled,
		payment: entity.PaymentFailed,
	},
	TriggerRefundCompleted: {
		sources: []entity.OrderStatus{entity.StatusProcessing, entity.StatusShipped, entity.StatusDelivered},
		target:  entity.StatusRefunded,
		payment: entity.PaymentRefunded,
	},
	TriggerManualCancel: {
		sources: []entity.OrderStatus{entity.StatusPending, entity.StatusProcessing},
		target:  entity.StatusCancelled,
	},
	TriggerFulfillmentShipped: {
		sources: []entity.OrderStatus{entity.StatusProcessing},
		target:  entity.StatusShipped,
	},
	TriggerFulfillmentDelivered: {
		sources: []entity.OrderStatus{entity.StatusShipped},
		target:  entity.StatusDelivered,
	},
}

// Next returns the status reached by applying trigger to current. It fails
// with an invalid_transition error when current is not an allowed source.
func Next(current entity.OrderStatus, trigger Trigger) (entity.OrderStatus, error) {
	t, ok := table[trigger]
	if !ok {
		return current, errorbank.BadRequest("unknown lifecycle trigger",
			errorbank.WithDetail("trigger", string(trigger)))
	}
	for _, source := range t.sources {
		if source == current {
			return t.target, nil
		}
	}
	return current, errorbank.InvalidTransition("transition not allowed from current status",
		errorbank.WithDetail("status", string(current)),
		errorbank.WithDetail("trigger", string(trigger)),
	)
}

// PaymentEffect reports the payment status a trigger sets, if any.
func PaymentEffect(trigger Trigger) (entity.PaymentStatus, bool) {
	t, ok := table[trigger]
	if !ok || t.payment == "" {
		return "", false
	}
	return t.payment, true
}

// TriggerFor resolves the trigger that moves an order from current to target.
func TriggerFor(current, target entity.OrderStatus) (Trigger, error) {
	if !target.Valid() {
		return "", errorbank.BadRequest("unknown order status",
			errorbank.WithDetail("status", string(target)))
	}
	for _, trigger := range Triggers {
		if next, err := Next(current, trigger); err == nil && next == target {
			return trigger, nil
		}
	}
	return "", errorbank.InvalidTransition("no transition reaches the requested status",
		errorbank.WithDetail("status", string(current)),
		errorbank.WithDetail("target", string(target)),
	)
}

// TriggerForEvent maps a canonical webhook type to the trigger it fires.
// Canonical types without a lifecycle effect return false.
func TriggerForEvent(t entity.CanonicalType) (Trigger, bool) {
	switch t {
	case entity.EventPaymentSucceeded:
		return TriggerPaymentSucceeded, true
	case entity.EventPaymentFailed:
		return TriggerPaymentFailed, true
	case entity.EventRefundCompleted:
		return TriggerRefundCompleted, true
	default:
		return "", false
	}
}
