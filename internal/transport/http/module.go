package http

import (
	"go.uber.org/fx"

	ordertransport "github.com/Additional-Code/orderflow/internal/transport/http/order"
	paymentmethodtransport "github.com/Additional-Code/orderflow/internal/transport/http/paymentmethod"
	webhooktransport "github.com/Additional-Code/orderflow/internal/transport/http/webhook"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	paymentmethodtransport.Module,
	webhooktransport.Module,
)
