package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/authz"
	"github.com/Additional-Code/orderflow/internal/cache"
	"github.com/Additional-Code/orderflow/internal/config"
	"github.com/Additional-Code/orderflow/internal/database"
	"github.com/Additional-Code/orderflow/internal/identity"
	"github.com/Additional-Code/orderflow/internal/lifecycle"
	"github.com/Additional-Code/orderflow/internal/logger"
	"github.com/Additional-Code/orderflow/internal/messaging"
	"github.com/Additional-Code/orderflow/internal/observability"
	"github.com/Additional-Code/orderflow/internal/payment"
	"github.com/Additional-Code/orderflow/internal/payment/paypal"
	"github.com/Additional-Code/orderflow/internal/payment/stripe"
	repositoryorder "github.com/Additional-Code/orderflow/internal/repository/order"
	repositorypaymentmethod "github.com/Additional-Code/orderflow/internal/repository/paymentmethod"
	grpcserver "github.com/Additional-Code/orderflow/internal/server/grpc"
	httpserver "github.com/Additional-Code/orderflow/internal/server/http"
	serviceorder "github.com/Additional-Code/orderflow/internal/service/order"
	servicepaymentmethod "github.com/Additional-Code/orderflow/internal/service/paymentmethod"
	"github.com/Additional-Code/orderflow/internal/service/reconcile"
	transporthttp "github.com/Additional-Code/orderflow/internal/transport/http"
	"github.com/Additional-Code/orderflow/internal/webhook"
	"github.com/Additional-Code/orderflow/internal/worker"
	workerorder "github.com/Additional-Code/orderflow/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	// Install the telemetry providers before anything creates instruments.
	fx.Invoke(func(*observability.Manager) {}),
	cache.Module,
	database.Module,
	messaging.Module,
	repositoryorder.Module,
	repositorypaymentmethod.Module,
	lifecycle.Module,
)

// Domain wires identity, payments and the order services.
var Domain = fx.Options(
	identity.Module,
	authz.Module,
	payment.Module,
	stripe.Module,
	paypal.Module,
	webhook.Module,
	reconcile.Module,
	serviceorder.Module,
	servicepaymentmethod.Module,
)

// HTTP wires the HTTP transport and the gRPC health server on top of the
// core and domain modules.
var HTTP = fx.Options(
	Core,
	Domain,
	httpserver.Module,
	transporthttp.Module,
	grpcserver.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Standalone runs the API and the worker in one process. It is the only
// layout where the in-process message bus reaches a consumer.
var Standalone = fx.Options(
	HTTP,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
