package main

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/orderflow/internal/app"
)

// main runs the API without the CLI wrapper, for container entrypoints.
func main() {
	fx.New(app.Module).Run()
}
