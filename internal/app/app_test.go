package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
)

func TestGraphsValidate(t *testing.T) {
	graphs := map[string]fx.Option{
		"http":       HTTP,
		"worker":     Worker,
		"standalone": Standalone,
	}
	for name, graph := range graphs {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, fx.ValidateApp(graph, fx.NopLogger))
		})
	}
}
