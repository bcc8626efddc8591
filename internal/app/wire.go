//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/pledgeflow/payments/internal/infra/config"
)

// New builds the application using Wire.
func New(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		AppSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
