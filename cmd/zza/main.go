package main

import (
	"context"

	"github.com/smallbiznis/zza/internal/config"
	"github.com/smallbiznis/zza/internal/datacontext"
	"github.com/smallbiznis/zza/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		datacontext.Module,

		fx.Invoke(checkStore),
	)

	app.Run()
}

// checkStore opens one unit of work on start so a broken connection entry or
// a schema that does not match the mapping fails the boot.
func checkStore(lc fx.Lifecycle, p *datacontext.Provider, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c, err := p.New(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			customers, err := c.Customers().Count(ctx)
			if err != nil {
				return err
			}
			orders, err := c.Orders().Count(ctx)
			if err != nil {
				return err
			}

			log.Info("store ready",
				zap.String("connection", p.Name()),
				zap.Int64("customers", customers),
				zap.Int64("orders", orders),
			)
			return nil
		},
	})
}
