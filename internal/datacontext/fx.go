package datacontext

import (
	"context"

	"github.com/smallbiznis/zza/internal/config"
	"github.com/smallbiznis/zza/internal/mapping"
	obslogger "github.com/smallbiznis/zza/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("datacontext",
	fx.Provide(
		provideModel,
		provideProvider,
	),
)

func provideModel() (*mapping.Model, error) {
	return BuildModel()
}

func provideProvider(lc fx.Lifecycle, cfg config.Config, model *mapping.Model, conns *config.Connections, log *zap.Logger) *Provider {
	opts := []ProviderOption{
		WithGormLogger(obslogger.NewGormLogger(log, obslogger.GormLoggerConfig{
			Level:                obslogger.GormLevel(cfg.LogLevel),
			SlowThreshold:        obslogger.DefaultGormLoggerConfig().SlowThreshold,
			IgnoreRecordNotFound: true,
		})),
	}
	if cfg.DBMetricsPort > 0 {
		opts = append(opts, WithPlugins(gormprometheus.New(gormprometheus.Config{
			DBName:          cfg.AppName,
			RefreshInterval: 15,
			StartServer:     true,
			HTTPServerPort:  uint32(cfg.DBMetricsPort),
		})))
	}
	if cfg.ContextName != "" {
		opts = append(opts, WithConnectionName(cfg.ContextName))
	}

	p := NewProvider(model, conns, log, opts...)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.Close()
		},
	})
	return p
}
