package monitoring

import (
	"github.com/sentravision/sentra-cloud/internal/monitoring/repository"
	"github.com/sentravision/sentra-cloud/internal/monitoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("monitoring.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
