package edge

import (
	"github.com/sentravision/sentra-cloud/internal/edge/repository"
	"github.com/sentravision/sentra-cloud/internal/edge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("edge.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
