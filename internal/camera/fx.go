package camera

import (
	"github.com/sentravision/sentra-cloud/internal/camera/repository"
	"github.com/sentravision/sentra-cloud/internal/camera/service"
	"go.uber.org/fx"
)

var Module = fx.Module("camera.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
