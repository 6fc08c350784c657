package license

import (
	"github.com/sentravision/sentra-cloud/internal/license/repository"
	"github.com/sentravision/sentra-cloud/internal/license/service"
	"go.uber.org/fx"
)

var Module = fx.Module("license.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
