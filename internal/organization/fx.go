package organization

import (
	"github.com/sentravision/sentra-cloud/internal/organization/repository"
	"github.com/sentravision/sentra-cloud/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewEntitlements),
)
