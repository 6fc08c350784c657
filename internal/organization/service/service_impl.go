package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
	"github.com/sentravision/sentra-cloud/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type EntitlementsParam struct {
	fx.In

	Log         *zap.Logger
	LicenseRepo licensedomain.Repository
}

type entitlements struct {
	log         *zap.Logger
	licenseRepo licensedomain.Repository
}

func NewEntitlements(p EntitlementsParam) domain.Entitlements {
	return &entitlements{
		log:         p.Log.Named("organization.entitlements"),
		licenseRepo: p.LicenseRepo,
	}
}

// IsModuleEnabled checks the modules list on the node's bound license. A node
// without a license has no module entitlements at all.
func (e *entitlements) IsModuleEnabled(ctx context.Context, orgID snowflake.ID, licenseID *snowflake.ID, module string) (bool, error) {
	if licenseID == nil {
		return false, nil
	}

	lic, err := e.licenseRepo.FindByID(ctx, *licenseID)
	if err != nil {
		if errors.Is(err, licensedomain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if lic.OrganizationID != orgID || lic.Status != licensedomain.StatusActive {
		return false, nil
	}

	var modules []string
	if len(lic.Modules) > 0 {
		if err := json.Unmarshal(lic.Modules, &modules); err != nil {
			e.log.Warn("license modules list is not valid JSON",
				zap.Int64("license_id", lic.ID.Int64()))
			return false, nil
		}
	}
	for _, m := range modules {
		if m == module {
			return true, nil
		}
	}
	return false, nil
}
