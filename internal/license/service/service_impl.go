package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	"github.com/sentravision/sentra-cloud/internal/license/domain"
	orgdomain "github.com/sentravision/sentra-cloud/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	OrgRepo orgdomain.Repository `optional:"true"`
	EdgeCfg *config.EdgeConfigHolder
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	orgRepo orgdomain.Repository
	edgeCfg *config.EdgeConfigHolder
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("license.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		orgRepo: p.OrgRepo,
		edgeCfg: p.EdgeCfg,
	}
}

func (s *Service) Validate(ctx context.Context, req domain.ValidateRequest, scopeOrg snowflake.ID) (*domain.ValidateResult, error) {
	var (
		lic *domain.License
		err error
	)
	if scopeOrg != 0 {
		lic, err = s.repo.FindByKeyForOrganization(ctx, req.LicenseKey, scopeOrg)
		if errors.Is(err, domain.ErrNotFound) {
			// Distinguish a key from another tenant from a key that does
			// not exist at all.
			if _, lookupErr := s.repo.FindByKey(ctx, req.LicenseKey); lookupErr == nil {
				return nil, domain.ErrOrgMismatch
			}
		}
	} else {
		lic, err = s.repo.FindByKey(ctx, req.LicenseKey)
	}
	if err != nil {
		return nil, err
	}

	if lic.Status != domain.StatusActive {
		return nil, domain.ErrInactive
	}

	if s.orgRepo != nil {
		if _, err := s.orgRepo.FindByID(ctx, lic.OrganizationID); err != nil {
			return nil, err
		}
	}

	graceDays := s.edgeCfg.Get().LicenseGraceDays
	now := s.clock.Now()
	if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
		pastExpiry := now.Sub(*lic.ExpiresAt)
		if int(pastExpiry.Hours()/24) > graceDays {
			return nil, domain.ErrExpired
		}
	}

	return &domain.ValidateResult{
		Valid:          true,
		LicenseID:      lic.ID.Int64(),
		EdgeID:         req.EdgeID,
		OrganizationID: lic.OrganizationID.Int64(),
		ExpiresAt:      lic.ExpiresAt,
		GraceDays:      graceDays,
		Modules:        decodeModules(lic.Modules),
		Plan:           lic.Plan,
		MaxCameras:     lic.MaxCameras,
	}, nil
}

func (s *Service) Bind(ctx context.Context, edgeNodeID, orgID snowflake.ID, declared *snowflake.ID) (*snowflake.ID, error) {
	if declared != nil {
		lic, err := s.repo.FindByID(ctx, *declared)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Unknown declared license falls back to auto-claim.
				return s.autoClaim(ctx, edgeNodeID, orgID)
			}
			return nil, err
		}
		if lic.OrganizationID != orgID {
			s.log.Warn("declared license belongs to another organization",
				zap.Int64("license_id", lic.ID.Int64()),
				zap.Int64("edge_node_id", edgeNodeID.Int64()))
			return s.autoClaim(ctx, edgeNodeID, orgID)
		}

		// Release whatever either side held before binding the pair: the
		// license's previous holder and any other license this node holds.
		if err := s.releaseHolder(ctx, lic.ID, edgeNodeID); err != nil {
			return nil, err
		}
		if err := s.repo.Release(ctx, edgeNodeID, declared); err != nil {
			return nil, err
		}
		if err := s.repo.Claim(ctx, lic.ID, edgeNodeID); err != nil {
			if errors.Is(err, domain.ErrAlreadyBound) {
				return s.autoClaim(ctx, edgeNodeID, orgID)
			}
			return nil, err
		}
		id := lic.ID
		return &id, nil
	}

	return s.autoClaim(ctx, edgeNodeID, orgID)
}

// releaseHolder detaches the license from any edge node other than keep,
// clearing both sides of the link.
func (s *Service) releaseHolder(ctx context.Context, licenseID, keep snowflake.ID) error {
	if err := s.db.WithContext(ctx).
		Exec("UPDATE edge_nodes SET license_id = NULL WHERE license_id = ? AND id <> ?", licenseID, keep).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Exec("UPDATE licenses SET edge_node_id = NULL WHERE id = ? AND edge_node_id IS NOT NULL AND edge_node_id <> ?", licenseID, keep).Error
}

func (s *Service) autoClaim(ctx context.Context, edgeNodeID, orgID snowflake.ID) (*snowflake.ID, error) {
	lic, err := s.repo.ClaimFirstAvailable(ctx, orgID, edgeNodeID)
	if err != nil {
		if errors.Is(err, domain.ErrNoneAvailable) {
			return nil, nil
		}
		return nil, err
	}
	id := lic.ID
	return &id, nil
}

func decodeModules(raw []byte) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var modules []string
	if err := json.Unmarshal(raw, &modules); err != nil {
		return []string{}
	}
	return modules
}
