package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	"github.com/sentravision/sentra-cloud/internal/license/domain"
	"github.com/sentravision/sentra-cloud/internal/license/repository"
	orgdomain "github.com/sentravision/sentra-cloud/internal/organization/domain"
	orgrepo "github.com/sentravision/sentra-cloud/internal/organization/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type licenseFixture struct {
	db    *gorm.DB
	svc   domain.Service
	clk   *clock.FakeClock
	genID *snowflake.Node
	orgID snowflake.ID
}

func newLicenseFixture(t *testing.T) *licenseFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.License{}, &edgedomain.EdgeNode{}, &orgdomain.Organization{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	f := &licenseFixture{
		db:    db,
		clk:   clk,
		genID: node,
		orgID: node.Generate(),
	}
	require.NoError(t, db.Create(&orgdomain.Organization{
		ID:   f.orgID,
		Name: "Acme Retail",
	}).Error)

	f.svc = NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repository.NewRepository(db),
		OrgRepo: orgrepo.NewRepository(db),
		EdgeCfg: config.NewStaticEdgeConfigHolder(config.DefaultEdgeConfig()),
	})
	return f
}

func (f *licenseFixture) createLicense(t *testing.T, key, status string, expiresAt *time.Time) domain.License {
	t.Helper()
	lic := domain.License{
		ID:             f.genID.Generate(),
		OrganizationID: f.orgID,
		LicenseKey:     key,
		Status:         status,
		Plan:           "enterprise",
		MaxCameras:     16,
		Modules:        datatypes.JSON([]byte(`["face","fire","market"]`)),
		ExpiresAt:      expiresAt,
		CreatedAt:      f.clk.Now(),
	}
	require.NoError(t, f.db.Create(&lic).Error)
	return lic
}

func TestValidate_ActiveLicense(t *testing.T) {
	f := newLicenseFixture(t)
	lic := f.createLicense(t, "LIC-OK", domain.StatusActive, nil)

	res, err := f.svc.Validate(context.Background(), domain.ValidateRequest{
		LicenseKey: "LIC-OK",
		EdgeID:     "EDGE-1",
	}, 0)
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.Equal(t, lic.ID.Int64(), res.LicenseID)
	assert.Equal(t, "EDGE-1", res.EdgeID)
	assert.Equal(t, f.orgID.Int64(), res.OrganizationID)
	assert.Equal(t, []string{"face", "fire", "market"}, res.Modules)
	assert.Equal(t, "enterprise", res.Plan)
	assert.Equal(t, 16, res.MaxCameras)
	assert.Equal(t, 14, res.GraceDays)
}

func TestValidate_UnknownKey(t *testing.T) {
	f := newLicenseFixture(t)

	_, err := f.svc.Validate(context.Background(), domain.ValidateRequest{
		LicenseKey: "LIC-MISSING",
		EdgeID:     "EDGE-1",
	}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidate_InactiveLicense(t *testing.T) {
	f := newLicenseFixture(t)
	f.createLicense(t, "LIC-REVOKED", domain.StatusRevoked, nil)

	_, err := f.svc.Validate(context.Background(), domain.ValidateRequest{
		LicenseKey: "LIC-REVOKED",
		EdgeID:     "EDGE-1",
	}, 0)
	assert.ErrorIs(t, err, domain.ErrInactive)
}

func TestValidate_ExpiryGrace(t *testing.T) {
	f := newLicenseFixture(t)
	ctx := context.Background()

	// Expired ten days ago: inside the 14 day grace window.
	inGrace := f.clk.Now().Add(-10 * 24 * time.Hour)
	f.createLicense(t, "LIC-GRACE", domain.StatusActive, &inGrace)

	res, err := f.svc.Validate(ctx, domain.ValidateRequest{LicenseKey: "LIC-GRACE", EdgeID: "E"}, 0)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// Expired twenty days ago: past grace.
	pastGrace := f.clk.Now().Add(-20 * 24 * time.Hour)
	f.createLicense(t, "LIC-DEAD", domain.StatusActive, &pastGrace)

	_, err = f.svc.Validate(ctx, domain.ValidateRequest{LicenseKey: "LIC-DEAD", EdgeID: "E"}, 0)
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestValidate_MissingOrganization(t *testing.T) {
	f := newLicenseFixture(t)

	orphan := domain.License{
		ID:             f.genID.Generate(),
		OrganizationID: f.genID.Generate(),
		LicenseKey:     "LIC-ORPHAN",
		Status:         domain.StatusActive,
	}
	require.NoError(t, f.db.Create(&orphan).Error)

	_, err := f.svc.Validate(context.Background(), domain.ValidateRequest{
		LicenseKey: "LIC-ORPHAN",
		EdgeID:     "EDGE-1",
	}, 0)
	assert.ErrorIs(t, err, orgdomain.ErrNotFound)
}

func TestValidate_OrganizationScope(t *testing.T) {
	f := newLicenseFixture(t)
	f.createLicense(t, "LIC-SCOPED", domain.StatusActive, nil)

	otherOrg := f.genID.Generate()
	_, err := f.svc.Validate(context.Background(), domain.ValidateRequest{
		LicenseKey: "LIC-SCOPED",
		EdgeID:     "EDGE-1",
	}, otherOrg)
	assert.ErrorIs(t, err, domain.ErrOrgMismatch)
}

func TestBind_DeclaredLicense(t *testing.T) {
	f := newLicenseFixture(t)
	lic := f.createLicense(t, "LIC-BIND", domain.StatusActive, nil)
	nodeID := f.genID.Generate()

	declared := lic.ID
	bound, err := f.svc.Bind(context.Background(), nodeID, f.orgID, &declared)
	require.NoError(t, err)
	require.NotNil(t, bound)
	assert.Equal(t, lic.ID, *bound)

	var stored domain.License
	require.NoError(t, f.db.First(&stored, "id = ?", lic.ID).Error)
	require.NotNil(t, stored.EdgeNodeID)
	assert.Equal(t, nodeID, *stored.EdgeNodeID)
}

func TestBind_DeclaredLicenseWrongOrg(t *testing.T) {
	f := newLicenseFixture(t)

	foreign := domain.License{
		ID:             f.genID.Generate(),
		OrganizationID: f.genID.Generate(),
		LicenseKey:     "LIC-FOREIGN",
		Status:         domain.StatusActive,
	}
	require.NoError(t, f.db.Create(&foreign).Error)

	// A declared license from another org is ignored and the org's own
	// free license claimed instead.
	own := f.createLicense(t, "LIC-OWN", domain.StatusActive, nil)
	nodeID := f.genID.Generate()

	declared := foreign.ID
	bound, err := f.svc.Bind(context.Background(), nodeID, f.orgID, &declared)
	require.NoError(t, err)
	require.NotNil(t, bound)
	assert.Equal(t, own.ID, *bound)
}

func TestBind_UnknownDeclaredFallsBack(t *testing.T) {
	f := newLicenseFixture(t)
	own := f.createLicense(t, "LIC-FALLBACK", domain.StatusActive, nil)
	nodeID := f.genID.Generate()

	ghost := f.genID.Generate()
	bound, err := f.svc.Bind(context.Background(), nodeID, f.orgID, &ghost)
	require.NoError(t, err)
	require.NotNil(t, bound)
	assert.Equal(t, own.ID, *bound)
}

func TestBind_NoLicenseAvailable(t *testing.T) {
	f := newLicenseFixture(t)
	nodeID := f.genID.Generate()

	bound, err := f.svc.Bind(context.Background(), nodeID, f.orgID, nil)
	require.NoError(t, err)
	assert.Nil(t, bound)
}

func TestBind_AutoClaimSkipsBoundAndInactive(t *testing.T) {
	f := newLicenseFixture(t)

	holder := f.genID.Generate()
	taken := f.createLicense(t, "LIC-TAKEN", domain.StatusActive, nil)
	require.NoError(t, f.db.Model(&domain.License{}).
		Where("id = ?", taken.ID).
		Update("edge_node_id", holder).Error)
	f.createLicense(t, "LIC-REVOKED2", domain.StatusRevoked, nil)
	free := f.createLicense(t, "LIC-FREE", domain.StatusActive, nil)

	nodeID := f.genID.Generate()
	bound, err := f.svc.Bind(context.Background(), nodeID, f.orgID, nil)
	require.NoError(t, err)
	require.NotNil(t, bound)
	assert.Equal(t, free.ID, *bound)
}

func TestBind_Idempotent(t *testing.T) {
	f := newLicenseFixture(t)
	lic := f.createLicense(t, "LIC-IDEM", domain.StatusActive, nil)
	nodeID := f.genID.Generate()

	declared := lic.ID
	first, err := f.svc.Bind(context.Background(), nodeID, f.orgID, &declared)
	require.NoError(t, err)

	second, err := f.svc.Bind(context.Background(), nodeID, f.orgID, &declared)
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
}

func TestClaim_GuardedUpdateLosesRace(t *testing.T) {
	f := newLicenseFixture(t)
	repo := repository.NewRepository(f.db)
	lic := f.createLicense(t, "LIC-RACE", domain.StatusActive, nil)

	winner := f.genID.Generate()
	loser := f.genID.Generate()

	require.NoError(t, repo.Claim(context.Background(), lic.ID, winner))
	err := repo.Claim(context.Background(), lic.ID, loser)
	assert.ErrorIs(t, err, domain.ErrAlreadyBound)

	// Re-claiming by the holder is a no-op success.
	assert.NoError(t, repo.Claim(context.Background(), lic.ID, winner))
}
