package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	cameradomain "github.com/sentravision/sentra-cloud/internal/camera/domain"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	"github.com/sentravision/sentra-cloud/internal/edge/domain"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
	"github.com/sentravision/sentra-cloud/internal/secrets"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	LicenseSvc licensedomain.Service
	CameraRepo cameradomain.Repository
	Cipher     *secrets.Cipher
	EdgeCfg    *config.EdgeConfigHolder
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	licenseSvc licensedomain.Service
	cameraRepo cameradomain.Repository
	cipher     *secrets.Cipher
	edgeCfg    *config.EdgeConfigHolder
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("edge.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		licenseSvc: p.LicenseSvc,
		cameraRepo: p.CameraRepo,
		cipher:     p.Cipher,
		edgeCfg:    p.EdgeCfg,
	}
}

// HeartbeatFirstContact serves the one unsigned heartbeat a node gets. The
// plaintext secret is revealed and the delivered flag flipped in the same
// transaction; a node whose secret is already out gets ErrAlreadyRegistered.
func (s *Service) HeartbeatFirstContact(ctx context.Context, req domain.HeartbeatRequest) (*domain.HeartbeatResult, error) {
	edge, err := s.repo.FindByEdgeID(ctx, req.EdgeID)
	if err != nil {
		return nil, err
	}
	if edge.Registered() {
		return nil, domain.ErrAlreadyRegistered
	}

	plaintext, decErr := s.cipher.DecryptString(edge.EdgeSecret)
	if decErr != nil {
		// Corrupted or re-keyed ciphertext. The heartbeat still lands but the
		// secret is withheld and the delivered flag stays down so the node can
		// retry once the stored secret is repaired.
		s.log.Error("edge secret decryption failed",
			zap.String("edge_id", edge.EdgeID),
			zap.Error(decErr))
	}

	now := s.clock.Now()
	result := &domain.HeartbeatResult{Edge: edge, EdgeKey: edge.EdgeKey}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyHeartbeat(ctx, tx, edge, req); err != nil {
			return err
		}
		if decErr != nil {
			return nil
		}

		// Guarded flip: losing a concurrent race means someone else already
		// took delivery, so this caller must not see the secret either.
		res := tx.Model(&domain.EdgeNode{}).
			Where("id = ? AND secret_delivered_at IS NULL", edge.ID).
			Update("secret_delivered_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyRegistered
		}
		edge.SecretDeliveredAt = &now
		result.EdgeSecret = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.EdgeSecret != "" {
		s.log.Info("edge secret delivered",
			zap.String("edge_id", edge.EdgeID),
			zap.Int64("edge_node_id", edge.ID.Int64()))
	}

	s.updateCameraStatuses(ctx, edge, req.CamerasStatus)
	return result, nil
}

// HeartbeatAuthenticated is the steady state: the node was resolved and
// verified by the signature gate before this runs.
func (s *Service) HeartbeatAuthenticated(ctx context.Context, edge *domain.EdgeNode, req domain.HeartbeatRequest) (*domain.HeartbeatResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyHeartbeat(ctx, tx, edge, req)
	})
	if err != nil {
		return nil, err
	}

	s.updateCameraStatuses(ctx, edge, req.CamerasStatus)
	return &domain.HeartbeatResult{Edge: edge, EdgeKey: edge.EdgeKey}, nil
}

// applyHeartbeat writes the payload onto the node row and reconciles the
// license binding. IPs and hostname fall back to system_info keys when the
// top-level fields are absent.
func (s *Service) applyHeartbeat(ctx context.Context, tx *gorm.DB, edge *domain.EdgeNode, req domain.HeartbeatRequest) error {
	now := s.clock.Now()

	edge.Version = req.Version
	edge.Online = req.Online != nil && *req.Online
	edge.LastSeenAt = &now

	internalIP := req.InternalIP
	publicIP := req.PublicIP
	hostname := req.Hostname
	if req.SystemInfo != nil {
		edge.SystemInfo = req.SystemInfo
		if internalIP == "" {
			internalIP, _ = req.SystemInfo["internal_ip"].(string)
		}
		if publicIP == "" {
			publicIP, _ = req.SystemInfo["public_ip"].(string)
		}
		if hostname == "" {
			hostname, _ = req.SystemInfo["hostname"].(string)
		}
	}
	if internalIP != "" {
		edge.InternalIP = internalIP
	}
	if publicIP != "" {
		edge.PublicIP = publicIP
	}
	if hostname != "" {
		edge.Hostname = hostname
	}

	if err := s.reconcileLicense(ctx, edge, req.LicenseID); err != nil {
		s.log.Warn("license reconciliation failed",
			zap.String("edge_id", edge.EdgeID),
			zap.Error(err))
	}

	edge.UpdatedAt = now
	return tx.Model(&domain.EdgeNode{}).
		Where("id = ?", edge.ID).
		Updates(map[string]interface{}{
			"version":      edge.Version,
			"online":       edge.Online,
			"last_seen_at": edge.LastSeenAt,
			"internal_ip":  edge.InternalIP,
			"public_ip":    edge.PublicIP,
			"hostname":     edge.Hostname,
			"system_info":  edge.SystemInfo,
			"license_id":   edge.LicenseID,
			"updated_at":   edge.UpdatedAt,
		}).Error
}

// reconcileLicense keeps licenses.edge_node_id and edge_nodes.license_id in
// agreement. A declared license wins when valid, an unlicensed node claims
// the first free license, and an already licensed node re-asserts its claim.
func (s *Service) reconcileLicense(ctx context.Context, edge *domain.EdgeNode, declaredID *int64) error {
	var declared *snowflake.ID
	if declaredID != nil {
		id := snowflake.ID(*declaredID)
		declared = &id
	} else if edge.LicenseID != nil {
		declared = edge.LicenseID
	}

	bound, err := s.licenseSvc.Bind(ctx, edge.ID, edge.OrganizationID, declared)
	if err != nil {
		return err
	}
	edge.LicenseID = bound
	return nil
}

// updateCameraStatuses applies per-camera status reports. Individual
// failures are logged and swallowed so a bad camera row cannot sink
// the heartbeat.
func (s *Service) updateCameraStatuses(ctx context.Context, edge *domain.EdgeNode, statuses []domain.CameraStatus) {
	for _, cs := range statuses {
		if cs.CameraID == "" || cs.Status == "" {
			continue
		}
		cam, err := s.cameraRepo.FindByCameraID(ctx, edge.OrganizationID, cs.CameraID)
		if err != nil {
			s.log.Warn("camera status update skipped",
				zap.String("camera_id", cs.CameraID),
				zap.Error(err))
			continue
		}
		if cam.EdgeNodeID == nil || *cam.EdgeNodeID != edge.ID {
			continue
		}
		if err := s.cameraRepo.UpdateStatus(ctx, cam.ID, cs.Status); err != nil {
			s.log.Warn("camera status update failed",
				zap.String("camera_id", cs.CameraID),
				zap.Error(err))
		}
	}
}
