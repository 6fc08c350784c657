package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/sentravision/sentra-cloud/internal/camera/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service interface {
	ListForEdge(ctx context.Context, orgID, edgeNodeID snowflake.ID) ([]domain.View, error)
}

type ServiceParam struct {
	fx.In

	Log  *zap.Logger
	Repo domain.Repository
}

type service struct {
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p ServiceParam) Service {
	return &service{
		log:  p.Log.Named("camera.service"),
		repo: p.Repo,
	}
}

func (s *service) ListForEdge(ctx context.Context, orgID, edgeNodeID snowflake.ID) ([]domain.View, error) {
	cams, err := s.repo.ListForEdge(ctx, orgID, edgeNodeID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.View, 0, len(cams))
	for _, cam := range cams {
		views = append(views, toView(cam))
	}
	return views, nil
}

func toView(cam domain.Camera) domain.View {
	v := domain.View{
		ID:       cam.ID.Int64(),
		CameraID: cam.CameraID,
		Name:     cam.Name,
		Location: cam.Location,
		RtspURL:  cam.RtspURL,
		Status:   cam.Status,
		Config: domain.ViewConfig{
			Resolution:     "1920x1080",
			FPS:            15,
			EnabledModules: []string{},
		},
	}
	if cam.EdgeNodeID != nil {
		id := cam.EdgeNodeID.Int64()
		v.EdgeNodeID = &id
	}

	cfg := cam.Config
	if cfg == nil {
		return v
	}
	if username, ok := cfg["username"].(string); ok {
		v.Config.Username = &username
	}
	if _, ok := cfg["password"]; ok {
		masked := "***"
		v.Config.Password = &masked
	}
	if res, ok := cfg["resolution"].(string); ok {
		v.Config.Resolution = res
	}
	if fps, ok := cfg["fps"].(float64); ok {
		v.Config.FPS = int(fps)
	}
	if raw, ok := cfg["enabled_modules"].([]interface{}); ok {
		modules := make([]string, 0, len(raw))
		for _, m := range raw {
			if name, ok := m.(string); ok {
				modules = append(modules, name)
			}
		}
		v.Config.EnabledModules = modules
	}
	return v
}
