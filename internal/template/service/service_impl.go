package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/listinglens/listinglens/internal/cache"
	"github.com/listinglens/listinglens/internal/template/domain"
)

const (
	templateCacheTTL = 5 * time.Minute
	listCacheKey     = snowflake.ID(0)
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository

	byID cache.Cache[snowflake.ID, domain.StyleTemplate]
	list cache.Cache[snowflake.ID, []domain.StyleTemplate]
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("template"),
		repo: p.Repo,
		byID: cache.NewTTLCache[snowflake.ID, domain.StyleTemplate](),
		list: cache.NewTTLCache[snowflake.ID, []domain.StyleTemplate](),
	}
}

func (s *Service) List(ctx context.Context) ([]domain.StyleTemplate, error) {
	if cached, ok := s.list.Get(listCacheKey); ok {
		return cached, nil
	}

	templates, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	s.list.Set(listCacheKey, templates, templateCacheTTL)
	for _, t := range templates {
		s.byID.Set(t.ID, t, templateCacheTTL)
	}
	return templates, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.StyleTemplate, error) {
	if cached, ok := s.byID.Get(id); ok {
		return &cached, nil
	}

	template, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, domain.ErrTemplateNotFound
	}

	s.byID.Set(template.ID, *template, templateCacheTTL)
	return template, nil
}
