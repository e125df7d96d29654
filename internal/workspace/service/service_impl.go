package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
	"github.com/listinglens/listinglens/internal/auth/password"
	"github.com/listinglens/listinglens/internal/config"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	"github.com/listinglens/listinglens/internal/wscontext"
	"github.com/listinglens/listinglens/pkg/db"
)

const minPasswordLength = 8

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Cfg       config.Config
	Repo      workspacedomain.Repository
	CreditSvc creditdomain.Service
	APIKeySvc apikeydomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     config.Config
	repo    workspacedomain.Repository
	credits creditdomain.Service
	apiKeys apikeydomain.Service
}

func NewService(p Params) workspacedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("workspace"),
		genID:   p.GenID,
		cfg:     p.Cfg,
		repo:    p.Repo,
		credits: p.CreditSvc,
		apiKeys: p.APIKeySvc,
	}
}

// Signup provisions a workspace: owner account, membership, default API key,
// and the one-time signup bonus. The bonus grant is idempotent, so a partial
// signup retried by the client cannot grant it twice.
func (s *Service) Signup(ctx context.Context, req workspacedomain.SignupRequest) (*workspacedomain.SignupResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if name == "" || email == "" {
		return nil, workspacedomain.ErrInvalidRequest
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, workspacedomain.ErrInvalidRequest
	}
	if len(req.Password) < minPasswordLength {
		return nil, workspacedomain.ErrInvalidRequest
	}

	passwordHash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	workspaceSlug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}

	workspace := &workspacedomain.Workspace{
		ID:                s.genID.Generate(),
		Name:              name,
		Slug:              workspaceSlug,
		OwnerEmail:        email,
		OwnerPasswordHash: passwordHash,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, workspace); err != nil {
			return err
		}
		return s.repo.InsertMember(ctx, tx, &workspacedomain.WorkspaceMember{
			ID:          s.genID.Generate(),
			WorkspaceID: workspace.ID,
			UserID:      workspace.ID, // the owner account shares the workspace id
			Role:        workspacedomain.RoleOwner,
		})
	})
	if db.IsDuplicateKeyErr(err) {
		return nil, workspacedomain.ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	keyCtx := wscontext.WithWorkspaceID(ctx, int64(workspace.ID))
	secret, err := s.apiKeys.Create(keyCtx, apikeydomain.CreateRequest{
		Name: "default",
		Scopes: []string{
			apikeydomain.ScopeEnhanceWrite,
			apikeydomain.ScopeCreditsRead,
		},
	})
	if err != nil {
		return nil, err
	}

	granted := int64(0)
	if s.cfg.SignupBonusCredits > 0 {
		balance, err := s.credits.GrantSignupBonus(ctx, workspace.ID, s.cfg.SignupBonusCredits)
		if err != nil {
			return nil, err
		}
		if balance != nil {
			granted = s.cfg.SignupBonusCredits
			workspace.Credits = *balance
		}
	}

	s.log.Info("workspace created",
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("slug", workspace.Slug),
		zap.Int64("bonus_credits", granted),
	)

	return &workspacedomain.SignupResult{
		Workspace:      workspace,
		APIKeyID:       secret.KeyID,
		APIKey:         secret.APIKey,
		GrantedCredits: granted,
	}, nil
}

func (s *Service) Login(ctx context.Context, email, rawPassword string) (*workspacedomain.Workspace, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || rawPassword == "" {
		return nil, workspacedomain.ErrInvalidCredentials
	}

	workspace, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if workspace == nil || !password.Verify(rawPassword, workspace.OwnerPasswordHash) {
		return nil, workspacedomain.ErrInvalidCredentials
	}
	return workspace, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*workspacedomain.Workspace, error) {
	workspace, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if workspace == nil {
		return nil, workspacedomain.ErrWorkspaceNotFound
	}
	return workspace, nil
}

// uniqueSlug derives a URL slug from the workspace name, suffixing on
// collision.
func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "workspace"
	}

	candidate := base
	for attempt := 0; attempt < 5; attempt++ {
		exists, err := s.repo.SlugExists(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%s", base, s.genID.Generate().Base36())
	}
	return candidate, nil
}
