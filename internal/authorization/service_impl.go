package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/lib/pq"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
)

//go:embed model.conf
var modelText string

const (
	ObjectCredits     = "credits"
	ObjectEnhancement = "enhancement"
	ObjectAPIKey      = "api_key"
	ObjectTemplate    = "template"
	ObjectReceipt     = "receipt"
)

const (
	ActionCreditsView   = "credits.view"
	ActionCreditsAdjust = "credits.adjust"

	ActionEnhancementView   = "enhancement.view"
	ActionEnhancementCreate = "enhancement.create"
	ActionEnhancementRetry  = "enhancement.retry"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"

	ActionTemplateView = "template.view"

	ActionReceiptDownload = "receipt.download"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, workspaceID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return ErrInvalidWorkspace
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, workspaceID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("ws:%s", workspaceID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("workspace_id", workspaceID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, workspaceID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "api_key:") {
		apiKeyIDRaw := strings.TrimPrefix(actor, "api_key:")
		apiKeyID, err := snowflake.ParseString(apiKeyIDRaw)
		if err != nil || apiKeyID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedWorkspaceID, err := snowflake.ParseString(workspaceID)
		if err != nil || parsedWorkspaceID == 0 {
			return "", "", ErrInvalidWorkspace
		}
		role, err := s.roleForAPIKey(ctx, parsedWorkspaceID, apiKeyID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", role), nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedWorkspaceID, err := snowflake.ParseString(workspaceID)
		if err != nil || parsedWorkspaceID == 0 {
			return "", "", ErrInvalidWorkspace
		}
		role, err := s.roleForUser(ctx, parsedWorkspaceID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, workspaceID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM workspace_members
		 WHERE workspace_id = ? AND user_id = ?
		 LIMIT 1`,
		workspaceID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// roleForAPIKey maps a key's scopes onto workspace roles so the key's reach
// is bounded by what it was issued for. Keys holding the webhook admin scope
// act as owner; keys that can create work act as admin; read-only keys act as
// member.
func (s *ServiceImpl) roleForAPIKey(ctx context.Context, workspaceID snowflake.ID, apiKeyID snowflake.ID) (string, error) {
	var row struct {
		ID     snowflake.ID   `gorm:"column:id"`
		Scopes pq.StringArray `gorm:"column:scopes"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, scopes
		 FROM api_keys
		 WHERE id = ? AND workspace_id = ? AND is_active = ?
		 LIMIT 1`,
		apiKeyID,
		workspaceID,
		true,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	if row.ID == 0 {
		return "", ErrForbidden
	}

	granted := make(map[string]bool, len(row.Scopes))
	for _, scope := range row.Scopes {
		granted[strings.TrimSpace(scope)] = true
	}
	switch {
	case granted[apikeydomain.ScopeWebhookAdmin]:
		return "owner", nil
	case granted[apikeydomain.ScopeEnhanceWrite]:
		return "admin", nil
	default:
		return "member", nil
	}
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions (read plus day-to-day enhancement work)
		{"role:member", ObjectCredits, ActionCreditsView},
		{"role:member", ObjectTemplate, ActionTemplateView},
		{"role:member", ObjectEnhancement, ActionEnhancementView},
		{"role:member", ObjectEnhancement, ActionEnhancementCreate},

		// Admin permissions
		{"role:admin", ObjectCredits, ActionCreditsView},
		{"role:admin", ObjectTemplate, ActionTemplateView},
		{"role:admin", ObjectEnhancement, ActionEnhancementView},
		{"role:admin", ObjectEnhancement, ActionEnhancementCreate},
		{"role:admin", ObjectEnhancement, ActionEnhancementRetry},
		{"role:admin", ObjectAPIKey, ActionAPIKeyView},
		{"role:admin", ObjectAPIKey, ActionAPIKeyCreate},
		{"role:admin", ObjectAPIKey, ActionAPIKeyRotate},
		{"role:admin", ObjectReceipt, ActionReceiptDownload},

		// Owner permissions
		{"role:owner", ObjectCredits, ActionCreditsView},
		{"role:owner", ObjectCredits, ActionCreditsAdjust},
		{"role:owner", ObjectTemplate, ActionTemplateView},
		{"role:owner", ObjectEnhancement, ActionEnhancementView},
		{"role:owner", ObjectEnhancement, ActionEnhancementCreate},
		{"role:owner", ObjectEnhancement, ActionEnhancementRetry},
		{"role:owner", ObjectAPIKey, ActionAPIKeyView},
		{"role:owner", ObjectAPIKey, ActionAPIKeyCreate},
		{"role:owner", ObjectAPIKey, ActionAPIKeyRotate},
		{"role:owner", ObjectAPIKey, ActionAPIKeyRevoke},
		{"role:owner", ObjectReceipt, ActionReceiptDownload},

		// System permissions (scheduler)
		{"role:system", ObjectCredits, ActionCreditsView},
		{"role:system", ObjectCredits, ActionCreditsAdjust},
		{"role:system", ObjectTemplate, ActionTemplateView},
		{"role:system", ObjectEnhancement, ActionEnhancementView},
		{"role:system", ObjectEnhancement, ActionEnhancementCreate},
		{"role:system", ObjectEnhancement, ActionEnhancementRetry},
		{"role:system", ObjectAPIKey, ActionAPIKeyView},
		{"role:system", ObjectReceipt, ActionReceiptDownload},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
