package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
	apikeyrepository "github.com/listinglens/listinglens/internal/apikey/repository"
	apikeyservice "github.com/listinglens/listinglens/internal/apikey/service"
	"github.com/listinglens/listinglens/internal/config"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	creditrepository "github.com/listinglens/listinglens/internal/credit/repository"
	creditservice "github.com/listinglens/listinglens/internal/credit/service"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
	workspacerepository "github.com/listinglens/listinglens/internal/workspace/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupWorkspaceService(t *testing.T) (workspacedomain.Service, *gorm.DB) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&workspacedomain.Workspace{},
		&workspacedomain.WorkspaceMember{},
		&creditdomain.CreditTransaction{},
		&apikeydomain.APIKey{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  creditrepository.Provide(),
	})

	apiKeySvc := apikeyservice.New(apikeyservice.Params{
		DB:    gdb,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  apikeyrepository.Provide(),
	})

	svc := NewService(Params{
		DB:        gdb,
		Log:       zap.NewNop(),
		GenID:     node,
		Cfg:       config.Config{SignupBonusCredits: 10},
		Repo:      workspacerepository.Provide(),
		CreditSvc: creditSvc,
		APIKeySvc: apiKeySvc,
	})

	return svc, gdb
}

func TestSignupProvisionsWorkspace(t *testing.T) {
	svc, gdb := setupWorkspaceService(t)

	result, err := svc.Signup(context.Background(), workspacedomain.SignupRequest{
		Name:     "Harborview Homes",
		Email:    "Owner@Harborview.example",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	require.Equal(t, "harborview-homes", result.Workspace.Slug)
	require.Equal(t, "owner@harborview.example", result.Workspace.OwnerEmail)
	require.True(t, strings.HasPrefix(result.APIKey, "ll_live_key_"))
	require.Equal(t, int64(10), result.GrantedCredits)
	require.Equal(t, int64(10), result.Workspace.Credits)

	var member workspacedomain.WorkspaceMember
	require.NoError(t, gdb.Where("workspace_id = ?", result.Workspace.ID).First(&member).Error)
	require.Equal(t, workspacedomain.RoleOwner, member.Role)

	var bonusCount int64
	require.NoError(t, gdb.Model(&creditdomain.CreditTransaction{}).
		Where("workspace_id = ? AND type = ?", result.Workspace.ID, creditdomain.TransactionTypeBonus).
		Count(&bonusCount).Error)
	require.Equal(t, int64(1), bonusCount)
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc, _ := setupWorkspaceService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, workspacedomain.SignupRequest{
		Name:     "First",
		Email:    "owner@example.com",
		Password: "long enough password",
	})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, workspacedomain.SignupRequest{
		Name:     "Second",
		Email:    "owner@example.com",
		Password: "long enough password",
	})
	require.ErrorIs(t, err, workspacedomain.ErrEmailTaken)
}

func TestSignupValidation(t *testing.T) {
	svc, _ := setupWorkspaceService(t)
	ctx := context.Background()

	cases := []workspacedomain.SignupRequest{
		{Name: "", Email: "a@b.example", Password: "long enough password"},
		{Name: "Agency", Email: "not-an-email", Password: "long enough password"},
		{Name: "Agency", Email: "a@b.example", Password: "short"},
	}
	for _, req := range cases {
		_, err := svc.Signup(ctx, req)
		require.ErrorIs(t, err, workspacedomain.ErrInvalidRequest)
	}
}

func TestSlugCollisionGetsSuffix(t *testing.T) {
	svc, _ := setupWorkspaceService(t)
	ctx := context.Background()

	first, err := svc.Signup(ctx, workspacedomain.SignupRequest{
		Name:     "Sunset Realty",
		Email:    "one@example.com",
		Password: "long enough password",
	})
	require.NoError(t, err)

	second, err := svc.Signup(ctx, workspacedomain.SignupRequest{
		Name:     "Sunset Realty",
		Email:    "two@example.com",
		Password: "long enough password",
	})
	require.NoError(t, err)

	require.Equal(t, "sunset-realty", first.Workspace.Slug)
	require.NotEqual(t, first.Workspace.Slug, second.Workspace.Slug)
	require.True(t, strings.HasPrefix(second.Workspace.Slug, "sunset-realty-"))
}

func TestLogin(t *testing.T) {
	svc, _ := setupWorkspaceService(t)
	ctx := context.Background()

	created, err := svc.Signup(ctx, workspacedomain.SignupRequest{
		Name:     "Harborview Homes",
		Email:    "owner@harborview.example",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	workspace, err := svc.Login(ctx, "owner@harborview.example", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, created.Workspace.ID, workspace.ID)

	_, err = svc.Login(ctx, "owner@harborview.example", "wrong password")
	require.ErrorIs(t, err, workspacedomain.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct horse battery")
	require.ErrorIs(t, err, workspacedomain.ErrInvalidCredentials)
}
