package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrEmailTaken         = errors.New("email_taken")
	ErrWorkspaceNotFound  = errors.New("workspace_not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupResult carries everything onboarding hands back: the workspace, the
// one-time API key secret, and the bonus credits granted.
type SignupResult struct {
	Workspace      *Workspace `json:"workspace"`
	APIKeyID       string     `json:"api_key_id"`
	APIKey         string     `json:"api_key"`
	GrantedCredits int64      `json:"granted_credits"`
}

type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*SignupResult, error)
	Login(ctx context.Context, email, password string) (*Workspace, error)
	Get(ctx context.Context, id snowflake.ID) (*Workspace, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, workspace *Workspace) error
	InsertMember(ctx context.Context, db *gorm.DB, member *WorkspaceMember) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Workspace, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Workspace, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
}
