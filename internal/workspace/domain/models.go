package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Workspace owns a running credit balance. The balance is mutated only by the
// credit service, inside the same transaction as the ledger row.
type Workspace struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	Name              string       `gorm:"type:text;not null"`
	Slug              string       `gorm:"type:text;not null;uniqueIndex:ux_workspaces_slug"`
	Credits           int64        `gorm:"not null;default:0"`
	OwnerEmail        string       `gorm:"column:owner_email;type:text;not null;uniqueIndex:ux_workspaces_owner_email"`
	OwnerPasswordHash string       `gorm:"column:owner_password_hash;type:text;not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Workspace) TableName() string { return "workspaces" }

// WorkspaceMember maps an account onto a workspace role. The owner row is
// created at signup; further members join by invitation.
type WorkspaceMember struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	WorkspaceID snowflake.ID `gorm:"column:workspace_id;not null;uniqueIndex:ux_workspace_members_workspace_user"`
	UserID      snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_workspace_members_workspace_user"`
	Role        string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WorkspaceMember) TableName() string { return "workspace_members" }

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)
