package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
)

type repo struct{}

func Provide() workspacedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, workspace *workspacedomain.Workspace) error {
	return db.WithContext(ctx).Create(workspace).Error
}

func (r *repo) InsertMember(ctx context.Context, db *gorm.DB, member *workspacedomain.WorkspaceMember) error {
	return db.WithContext(ctx).Create(member).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*workspacedomain.Workspace, error) {
	var workspace workspacedomain.Workspace
	err := db.WithContext(ctx).Where("id = ?", id).First(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &workspace, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*workspacedomain.Workspace, error) {
	var workspace workspacedomain.Workspace
	err := db.WithContext(ctx).Where("owner_email = ?", email).First(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &workspace, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slugValue string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&workspacedomain.Workspace{}).
		Where("slug = ?", slugValue).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
