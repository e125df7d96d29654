package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrTemplateNotFound = errors.New("template_not_found")

type Service interface {
	List(ctx context.Context) ([]StyleTemplate, error)
	Get(ctx context.Context, id snowflake.ID) (*StyleTemplate, error)
}

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB) ([]StyleTemplate, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*StyleTemplate, error)
}
