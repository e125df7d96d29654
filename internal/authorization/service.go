package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor     = errors.New("invalid_actor")
	ErrInvalidWorkspace = errors.New("invalid_workspace")
	ErrInvalidObject    = errors.New("invalid_object")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrForbidden        = errors.New("forbidden")
)

// Service answers "may this actor perform this action on this object within
// this workspace". Actors are "system", "api_key:<id>", or "user:<id>".
type Service interface {
	Authorize(ctx context.Context, actor string, workspaceID string, object string, action string) error
}
