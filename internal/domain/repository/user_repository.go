package repository

import (
	"context"

	"adoptme/internal/domain/entity"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	Upsert(ctx context.Context, user *entity.User) error
}
