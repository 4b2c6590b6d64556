package repository

import (
	"context"
	"strconv"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"adoptme/internal/domain/entity"
	"adoptme/internal/domain/repository"
	"adoptme/pkg/errors"
)

type firestoreUserRepository struct {
	client *firestore.Client
}

func NewFirestoreUserRepository(client *firestore.Client) repository.UserRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

func (r *firestoreUserRepository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	doc, err := r.client.Collection("users").Doc(strconv.FormatInt(id, 10)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Internal("Failed to get user", err)
	}

	var user entity.User
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.Internal("Failed to parse user data", err)
	}
	return &user, nil
}

func (r *firestoreUserRepository) Upsert(ctx context.Context, user *entity.User) error {
	_, err := r.client.Collection("users").Doc(strconv.FormatInt(user.ID, 10)).Set(ctx, user)
	if err != nil {
		return errors.Internal("Failed to save user", err)
	}
	return nil
}
