package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/quickcart/commerce/internal/domain"
	pfirestore "github.com/quickcart/commerce/internal/platform/firestore"
	"github.com/quickcart/commerce/internal/repositories"
)

const usersCollection = "users"

type userDocument struct {
	Email           string `firestore:"email"`
	EmailNormalised string `firestore:"emailNormalised"`
	Name            string `firestore:"name"`
	Role            string `firestore:"role"`
}

// UserRepository resolves authenticated principals. Documents carry a normalised copy of the
// email so lookups are case-insensitive.
type UserRepository struct {
	base *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		base: pfirestore.NewCollection[userDocument](provider, usersCollection),
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	normalised := domain.NormaliseEmail(email)
	if normalised == "" {
		return domain.User{}, errors.New("email is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("emailNormalised", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.by_email", status.Errorf(codes.NotFound, "user %s not found", normalised))
	}
	return toDomainUser(docs[0].ID, docs[0].Data), nil
}

func toDomainUser(id string, doc userDocument) domain.User {
	role := domain.UserRole(strings.ToUpper(strings.TrimSpace(doc.Role)))
	if role != domain.UserRoleAdmin {
		role = domain.UserRoleCustomer
	}
	return domain.User{
		ID:    id,
		Email: doc.Email,
		Name:  doc.Name,
		Role:  role,
	}
}

// newUserDocument is used by seeding tooling and tests.
func newUserDocument(user domain.User) userDocument {
	return userDocument{
		Email:           strings.TrimSpace(user.Email),
		EmailNormalised: domain.NormaliseEmail(user.Email),
		Name:            user.Name,
		Role:            string(user.Role),
	}
}
