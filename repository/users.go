package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/uptrace/bun"
)

// UserModel is the Bun model for users. Provider is empty for local
// accounts and names the social provider otherwise.
type UserModel struct {
	bun.BaseModel `bun:"table:users"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	Email         string    `bun:"email,notnull,unique"`
	Username      string    `bun:"username,nullzero,unique"`
	FirstName     string    `bun:"first_name"`
	LastName      string    `bun:"last_name"`
	Role          string    `bun:"role,notnull,default:'user'"`
	PasswordHash  string    `bun:"password_hash,nullzero"`
	Provider      string    `bun:"provider,nullzero"`
	EmailVerified bool      `bun:"email_verified,notnull,default:false"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Users implements auth.UserProvider and its lookup capabilities on Bun.
type Users struct {
	db        *bun.DB
	useHashid bool
	now       func() time.Time
}

var (
	_ auth.UserProvider                = (*Users)(nil)
	_ auth.UserByEmailFinder           = (*Users)(nil)
	_ auth.UserByUsernameFinder        = (*Users)(nil)
	_ auth.UserByUsernameOrEmailFinder = (*Users)(nil)
)

// UsersOption configures Users.
type UsersOption func(*Users)

// WithHashidIDs derives user ids from the email so the same address always
// maps to the same id.
func WithHashidIDs() UsersOption {
	return func(u *Users) {
		u.useHashid = true
	}
}

// NewUsers creates the users repository.
func NewUsers(db *bun.DB, opts ...UsersOption) *Users {
	u := &Users{db: db, now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CreateSchema creates the users table when missing.
func (u *Users) CreateSchema(ctx context.Context) error {
	_, err := u.db.NewCreateTable().Model((*UserModel)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create users table")
	}
	return nil
}

// GetUserByID implements auth.UserProvider.
func (u *Users) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, auth.ErrUserNotFound
	}
	return u.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", parsed)
	})
}

// GetUserByEmail implements auth.UserByEmailFinder.
func (u *Users) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return u.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("LOWER(email) = ?", strings.ToLower(email))
	})
}

// GetUserByUsername implements auth.UserByUsernameFinder.
func (u *Users) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return u.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("username = ?", username)
	})
}

// GetUserByUsernameOrEmail implements auth.UserByUsernameOrEmailFinder.
func (u *Users) GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*auth.User, error) {
	return u.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("username = ?", identifier).
				WhereOr("LOWER(email) = ?", strings.ToLower(identifier))
		})
	})
}

// SignUpUser implements auth.UserProvider.
func (u *Users) SignUpUser(ctx context.Context, input auth.SignUpInput) (*auth.User, error) {
	record := &UserModel{
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		Username:      input.Username,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Role:          "user",
		EmailVerified: input.EmailVerified,
		CreatedAt:     u.now(),
		UpdatedAt:     u.now(),
	}

	switch account := input.Account.(type) {
	case auth.LocalAccount:
		record.PasswordHash = account.PasswordHash
	case auth.FederatedAccount:
		record.Provider = account.Provider
	}

	record.ID = uuid.New()
	if u.useHashid {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		}
	}

	if _, err := u.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user").
			WithTextCode(auth.TextCodeUserAlreadyExists)
	}
	return record.toUser(), nil
}

// UpdateUserByID implements auth.UserProvider.
func (u *Users) UpdateUserByID(ctx context.Context, id string, update auth.UserUpdate) (*auth.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, auth.ErrUserNotFound
	}

	q := u.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set("updated_at = ?", u.now()).
		Where("id = ?", parsed)
	if update.PasswordHash != nil {
		q = q.Set("password_hash = ?", *update.PasswordHash).Set("provider = NULL")
	}
	if update.EmailVerified != nil {
		q = q.Set("email_verified = ?", *update.EmailVerified)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to update user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, auth.ErrUserNotFound
	}
	return u.GetUserByID(ctx, id)
}

func (u *Users) findOne(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (*auth.User, error) {
	record := new(UserModel)
	err := where(u.db.NewSelect().Model(record)).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load user")
	}
	return record.toUser(), nil
}

func (m *UserModel) toUser() *auth.User {
	user := &auth.User{
		ID:            m.ID.String(),
		Email:         m.Email,
		Username:      m.Username,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		Role:          m.Role,
		EmailVerified: m.EmailVerified,
	}
	if m.Provider != "" {
		user.Account = auth.FederatedAccount{Provider: m.Provider}
	} else {
		user.Account = auth.LocalAccount{PasswordHash: m.PasswordHash}
	}
	return user
}
