package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hichchidev/hichchi-sub000/social"
	"github.com/uptrace/bun"
)

// SocialAccountModel is the Bun model for social accounts.
type SocialAccountModel struct {
	bun.BaseModel `bun:"table:social_accounts"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	UserID         uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Provider       string    `bun:"provider,notnull,unique:provider_identity"`
	ProviderUserID string    `bun:"provider_user_id,notnull,unique:provider_identity"`
	Email          string    `bun:"email"`
	Name           string    `bun:"name"`
	AvatarURL      string    `bun:"avatar_url"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// SocialAccountRepository implements social.SocialAccountRepository using Bun.
type SocialAccountRepository struct {
	db *bun.DB
}

var _ social.SocialAccountRepository = (*SocialAccountRepository)(nil)

// NewSocialAccountRepository creates a new repository.
func NewSocialAccountRepository(db *bun.DB) *SocialAccountRepository {
	return &SocialAccountRepository{db: db}
}

// CreateSchema creates the social_accounts table when missing.
func (r *SocialAccountRepository) CreateSchema(ctx context.Context) error {
	_, err := r.db.NewCreateTable().Model((*SocialAccountModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// FindByProviderID implements social.SocialAccountRepository.
func (r *SocialAccountRepository) FindByProviderID(ctx context.Context, provider, providerUserID string) (*social.SocialAccount, error) {
	var model SocialAccountModel
	err := r.db.NewSelect().
		Model(&model).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model.toSocialAccount(), nil
}

// FindByUserID implements social.SocialAccountRepository.
func (r *SocialAccountRepository) FindByUserID(ctx context.Context, userID string) ([]*social.SocialAccount, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return []*social.SocialAccount{}, nil
	}

	var models []SocialAccountModel
	err = r.db.NewSelect().
		Model(&models).
		Where("user_id = ?", id).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	accounts := make([]*social.SocialAccount, len(models))
	for i := range models {
		accounts[i] = models[i].toSocialAccount()
	}
	return accounts, nil
}

// Upsert implements social.SocialAccountRepository. The provider identity is
// the conflict key, so a re-link moves the identity to the new user.
func (r *SocialAccountRepository) Upsert(ctx context.Context, account *social.SocialAccount) error {
	userID, err := uuid.Parse(account.UserID)
	if err != nil {
		return err
	}

	now := time.Now()
	model := &SocialAccountModel{
		ID:             uuid.New(),
		UserID:         userID,
		Provider:       account.Provider,
		ProviderUserID: account.ProviderUserID,
		Email:          account.Email,
		Name:           account.Name,
		AvatarURL:      account.AvatarURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, provider_user_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (m *SocialAccountModel) toSocialAccount() *social.SocialAccount {
	return &social.SocialAccount{
		ID:             m.ID.String(),
		UserID:         m.UserID.String(),
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		Email:          m.Email,
		Name:           m.Name,
		AvatarURL:      m.AvatarURL,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
