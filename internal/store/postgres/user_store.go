package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userCols = `id, username, trades_completed, volume_traded, disputes, banned,
	admin, default_community_id, created_at`

func scanUser(row scanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.TradesCompleted, &u.VolumeTraded, &u.Disputes,
		&u.Banned, &u.Admin, &u.DefaultCommunityID, &u.CreatedAt)
	return u, err
}

// Create inserts a user.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Username, u.TradesCompleted, u.VolumeTraded, u.Disputes,
		u.Banned, u.Admin, u.DefaultCommunityID, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create user %s: %w", u.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID retrieves a user.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// AdjustReputation applies the deltas in a single statement, flooring both
// counters at zero.
func (s *UserStore) AdjustReputation(ctx context.Context, userID string, trades int, volume int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET
			trades_completed = GREATEST(trades_completed + $2, 0),
			volume_traded = GREATEST(volume_traded + $3, 0)
		 WHERE id = $1`, userID, trades, volume)
	if err != nil {
		return fmt.Errorf("postgres: adjust reputation %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: adjust reputation %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

// AddDispute increments the dispute counter and bans the user once it
// reaches maxDisputes. A non-positive maxDisputes never bans.
func (s *UserStore) AddDispute(ctx context.Context, userID string, maxDisputes int) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET
			disputes = disputes + 1,
			banned = banned OR ($2 > 0 AND disputes + 1 >= $2)
		 WHERE id = $1
		 RETURNING `+userCols, userID, maxDisputes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, fmt.Errorf("postgres: add dispute %s: %w", userID, domain.ErrNotFound)
		}
		return domain.User{}, fmt.Errorf("postgres: add dispute %s: %w", userID, err)
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
