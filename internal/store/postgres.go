package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"punchcard-go/internal/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	// Create tables
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	// Apply migrations for existing tables
	migrations := []string{
		`ALTER TABLE apple_registrations ADD COLUMN IF NOT EXISTS last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW();`,
		`ALTER TABLE organizations ADD COLUMN IF NOT EXISTS foreground_color VARCHAR(32) NOT NULL DEFAULT 'rgb(255,255,255)';`,
		`ALTER TABLE organizations ADD COLUMN IF NOT EXISTS background_color VARCHAR(32) NOT NULL DEFAULT 'rgb(60,65,80)';`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Organization methods

func (s *PostgresStore) CreateOrganization(ctx context.Context, name string, maxPoints int, fg, bg string) (models.Organization, error) {
	if maxPoints <= 0 {
		maxPoints = 10
	}

	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO organizations (id, name, max_points, foreground_color, background_color, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, name, max_points, foreground_color, background_color, created_at`,
		uuid.NewString(), name, maxPoints, fg, bg,
	).Scan(&org.ID, &org.Name, &org.MaxPoints, &org.ForegroundColor, &org.BackgroundColor, &org.CreatedAt)

	return org, err
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, max_points, foreground_color, background_color, created_at FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name, &org.MaxPoints, &org.ForegroundColor, &org.BackgroundColor, &org.CreatedAt)

	if err == sql.ErrNoRows {
		return models.Organization{}, ErrNotFound
	}
	return org, err
}

// Card methods

const cardSelect = `
	SELECT c.id, c.organization_id, c.user_id,
	       (SELECT COUNT(*) FROM stamps s WHERE s.card_id = c.id AND s.stamped) AS points,
	       o.max_points, c.created_at, c.updated_at
	FROM cards c
	JOIN organizations o ON o.id = c.organization_id`

func (s *PostgresStore) CreateCard(ctx context.Context, orgID string, userID int) (models.Card, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cards (id, organization_id, user_id, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`,
		id, orgID, userID,
	)
	if err != nil {
		return models.Card{}, err
	}
	return s.GetCard(ctx, id)
}

func (s *PostgresStore) GetCard(ctx context.Context, id string) (models.Card, error) {
	var card models.Card
	err := s.db.QueryRowContext(ctx, cardSelect+` WHERE c.id = $1`, id).
		Scan(&card.ID, &card.OrgID, &card.UserID, &card.Points, &card.MaxPoints, &card.CreatedAt, &card.UpdatedAt)

	if err == sql.ErrNoRows {
		return models.Card{}, ErrNotFound
	}
	return card, err
}

func (s *PostgresStore) GetCards(ctx context.Context, orgID string) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, cardSelect+` WHERE c.organization_id = $1 ORDER BY c.created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		if err := rows.Scan(&card.ID, &card.OrgID, &card.UserID, &card.Points, &card.MaxPoints, &card.CreatedAt, &card.UpdatedAt); err != nil {
			continue
		}
		cards = append(cards, card)
	}

	return cards, rows.Err()
}

// ToggleStamp flips the stamp at index and recomputes the card's balance in
// the same transaction, so points can never drift from the stamped rows.
func (s *PostgresStore) ToggleStamp(ctx context.Context, cardID string, index, actorID int) (models.Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Card{}, err
	}
	defer tx.Rollback()

	var maxPoints int
	err = tx.QueryRowContext(ctx,
		`SELECT o.max_points FROM cards c JOIN organizations o ON o.id = c.organization_id WHERE c.id = $1`,
		cardID,
	).Scan(&maxPoints)
	if err == sql.ErrNoRows {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, err
	}

	if index < 0 || index >= maxPoints {
		return models.Card{}, fmt.Errorf("stamp index %d out of range 0..%d", index, maxPoints-1)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stamps (card_id, idx, stamped, stamped_by, updated_at)
		 VALUES ($1, $2, TRUE, $3, NOW())
		 ON CONFLICT (card_id, idx)
		 DO UPDATE SET stamped = NOT stamps.stamped, stamped_by = EXCLUDED.stamped_by, updated_at = NOW()`,
		cardID, index, actorID,
	)
	if err != nil {
		return models.Card{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE cards SET updated_at = NOW() WHERE id = $1`, cardID); err != nil {
		return models.Card{}, err
	}

	var card models.Card
	err = tx.QueryRowContext(ctx, cardSelect+` WHERE c.id = $1`, cardID).
		Scan(&card.ID, &card.OrgID, &card.UserID, &card.Points, &card.MaxPoints, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return models.Card{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Card{}, err
	}
	return card, nil
}

func (s *PostgresStore) RedeemCard(ctx context.Context, cardID string, actorID int) (models.Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Card{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE stamps SET stamped = FALSE, stamped_by = $2, updated_at = NOW() WHERE card_id = $1 AND stamped`,
		cardID, actorID,
	)
	if err != nil {
		return models.Card{}, err
	}
	if _, err := res.RowsAffected(); err != nil {
		return models.Card{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE cards SET updated_at = NOW() WHERE id = $1`, cardID); err != nil {
		return models.Card{}, err
	}

	var card models.Card
	err = tx.QueryRowContext(ctx, cardSelect+` WHERE c.id = $1`, cardID).
		Scan(&card.ID, &card.OrgID, &card.UserID, &card.Points, &card.MaxPoints, &card.CreatedAt, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Card{}, err
	}
	return card, nil
}

// User methods

func (s *PostgresStore) CreateUser(ctx context.Context, username, password string) (models.User, error) {
	passwordHash, err := models.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	var user models.User
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, created_at)
		 VALUES ($1, $2, NOW())
		 RETURNING id, username, password_hash, created_at`,
		username, passwordHash,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)

	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int) (models.User, error) {
	var user models.User
	var lastPasswordChange sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, last_password_change, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &lastPasswordChange, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}

	if lastPasswordChange.Valid {
		user.LastPasswordChange = lastPasswordChange.Time
	}

	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	var lastPasswordChange sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, last_password_change, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &lastPasswordChange, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}

	if lastPasswordChange.Valid {
		user.LastPasswordChange = lastPasswordChange.Time
	}

	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID int, newPasswordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, last_password_change = NOW() WHERE id = $2`,
		newPasswordHash, userID,
	)
	return err
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID int, username string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = $1 WHERE id = $2`,
		username, userID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Membership methods

func (s *PostgresStore) AddMembership(ctx context.Context, userID int, orgID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (user_id, organization_id, role, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, organization_id) DO UPDATE SET role = EXCLUDED.role`,
		userID, orgID, role,
	)
	return err
}

func (s *PostgresStore) GetMembershipRole(ctx context.Context, userID int, orgID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID,
	).Scan(&role)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}
