package store

import (
	"context"
	"database/sql"
	"time"

	"punchcard-go/internal/models"

	"github.com/google/uuid"
)

// Apple Wallet pass records

// CreateWalletPass mints a serial number and authentication token for the
// card's Apple pass. The card_id UNIQUE constraint makes concurrent first
// generations converge: the loser of the insert race reads back the winner's
// row, so exactly one serial/token pair ever exists per card.
func (s *PostgresStore) CreateWalletPass(ctx context.Context, cardID string, userID int) (models.WalletPass, error) {
	token, err := models.GenerateToken()
	if err != nil {
		return models.WalletPass{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wallet_passes (serial_number, card_id, user_id, auth_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (card_id) DO NOTHING`,
		uuid.NewString(), cardID, userID, token,
	)
	if err != nil {
		return models.WalletPass{}, err
	}

	return s.GetWalletPassByCard(ctx, cardID)
}

func (s *PostgresStore) GetWalletPass(ctx context.Context, serialNumber string) (models.WalletPass, error) {
	var pass models.WalletPass
	err := s.db.QueryRowContext(ctx,
		`SELECT serial_number, card_id, user_id, auth_token, created_at, updated_at FROM wallet_passes WHERE serial_number = $1`,
		serialNumber,
	).Scan(&pass.SerialNumber, &pass.CardID, &pass.UserID, &pass.AuthToken, &pass.CreatedAt, &pass.UpdatedAt)

	if err == sql.ErrNoRows {
		return models.WalletPass{}, ErrNotFound
	}
	return pass, err
}

func (s *PostgresStore) GetWalletPassByCard(ctx context.Context, cardID string) (models.WalletPass, error) {
	var pass models.WalletPass
	err := s.db.QueryRowContext(ctx,
		`SELECT serial_number, card_id, user_id, auth_token, created_at, updated_at FROM wallet_passes WHERE card_id = $1`,
		cardID,
	).Scan(&pass.SerialNumber, &pass.CardID, &pass.UserID, &pass.AuthToken, &pass.CreatedAt, &pass.UpdatedAt)

	if err == sql.ErrNoRows {
		return models.WalletPass{}, ErrNotFound
	}
	return pass, err
}

func (s *PostgresStore) TouchWalletPass(ctx context.Context, serialNumber string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wallet_passes SET updated_at = NOW() WHERE serial_number = $1`,
		serialNumber,
	)
	return err
}

func (s *PostgresStore) TouchWalletPassByCard(ctx context.Context, cardID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE wallet_passes SET updated_at = NOW() WHERE card_id = $1`,
		cardID,
	)
	return err
}

// Device registrations

func (s *PostgresStore) UpsertRegistration(ctx context.Context, deviceLibraryID, passTypeID, serialNumber, pushToken string) (bool, error) {
	// xmax = 0 only for freshly inserted rows, which is how the protocol's
	// 201-vs-200 distinction is surfaced.
	var created bool
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO apple_registrations (device_library_id, pass_type_id, serial_number, push_token, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (device_library_id, pass_type_id, serial_number)
		 DO UPDATE SET push_token = EXCLUDED.push_token, last_seen_at = NOW()
		 RETURNING (xmax = 0)`,
		deviceLibraryID, passTypeID, serialNumber, pushToken,
	).Scan(&created)

	return created, err
}

func (s *PostgresStore) DeleteRegistration(ctx context.Context, deviceLibraryID, passTypeID, serialNumber string) error {
	// Idempotent: unregistering an absent registration is not an error.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM apple_registrations WHERE device_library_id = $1 AND pass_type_id = $2 AND serial_number = $3`,
		deviceLibraryID, passTypeID, serialNumber,
	)
	return err
}

func (s *PostgresStore) GetRegistrationsByCard(ctx context.Context, cardID string) ([]models.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.device_library_id, r.pass_type_id, r.serial_number, r.push_token, r.created_at, r.last_seen_at
		 FROM apple_registrations r
		 JOIN wallet_passes p ON p.serial_number = r.serial_number
		 WHERE p.card_id = $1`,
		cardID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []models.Registration
	for rows.Next() {
		var reg models.Registration
		if err := rows.Scan(&reg.ID, &reg.DeviceLibraryID, &reg.PassTypeID, &reg.SerialNumber, &reg.PushToken, &reg.CreatedAt, &reg.LastSeenAt); err != nil {
			continue
		}
		regs = append(regs, reg)
	}

	return regs, rows.Err()
}

func (s *PostgresStore) ChangedSerials(ctx context.Context, deviceLibraryID, passTypeID string, since *time.Time) ([]string, time.Time, error) {
	// The watermark handed to devices carries whole seconds, so the
	// comparison truncates too; otherwise sub-second residue re-lists a
	// serial the device already fetched.
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.serial_number, p.updated_at
		 FROM wallet_passes p
		 JOIN apple_registrations r ON r.serial_number = p.serial_number
		 WHERE r.device_library_id = $1 AND r.pass_type_id = $2
		   AND ($3::timestamptz IS NULL OR date_trunc('second', p.updated_at) > $3)`,
		deviceLibraryID, passTypeID, since,
	)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var serials []string
	var last time.Time
	for rows.Next() {
		var serial string
		var updated time.Time
		if err := rows.Scan(&serial, &updated); err != nil {
			continue
		}
		serials = append(serials, serial)
		if updated.After(last) {
			last = updated
		}
	}

	return serials, last, rows.Err()
}

// PurgeStaleRegistrations drops registrations for devices that have not
// checked in since cutoff. Used by the dashboard hygiene endpoint.
func (s *PostgresStore) PurgeStaleRegistrations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM apple_registrations WHERE last_seen_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
