package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

const subscriptionColumns = `id, series_title, series_identifier, provider_id, folder_path,
	watermark_volume, watermark_number, watermark_id, created_at, last_checked_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var folderPath, watermarkID sql.NullString
	var watermarkVolume, watermarkNumber sql.NullFloat64
	var lastCheckedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.SeriesTitle, &sub.SeriesIdentifier, &sub.ProviderID,
		&folderPath, &watermarkVolume, &watermarkNumber, &watermarkID,
		&sub.CreatedAt, &lastCheckedAt)
	if err != nil {
		return nil, err
	}
	if folderPath.Valid {
		sub.FolderPath = &folderPath.String
	}
	sub.Watermark = models.UnitKey{
		Volume: watermarkVolume.Float64,
		Number: watermarkNumber.Float64,
		ID:     watermarkID.String,
	}
	if lastCheckedAt.Valid {
		sub.LastCheckedAt = &lastCheckedAt.Time
	}
	return &sub, nil
}

// Subscribe adds a series to the subscriptions table. Subscribing twice to
// the same series on the same provider returns the existing subscription.
func (s *Store) Subscribe(seriesTitle, seriesIdentifier, providerID string, folderPath *string) (*models.Subscription, error) {
	query := `
        INSERT INTO subscriptions (series_title, series_identifier, provider_id, folder_path, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(series_identifier, provider_id) DO NOTHING
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(s.db.QueryRow(query, seriesTitle, seriesIdentifier, providerID, folderPath, time.Now()))
	if err == sql.ErrNoRows {
		// The subscription already existed; fetch and return it.
		return scanSubscription(s.db.QueryRow(`SELECT `+subscriptionColumns+`
            FROM subscriptions WHERE series_identifier = ? AND provider_id = ?`,
			seriesIdentifier, providerID))
	}
	return sub, err
}

// GetAllSubscriptions retrieves all subscriptions, optionally filtered by provider ID.
func (s *Store) GetAllSubscriptions(providerIDFilter string) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	args := []interface{}{}
	if providerIDFilter != "" {
		query += " WHERE provider_id = ?"
		args = append(args, providerIDFilter)
	}
	query += " ORDER BY series_title ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetSubscriptionByID retrieves a single subscription by its primary key.
func (s *Store) GetSubscriptionByID(id int64) (*models.Subscription, error) {
	return scanSubscription(s.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
}

// UpdateSubscriptionFolderPath updates the folder path for a subscription.
func (s *Store) UpdateSubscriptionFolderPath(id int64, folderPath *string) error {
	result, err := s.db.Exec("UPDATE subscriptions SET folder_path = ? WHERE id = ?", folderPath, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("subscription with id %d not found", id)
	}
	return nil
}

// DeleteSubscription removes a subscription from the database.
func (s *Store) DeleteSubscription(id int64) error {
	_, err := s.db.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	return err
}

// UpdateSubscriptionLastChecked sets the last_checked_at timestamp to the current time.
func (s *Store) UpdateSubscriptionLastChecked(id int64) error {
	_, err := s.db.Exec("UPDATE subscriptions SET last_checked_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// AdvanceWatermarkTx moves the subscription watermark forward inside an
// existing transaction. The watermark must only advance after the requests
// covered by it are durably enqueued, so callers pair this with AddRequestTx
// under one WithTx.
func (s *Store) AdvanceWatermarkTx(tx *sql.Tx, id int64, key models.UnitKey) error {
	_, err := tx.Exec(`UPDATE subscriptions
        SET watermark_volume = ?, watermark_number = ?, watermark_id = ?, last_checked_at = ?
        WHERE id = ?`,
		key.Volume, key.Number, key.ID, time.Now(), id)
	return err
}
