package store

import (
	"database/sql"
	"fmt"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

const requestColumns = `id, provider_id, series_identifier, series_title, unit_identifier, unit_title,
	unit_volume, unit_number, dir, status, progress, message, attempts, created_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.DownloadRequest, error) {
	var req models.DownloadRequest
	var msg sql.NullString
	err := row.Scan(&req.ID, &req.ProviderID, &req.SeriesID, &req.SeriesTitle, &req.Unit.Identifier,
		&req.Unit.Title, &req.Unit.Volume, &req.Unit.Number, &req.Dir, &req.Status,
		&req.Progress, &msg, &req.Attempts, &req.RequestedAt)
	if err != nil {
		return nil, err
	}
	req.Message = msg.String
	return &req, nil
}

// AddRequest inserts a download request. A row already active for the same
// provider/unit pair makes the insert a no-op; a terminal row is replaced so
// the unit can be downloaded again.
func (s *Store) AddRequest(req *models.DownloadRequest) error {
	return insertRequest(s.db, req)
}

// AddRequestTx is AddRequest inside an existing transaction. Used by the
// series monitor so queued requests and the watermark commit together.
func (s *Store) AddRequestTx(tx *sql.Tx, req *models.DownloadRequest) error {
	return insertRequest(tx, req)
}

func insertRequest(q querier, req *models.DownloadRequest) error {
	_, err := q.Exec(`
        INSERT INTO download_queue
        (id, provider_id, series_identifier, series_title, unit_identifier, unit_title, unit_volume, unit_number, dir, status, progress, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
        ON CONFLICT (provider_id, unit_identifier) DO UPDATE SET
            id = excluded.id, dir = excluded.dir, status = excluded.status,
            progress = 0, attempts = 0, message = NULL, created_at = excluded.created_at
        WHERE download_queue.status IN ('completed', 'failed', 'cancelled')`,
		req.ID, req.ProviderID, req.SeriesID, req.SeriesTitle, req.Unit.Identifier, req.Unit.Title,
		req.Unit.Volume, req.Unit.Number, req.Dir, req.Status, req.RequestedAt)
	return err
}

// GetQueue returns every request currently recorded, newest first.
func (s *Store) GetQueue() ([]*models.DownloadRequest, error) {
	rows, err := s.db.Query(`SELECT ` + requestColumns + ` FROM download_queue ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.DownloadRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

// GetPendingRequests returns pending requests in FIFO order of creation,
// ties broken by id for a deterministic schedule.
func (s *Store) GetPendingRequests() ([]*models.DownloadRequest, error) {
	rows, err := s.db.Query(`SELECT ` + requestColumns + `
        FROM download_queue WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.DownloadRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

// GetRequest retrieves a single request by its id.
func (s *Store) GetRequest(id string) (*models.DownloadRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM download_queue WHERE id = ?`, id)
	return scanRequest(row)
}

// GetRequestByRef retrieves the request for a given provider and content
// unit, if one exists.
func (s *Store) GetRequestByRef(providerID, unitID string) (*models.DownloadRequest, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+`
        FROM download_queue WHERE provider_id = ? AND unit_identifier = ?`, providerID, unitID)
	return scanRequest(row)
}

// UpdateRequestStatus changes a request's status and message.
func (s *Store) UpdateRequestStatus(id string, status models.DownloadStatus, message string) error {
	_, err := s.db.Exec("UPDATE download_queue SET status = ?, message = ? WHERE id = ?", status, message, id)
	return err
}

// UpdateRequestProgress changes a request's progress percentage.
func (s *Store) UpdateRequestProgress(id string, progress int) error {
	_, err := s.db.Exec("UPDATE download_queue SET progress = ? WHERE id = ?", progress, id)
	return err
}

// UpdateRequestAttempts records how many delivery attempts a request has used.
func (s *Store) UpdateRequestAttempts(id string, attempts int) error {
	_, err := s.db.Exec("UPDATE download_queue SET attempts = ? WHERE id = ?", attempts, id)
	return err
}

// ResetInFlightRequests sets requests that were mid-execution back to
// 'pending' on startup, so work interrupted by a crash is picked up again.
func (s *Store) ResetInFlightRequests() error {
	_, err := s.db.Exec(`UPDATE download_queue
        SET status = 'pending', progress = 0, message = 'Re-queued after restart'
        WHERE status IN ('resolving', 'transferring')`)
	return err
}

// RequeueRequest moves a paused, failed or cancelled request back into the
// scheduling set.
func (s *Store) RequeueRequest(id string) error {
	result, err := s.db.Exec(`UPDATE download_queue
        SET status = 'pending', progress = 0, attempts = 0, message = 'Moved back to download queue'
        WHERE id = ? AND status IN ('paused', 'failed', 'cancelled')`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("download request %s not found or not requeueable", id)
	}
	return nil
}

// DeleteRequest removes a request record.
func (s *Store) DeleteRequest(id string) error {
	_, err := s.db.Exec("DELETE FROM download_queue WHERE id = ?", id)
	return err
}

// DeleteCompletedRequests removes successfully completed records.
func (s *Store) DeleteCompletedRequests() error {
	_, err := s.db.Exec("DELETE FROM download_queue WHERE status = 'completed'")
	return err
}

// UnitIdentifiersInQueue returns the unit identifiers already recorded for a
// provider/series pair, to keep the monitor from re-queueing known units.
func (s *Store) UnitIdentifiersInQueue(seriesID, providerID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT unit_identifier FROM download_queue WHERE series_identifier = ? AND provider_id = ?",
		seriesID, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identifiers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		identifiers = append(identifiers, id)
	}
	return identifiers, rows.Err()
}
