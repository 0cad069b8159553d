package store

import (
	"fmt"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/models"
)

// AddConnection registers an external integration endpoint.
func (s *Store) AddConnection(conn *models.Connection) (*models.Connection, error) {
	now := time.Now()
	res, err := s.db.Exec(`
        INSERT INTO connections (type, name, url, followed_events, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		conn.Type, conn.Name, conn.URL, models.JoinEvents(conn.FollowedEvents), now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := *conn
	created.ID = id
	created.CreatedAt = now
	return &created, nil
}

// GetConnections returns all configured external connections.
func (s *Store) GetConnections() ([]*models.Connection, error) {
	rows, err := s.db.Query(`SELECT id, type, name, url, followed_events, created_at
        FROM connections ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		var conn models.Connection
		var events string
		if err := rows.Scan(&conn.ID, &conn.Type, &conn.Name, &conn.URL, &events, &conn.CreatedAt); err != nil {
			return nil, err
		}
		conn.FollowedEvents = models.SplitEvents(events)
		conns = append(conns, &conn)
	}
	return conns, rows.Err()
}

// GetConnection retrieves a single connection by id.
func (s *Store) GetConnection(id int64) (*models.Connection, error) {
	var conn models.Connection
	var events string
	err := s.db.QueryRow(`SELECT id, type, name, url, followed_events, created_at
        FROM connections WHERE id = ?`, id).
		Scan(&conn.ID, &conn.Type, &conn.Name, &conn.URL, &events, &conn.CreatedAt)
	if err != nil {
		return nil, err
	}
	conn.FollowedEvents = models.SplitEvents(events)
	return &conn, nil
}

// UpdateConnection replaces a connection's settings and followed events.
func (s *Store) UpdateConnection(conn *models.Connection) error {
	result, err := s.db.Exec(`UPDATE connections SET type = ?, name = ?, url = ?, followed_events = ? WHERE id = ?`,
		conn.Type, conn.Name, conn.URL, models.JoinEvents(conn.FollowedEvents), conn.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("connection with id %d not found", conn.ID)
	}
	return nil
}

// DeleteConnection removes a connection.
func (s *Store) DeleteConnection(id int64) error {
	_, err := s.db.Exec("DELETE FROM connections WHERE id = ?", id)
	return err
}
