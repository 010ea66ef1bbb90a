package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/erpwa/outbound-worker/internal/model"
)

type PostgresStore struct {
	db *sql.DB

	// workerID is stamped onto every claim so stuck processing rows can
	// be traced back to the process that held them.
	workerID string
}

func NewPostgresStore(db *sql.DB, workerID string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if workerID == "" {
		return nil, errors.New("workerID must not be empty")
	}
	return &PostgresStore{db: db, workerID: workerID}, nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context, kind model.MessageType, maxRetries int) (*model.Message, error) {
	if maxRetries <= 0 {
		return nil, errors.New("maxRetries must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var m model.Message
	var status, msgType string
	var errorCode sql.NullString

	err = tx.QueryRowContext(ctx, `
		SELECT id, vendor_id, conversation_id, message_type, status,
		       retry_count, error_code, created_at, updated_at
		FROM messages
		WHERE status = 'queued'
		  AND message_type = $1
		  AND retry_count < $2
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(kind), maxRetries).Scan(
		&m.ID,
		&m.VendorID,
		&m.ConversationID,
		&msgType,
		&status,
		&m.RetryCount,
		&errorCode,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET status = 'processing', claimed_by = $2, updated_at = $3
		WHERE id = $1
	`, m.ID, s.workerID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.Type = model.MessageType(msgType)
	m.Status = model.Processing
	m.UpdatedAt = now
	if errorCode.Valid {
		v := errorCode.String
		m.ErrorCode = &v
	}
	return &m, nil
}

func (s *PostgresStore) Attachment(ctx context.Context, messageID string) (*model.MediaAttachment, error) {
	var a model.MediaAttachment
	var caption sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, media_type, mime_type, media_url, caption
		FROM message_media
		WHERE message_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, messageID).Scan(
		&a.ID,
		&a.MessageID,
		&a.MediaType,
		&a.MimeType,
		&a.MediaURL,
		&caption,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if caption.Valid {
		a.Caption = caption.String
	}
	return &a, nil
}

func (s *PostgresStore) DeliveryTarget(ctx context.Context, messageID string) (*model.DeliveryTarget, error) {
	var t model.DeliveryTarget
	var sessionExpiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT v.whatsapp_phone_number_id, v.whatsapp_access_token,
		       l.phone_number, c.session_expires_at
		FROM messages m
		JOIN vendors v ON v.id = m.vendor_id
		JOIN conversations c ON c.id = m.conversation_id
		JOIN leads l ON l.id = c.lead_id
		WHERE m.id = $1
	`, messageID).Scan(
		&t.PhoneNumberID,
		&t.AccessToken,
		&t.RecipientPhone,
		&sessionExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sessionExpiresAt.Valid {
		v := sessionExpiresAt.Time
		t.SessionExpiresAt = &v
	}
	return &t, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id string, remoteMessageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE messages
		SET status = 'sent',
		    sent_at = now(),
		    remote_message_id = $2,
		    error_code = NULL,
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, remoteMessageID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE message_deliveries
		SET status = 'sent', updated_at = now()
		WHERE message_id = $1
	`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) MarkRetryOrFailed(ctx context.Context, id string, newRetryCount, maxRetries int, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET retry_count = $2,
		    status = CASE WHEN $2 >= $3 THEN 'failed' ELSE 'queued' END,
		    error_code = $4,
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, newRetryCount, maxRetries, errText)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errText string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed',
		    error_code = $2,
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, errText)
	return err
}

func (s *PostgresStore) Requeue(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'queued',
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vendor_id, conversation_id, message_type, status,
		       retry_count, error_code, remote_message_id, sent_at,
		       created_at, updated_at
		FROM messages
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var msgStatus, msgType string
		var errorCode sql.NullString
		var remoteID sql.NullString
		var sentAt sql.NullTime

		if err := rows.Scan(
			&m.ID,
			&m.VendorID,
			&m.ConversationID,
			&msgType,
			&msgStatus,
			&m.RetryCount,
			&errorCode,
			&remoteID,
			&sentAt,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}

		m.Type = model.MessageType(msgType)
		m.Status = model.Status(msgStatus)

		if errorCode.Valid {
			v := errorCode.String
			m.ErrorCode = &v
		}
		if remoteID.Valid {
			v := remoteID.String
			m.RemoteMessageID = &v
		}
		if sentAt.Valid {
			v := sentAt.Time
			m.SentAt = &v
		}

		out = append(out, m)
	}
	return out, rows.Err()
}
