package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "supportchat/internal/errors"
	"supportchat/internal/migrations"
	"supportchat/internal/models"
	"supportchat/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(cause error, msg string) error {
		if closeErr := db.Close(); closeErr != nil {
			return fmt.Errorf("%s: %w (close error: %v)", msg, cause, closeErr)
		}
		return fmt.Errorf("%s: %w", msg, cause)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(err, "failed to ping database")
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return nil, closeWith(err, "failed to read schema")
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, closeWith(err, "failed to initialize schema")
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(err, "failed to initialize encryptor")
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the store is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EncryptionEnabled reports whether sensitive columns are encrypted at rest
func (d *Database) EncryptionEnabled() bool {
	return d.encryptor.Enabled()
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// CreateSession inserts a new session row
func (d *Database) CreateSession(ctx context.Context, s *models.ChatSession) error {
	identifier, lookup, err := d.sealIdentifier(s.Identifier)
	if err != nil {
		return err
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertSessionQuery,
			s.ID, s.VisitorRef, string(s.State), identifier, lookup,
			s.KnownCustomer, s.Locale, utc(s.CreatedAt), utc(s.LastActivityAt),
		)
		return err
	}, "create session")
}

// UpdateSession persists the mutable fields of a session
func (d *Database) UpdateSession(ctx context.Context, s *models.ChatSession) error {
	identifier, lookup, err := d.sealIdentifier(s.Identifier)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, UpdateSessionQuery,
			string(s.State), identifier, lookup, s.KnownCustomer,
			s.Locale, utc(s.LastActivityAt),
			string(s.State), now,
			s.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NewNotFoundError("session", s.ID)
		}
		return nil
	}, "update session")
}

// GetSession returns a session with its escalations, or nil when absent
func (d *Database) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	s := &models.ChatSession{}
	var state, identifier string

	err := d.db.QueryRowContext(ctx, SelectSessionQuery, id).Scan(
		&s.ID, &s.VisitorRef, &state, &identifier, &s.KnownCustomer, &s.Locale,
		&s.CreatedAt, &s.LastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.State = models.SessionState(state)

	s.Identifier, err = d.encryptor.Decrypt(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt identifier: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, SelectEscalationsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Escalation
		var typ string
		if err := rows.Scan(&typ, &e.JobID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		e.Type = models.EscalationType(typ)
		s.Escalations = append(s.Escalations, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalations: %w", err)
	}

	return s, nil
}

// ListIdleSessions returns open sessions with no activity since before
func (d *Database) ListIdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, SelectIdleSessionsQuery, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOpenSessions returns the number of sessions not yet closed
func (d *Database) CountOpenSessions(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountOpenSessionsQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// AddEscalation appends an escalation record to a session
func (d *Database) AddEscalation(ctx context.Context, sessionID string, e models.Escalation) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertEscalationQuery,
			sessionID, string(e.Type), e.JobID, e.Reason, utc(e.CreatedAt))
		return err
	}, "add escalation")
}

func (d *Database) sealIdentifier(identifier string) (string, string, error) {
	if identifier == "" {
		return "", "", nil
	}
	sealed, err := d.encryptor.Encrypt(identifier)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt identifier: %w", err)
	}
	lookup, err := d.encryptor.LookupKey(identifier)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive identifier lookup key: %w", err)
	}
	return sealed, lookup, nil
}

// FindCustomer looks up a known customer by identifier. It returns nil, nil
// when the identifier is unknown.
func (d *Database) FindCustomer(ctx context.Context, identifier string) (*models.Customer, error) {
	lookup, err := d.encryptor.LookupKey(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identifier lookup key: %w", err)
	}

	c := &models.Customer{}
	var sealed string
	err = d.db.QueryRowContext(ctx, SelectCustomerQuery, lookup).Scan(&sealed, &c.DisplayName, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}

	c.Identifier, err = d.encryptor.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt identifier: %w", err)
	}
	return c, nil
}

// UpsertCustomer registers a known customer identity
func (d *Database) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	sealed, lookup, err := d.sealIdentifier(c.Identifier)
	if err != nil {
		return err
	}
	if lookup == "" {
		return apperrors.NewValidationError("identifier", "cannot be empty")
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertCustomerQuery, lookup, sealed, c.DisplayName, utc(c.CreatedAt))
		return err
	}, "upsert customer")
}

// SaveCredential stores the secret captured during identification. The
// secret is opaque: it is encrypted and kept for staff, never compared.
func (d *Database) SaveCredential(ctx context.Context, sessionID, identifier, secret string) error {
	lookup, err := d.encryptor.LookupKey(identifier)
	if err != nil {
		return fmt.Errorf("failed to derive identifier lookup key: %w", err)
	}
	sealed, err := d.encryptor.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertCredentialQuery, sessionID, lookup, sealed, time.Now().UTC())
		return err
	}, "save credential")
}

// SaveMessage inserts a message or updates its content and status
func (d *Database) SaveMessage(ctx context.Context, m *models.Message) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertMessageQuery,
			m.ID, m.SessionID, m.ParentID, string(m.Sender), m.SenderID, m.Content,
			m.AttachmentURL, string(m.DeliveryStatus), utc(m.CreatedAt),
		)
		return err
	}, "save message")
}

func scanMessage(scan func(dest ...interface{}) error) (*models.Message, error) {
	m := &models.Message{}
	var sender, status string
	if err := scan(&m.ID, &m.SessionID, &m.ParentID, &sender, &m.SenderID, &m.Content,
		&m.AttachmentURL, &status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Sender = models.Sender(sender)
	m.DeliveryStatus = models.DeliveryStatus(status)
	return m, nil
}

// GetMessage returns one message with its reactions, or nil when absent
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(d.db.QueryRowContext(ctx, SelectMessageQuery, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if m.Reactions, err = d.ListReactions(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Database) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	for _, m := range out {
		if m.Reactions, err = d.ListReactions(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListMessages returns a page of top-level messages in timeline order
func (d *Database) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, error) {
	return d.queryMessages(ctx, SelectSessionMessagesQuery, sessionID, limit, offset)
}

// ListReplies returns the reply thread of a message in order
func (d *Database) ListReplies(ctx context.Context, parentID string) ([]*models.Message, error) {
	return d.queryMessages(ctx, SelectRepliesQuery, parentID)
}

// AddReaction records a reaction. It reports false when the triple already existed.
func (d *Database) AddReaction(ctx context.Context, r models.Reaction) (bool, error) {
	var added bool
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertReactionQuery, r.MessageID, r.UserID, r.Emoji, utc(r.CreatedAt))
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		added = n > 0
		return nil
	}, "add reaction")
	return added, err
}

// RemoveReaction deletes a reaction. It reports false when nothing was removed.
func (d *Database) RemoveReaction(ctx context.Context, r models.Reaction) (bool, error) {
	var removed bool
	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, DeleteReactionQuery, r.MessageID, r.UserID, r.Emoji)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	}, "remove reaction")
	return removed, err
}

// ListReactions returns the reactions on a message
func (d *Database) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	rows, err := d.db.QueryContext(ctx, SelectReactionsQuery, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}
	defer rows.Close()

	var out []models.Reaction
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetStaffPresence records a staff member's availability
func (d *Database) SetStaffPresence(ctx context.Context, staff *models.StaffMember) error {
	if !staff.Presence.Valid() {
		return apperrors.NewValidationError("presence", "must be online, away or offline")
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertStaffQuery, staff.ID, staff.DisplayName, string(staff.Presence), utc(staff.UpdatedAt))
		return err
	}, "set staff presence")
}

// CountOnlineStaff returns how many staff members are online
func (d *Database) CountOnlineStaff(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountOnlineStaffQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count online staff: %w", err)
	}
	return n, nil
}

// ListStaff returns every staff member
func (d *Database) ListStaff(ctx context.Context) ([]models.StaffMember, error) {
	rows, err := d.db.QueryContext(ctx, SelectStaffQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var out []models.StaffMember
	for rows.Next() {
		var s models.StaffMember
		var presence string
		if err := rows.Scan(&s.ID, &s.DisplayName, &presence, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		s.Presence = models.Presence(presence)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadResponseRules returns the active keyword rules
func (d *Database) LoadResponseRules(ctx context.Context) ([]models.ResponseRule, error) {
	rows, err := d.db.QueryContext(ctx, SelectActiveRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load response rules: %w", err)
	}
	defer rows.Close()

	var out []models.ResponseRule
	for rows.Next() {
		var r models.ResponseRule
		var keywords string
		if err := rows.Scan(&r.ID, &r.Key, &keywords, &r.Text, &r.Priority, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan response rule: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &r.Keywords); err != nil {
			return nil, fmt.Errorf("rule %d has malformed keywords: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rules: %w", err)
	}
	return out, nil
}

// InsertResponseRule adds a keyword rule and returns its ID
func (d *Database) InsertResponseRule(ctx context.Context, r models.ResponseRule) (int64, error) {
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return 0, fmt.Errorf("failed to encode keywords: %w", err)
	}
	if r.Keywords == nil {
		keywords = []byte("[]")
	}

	var id int64
	err = retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertRuleQuery, r.Key, string(keywords), r.Text, r.Priority, r.IsActive)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, "insert response rule")
	return id, err
}

// CountResponseRules returns the number of stored rules, active or not
func (d *Database) CountResponseRules(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountRulesQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count response rules: %w", err)
	}
	return n, nil
}

// SaveNotificationJob inserts or updates the audit row of a notification job.
// A write whose revision is not newer than the stored one is ignored.
func (d *Database) SaveNotificationJob(ctx context.Context, job *models.NotificationJob) error {
	payload := string(job.Payload)
	if payload == "" {
		payload = "{}"
	}
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertNotificationQuery,
			job.ID, string(job.Type), job.SessionID, payload, job.Priority, string(job.Status),
			job.AttemptCount, job.MaxAttempts, utc(job.NextAttemptAt), job.LastError,
			utc(job.CreatedAt), utc(job.UpdatedAt), job.Revision,
		)
		return err
	}, "save notification job")
}

// ListUnfinishedJobs returns jobs that have not reached SENT or FAILED
func (d *Database) ListUnfinishedJobs(ctx context.Context) ([]*models.NotificationJob, error) {
	rows, err := d.db.QueryContext(ctx, SelectUnfinishedNotificationsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.NotificationJob
	for rows.Next() {
		j := &models.NotificationJob{}
		var typ, status, payload string
		if err := rows.Scan(&j.ID, &typ, &j.SessionID, &payload, &j.Priority, &status, &j.AttemptCount,
			&j.MaxAttempts, &j.NextAttemptAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan notification job: %w", err)
		}
		j.Type = models.NotificationType(typ)
		j.Status = models.JobStatus(status)
		j.Payload = json.RawMessage(payload)
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountStaleJobs counts unfinished jobs not touched since before
func (d *Database) CountStaleJobs(ctx context.Context, before time.Time) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, CountStaleNotificationsQuery, before.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stale notification jobs: %w", err)
	}
	return n, nil
}

// CleanupOldRecords removes closed sessions, their messages and finished
// notification jobs older than the retention period
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return apperrors.NewValidationError("retention_days", "must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	return retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, q := range []string{
			DeleteOldReactionsQuery,
			DeleteOldMessagesQuery,
			DeleteOldEscalationsQuery,
			DeleteOldCredentialsQuery,
			DeleteOldSessionsQuery,
			DeleteOldNotificationsQuery,
		} {
			if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, "cleanup old records")
}
