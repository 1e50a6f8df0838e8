package database

// Session queries
const (
	InsertSessionQuery = `
		INSERT INTO chat_sessions (
			id, visitor_ref, state, identifier, identifier_hash,
			known_customer, locale, created_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	UpdateSessionQuery = `
		UPDATE chat_sessions
		SET state = ?, identifier = ?, identifier_hash = ?, known_customer = ?,
		    locale = ?, last_activity_at = ?,
		    closed_at = CASE WHEN ? = 'CLOSED' AND closed_at IS NULL THEN ? ELSE closed_at END
		WHERE id = ?
	`

	SelectSessionQuery = `
		SELECT id, visitor_ref, state, identifier, known_customer, locale,
		       created_at, last_activity_at
		FROM chat_sessions
		WHERE id = ?
	`

	SelectIdleSessionsQuery = `
		SELECT id FROM chat_sessions
		WHERE state != 'CLOSED' AND last_activity_at < ?
		ORDER BY last_activity_at ASC
	`

	CountOpenSessionsQuery = `SELECT COUNT(*) FROM chat_sessions WHERE state != 'CLOSED'`

	InsertEscalationQuery = `
		INSERT INTO session_escalations (session_id, type, job_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	SelectEscalationsQuery = `
		SELECT type, job_id, reason, created_at
		FROM session_escalations
		WHERE session_id = ?
		ORDER BY id ASC
	`
)

// Identity queries
const (
	SelectCustomerQuery = `
		SELECT identifier, display_name, created_at
		FROM customers
		WHERE identifier_hash = ?
	`

	UpsertCustomerQuery = `
		INSERT INTO customers (identifier_hash, identifier, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identifier_hash) DO UPDATE SET display_name = excluded.display_name
	`

	InsertCredentialQuery = `
		INSERT INTO visitor_credentials (session_id, identifier_hash, secret, created_at)
		VALUES (?, ?, ?, ?)
	`
)

// Message queries
const (
	UpsertMessageQuery = `
		INSERT INTO chat_messages (
			id, session_id, parent_id, sender, sender_id, content,
			attachment_url, delivery_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			attachment_url = excluded.attachment_url,
			delivery_status = excluded.delivery_status
	`

	selectMessageColumns = `
		SELECT id, session_id, parent_id, sender, sender_id, content,
		       attachment_url, delivery_status, created_at
		FROM chat_messages
	`

	SelectMessageQuery = selectMessageColumns + `WHERE id = ?`

	SelectSessionMessagesQuery = selectMessageColumns + `
		WHERE session_id = ? AND parent_id = ''
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?
	`

	SelectRepliesQuery = selectMessageColumns + `
		WHERE parent_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	InsertReactionQuery = `
		INSERT OR IGNORE INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)
	`

	DeleteReactionQuery = `
		DELETE FROM message_reactions
		WHERE message_id = ? AND user_id = ? AND emoji = ?
	`

	SelectReactionsQuery = `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
)

// Staff queries
const (
	UpsertStaffQuery = `
		INSERT INTO support_staff (id, display_name, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE support_staff.display_name END,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	CountOnlineStaffQuery = `SELECT COUNT(*) FROM support_staff WHERE status = 'online'`

	SelectStaffQuery = `
		SELECT id, display_name, status, updated_at
		FROM support_staff
		ORDER BY id ASC
	`
)

// Response rule queries
const (
	SelectActiveRulesQuery = `
		SELECT id, type, keywords, response, priority, active
		FROM chatbot_responses
		WHERE active = TRUE
		ORDER BY priority DESC, id ASC
	`

	InsertRuleQuery = `
		INSERT INTO chatbot_responses (type, keywords, response, priority, active)
		VALUES (?, ?, ?, ?, ?)
	`

	CountRulesQuery = `SELECT COUNT(*) FROM chatbot_responses`
)

// Notification job queries
const (
	UpsertNotificationQuery = `
		INSERT INTO admin_notifications (
			id, type, session_id, data, priority, status, attempt_count,
			max_attempts, next_attempt_at, last_error, created_at, updated_at, revision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempt_count = excluded.attempt_count,
			next_attempt_at = excluded.next_attempt_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			revision = excluded.revision
		WHERE excluded.revision > admin_notifications.revision
	`

	SelectUnfinishedNotificationsQuery = `
		SELECT id, type, session_id, data, priority, status, attempt_count,
		       max_attempts, next_attempt_at, last_error, created_at, updated_at, revision
		FROM admin_notifications
		WHERE status NOT IN ('SENT', 'FAILED')
		ORDER BY created_at ASC
	`

	CountStaleNotificationsQuery = `
		SELECT COUNT(*) FROM admin_notifications
		WHERE status NOT IN ('SENT', 'FAILED') AND updated_at < ?
	`
)

// Retention queries
const (
	DeleteOldReactionsQuery = `
		DELETE FROM message_reactions WHERE message_id IN (
			SELECT m.id FROM chat_messages m
			JOIN chat_sessions s ON s.id = m.session_id
			WHERE s.state = 'CLOSED' AND s.closed_at < ?
		)
	`

	DeleteOldMessagesQuery = `
		DELETE FROM chat_messages WHERE session_id IN (
			SELECT id FROM chat_sessions WHERE state = 'CLOSED' AND closed_at < ?
		)
	`

	DeleteOldEscalationsQuery = `
		DELETE FROM session_escalations WHERE session_id IN (
			SELECT id FROM chat_sessions WHERE state = 'CLOSED' AND closed_at < ?
		)
	`

	DeleteOldCredentialsQuery = `DELETE FROM visitor_credentials WHERE created_at < ?`

	DeleteOldSessionsQuery = `DELETE FROM chat_sessions WHERE state = 'CLOSED' AND closed_at < ?`

	DeleteOldNotificationsQuery = `
		DELETE FROM admin_notifications
		WHERE status IN ('SENT', 'FAILED') AND updated_at < ?
	`
)
