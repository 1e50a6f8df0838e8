package main

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"supportchat/internal/auth"
	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/httputil"
	"supportchat/internal/i18n"
	"supportchat/internal/models"
	"supportchat/internal/privacy"
	"supportchat/internal/service"
	"supportchat/internal/session"
	"supportchat/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

const maxBodyBytes = constants.DefaultMaxRequestBodyBytes

type startSessionRequest struct {
	VisitorRef string `json:"visitor_ref"`
	Locale     string `json:"locale"`
}

type startSessionResponse struct {
	Session *models.ChatSession  `json:"session"`
	Turn    *session.TurnResult `json:"turn"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type typingRequest struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

type reactionRequest struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type replyRequest struct {
	Sender   models.Sender `json:"sender"`
	SenderID string        `json:"sender_id"`
	Text     string        `json:"text"`
}

type presenceRequest struct {
	DisplayName string          `json:"display_name"`
	Presence    models.Presence `json:"presence"`
}

type presenceWebhookRequest struct {
	StaffID     string          `json:"staff_id"`
	DisplayName string          `json:"display_name"`
	Presence    models.Presence `json:"presence"`
}

type staffMessageRequest struct {
	Text string `json:"text"`
}

type messagesResponse struct {
	Messages []*models.Message `json:"messages"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

type threadResponse struct {
	ParentID string            `json:"parent_id"`
	Replies  []*models.Message `json:"replies"`
}

type supportStatusResponse struct {
	models.SupportStatus
	Message string `json:"message"`
}

// writeError logs err and writes it with copy localized for the caller.
// Raw error text never reaches the visitor.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)

	fields := logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldEndpoint:   r.URL.Path,
		service.LogFieldStatusCode: status,
	}
	if status >= http.StatusInternalServerError {
		s.errLogger.LogError(err, "Request failed", fields)
	} else {
		s.errLogger.WithError(err).WithFields(fields).Debug("Request rejected")
	}

	_ = httputil.WriteError(w, err, requestID, publicMessage(i18n.ResolveTag(r), err))
}

// publicMessage picks localized copy for err. Validation, lookup and auth
// errors keep their own curated user message.
func publicMessage(tag language.Tag, err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeInvalidInput:
		if tag != language.English {
			return i18n.Text(tag, i18n.KeyInvalidInput)
		}
		return ""
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeAuthentication, apperrors.ErrCodeAuthorization:
		return ""
	case apperrors.ErrCodeSessionClosed:
		return i18n.Text(tag, i18n.KeySessionClosed)
	case apperrors.ErrCodePersistenceFailed, apperrors.ErrCodeDeliveryFailed, apperrors.ErrCodeTimeout:
		return i18n.Text(tag, i18n.KeySendFailed)
	default:
		return i18n.Text(tag, i18n.KeyGeneric)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := httputil.DecodeJSON(r, maxBodyBytes, dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return s.decode(w, r, dst)
}

func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startSessionRequest
		if !s.decodeOptional(w, r, &req) {
			return
		}
		locale := req.Locale
		if locale == "" {
			locale = i18n.ResolveTag(r).String()
		}

		sess, turn, err := s.chat.StartSession(r.Context(), req.VisitorRef, locale)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusCreated, startSessionResponse{Session: sess, Turn: turn})
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.chat.GetSession(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !s.decode(w, r, &req) {
			return
		}
		result, err := s.chat.SendMessage(r.Context(), mux.Vars(r)["id"], req.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := httputil.QueryInt(r, "limit", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		offset, err := httputil.QueryInt(r, "offset", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if limit == 0 {
			limit = constants.DefaultHistoryPageSize
		}

		msgs, err := s.chat.Messages(r.Context(), mux.Vars(r)["id"], limit, offset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, messagesResponse{Messages: msgs, Limit: limit, Offset: offset})
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := s.chat.History(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
	}
}

func (s *Server) handleCloseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.chat.CloseSession(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req typingRequest
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.chat.SetTyping(r.Context(), mux.Vars(r)["id"], req.UserID, req.IsTyping); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleUpload streams the multipart "file" part into the attachment store
func (s *Server) handleUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxSize := int64(s.cfg.Storage.MaxSizeMB) * 1024 * 1024
		if maxSize <= 0 {
			maxSize = int64(constants.DefaultMaxAttachmentSizeMB) * 1024 * 1024
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+maxBodyBytes)

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			s.writeError(w, r, apperrors.NewValidationError("body", "must be multipart/form-data"))
			return
		}
		reader, err := r.MultipartReader()
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid multipart body"))
			return
		}

		var senderID string
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("body", "invalid multipart body"))
				return
			}

			switch part.FormName() {
			case "sender_id":
				value, _ := io.ReadAll(io.LimitReader(part, constants.MaxUserIDLength+1))
				senderID = string(value)
			case "file":
				msg, err := s.chat.UploadAttachment(r.Context(), mux.Vars(r)["id"], senderID, part.FileName(), part)
				_ = part.Close()
				if err != nil {
					s.writeError(w, r, err)
					return
				}
				_ = httputil.WriteJSON(w, http.StatusCreated, msg)
				return
			}
			_ = part.Close()
		}

		s.writeError(w, r, apperrors.NewValidationError("file", "is required"))
	}
}

func (s *Server) handleEmergency() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emergencyRequest
		if !s.decodeOptional(w, r, &req) {
			return
		}
		esc, err := s.chat.RaiseEmergency(r.Context(), mux.Vars(r)["id"], req.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusAccepted, struct {
			Escalation *models.Escalation `json:"escalation"`
			Message    string             `json:"message"`
		}{esc, i18n.Text(i18n.ResolveTag(r), i18n.KeyEmergencyRaised)})
	}
}

func (s *Server) handleRetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.chat.RetryMessage(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleReaction(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reactionRequest
		if !s.decode(w, r, &req) {
			return
		}
		messageID := mux.Vars(r)["id"]

		var changed bool
		var err error
		if add {
			changed, err = s.chat.AddReaction(r.Context(), messageID, req.UserID, req.Emoji)
		} else {
			changed, err = s.chat.RemoveReaction(r.Context(), messageID, req.UserID, req.Emoji)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"changed": changed})
	}
}

func (s *Server) handleThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID := mux.Vars(r)["id"]
		replies, err := s.chat.Thread(r.Context(), parentID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, threadResponse{ParentID: parentID, Replies: replies})
	}
}

func (s *Server) handleReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req replyRequest
		if !s.decode(w, r, &req) {
			return
		}
		if req.Sender == "" {
			req.Sender = models.SenderVisitor
		}
		// Staff replies go through the authenticated staff routes
		if req.Sender != models.SenderVisitor {
			s.writeError(w, r, apperrors.NewValidationError("sender", "must be visitor"))
			return
		}
		msg, err := s.chat.Reply(r.Context(), mux.Vars(r)["id"], req.Sender, req.SenderID, req.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleSupportStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := s.chat.SupportStatus(r.Context())
		key := i18n.KeySupportOffline
		if status.Online {
			key = i18n.KeySupportOnline
		}
		_ = httputil.WriteJSON(w, http.StatusOK, supportStatusResponse{
			SupportStatus: status,
			Message:       i18n.Text(i18n.ResolveTag(r), key),
		})
	}
}

func (s *Server) handleSetPresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req presenceRequest
		if !s.decode(w, r, &req) {
			return
		}
		staff := auth.StaffFromContext(r.Context())
		name := req.DisplayName
		if name == "" {
			name = staff.Name
		}
		status, err := s.chat.SetPresence(r.Context(), models.StaffMember{
			ID:          staff.ID,
			DisplayName: name,
			Presence:    req.Presence,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, status)
	}
}

// handlePresenceWebhook accepts presence updates pushed by an external
// staff directory, signed with the shared presence secret
func (s *Server) handlePresenceWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := verifySignature(r, s.cfg.Server.PresenceWebhookSecret, presenceSignatureHeader); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRemoteIP: httputil.GetClientIP(r),
				service.LogFieldReason:   err.Error(),
			}).Warn("Presence webhook rejected")
			s.writeError(w, r, apperrors.NewAuthError("invalid signature"))
			return
		}

		var req presenceWebhookRequest
		if !s.decode(w, r, &req) {
			return
		}
		status, err := s.chat.SetPresence(r.Context(), models.StaffMember{
			ID:          req.StaffID,
			DisplayName: req.DisplayName,
			Presence:    req.Presence,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, status)
	}
}

func (s *Server) handleStaffMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req staffMessageRequest
		if !s.decode(w, r, &req) {
			return
		}
		staff := auth.StaffFromContext(r.Context())
		msg, err := s.chat.StaffMessage(r.Context(), mux.Vars(r)["id"], staff.ID, req.Text)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.WithFields(logrus.Fields{
			service.LogFieldSession: privacy.MaskSessionID(mux.Vars(r)["id"]),
			service.LogFieldStaffID: privacy.MaskUserID(staff.ID),
		}).Info("Staff message posted")
		_ = httputil.WriteJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleReloadRules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.chat.ReloadRules(r.Context()); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "rule reload failed").
				WithUserMessage("Rules could not be loaded"))
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}
}

func (s *Server) handleNotificationStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httputil.WriteJSON(w, http.StatusOK, s.chat.NotificationStats())
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health.Ping(r.Context()); err != nil {
				s.logger.WithError(err).Warn("Health check failed")
				_ = httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
