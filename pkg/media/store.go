package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"supportchat/internal/constants"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/security"
)

// Object describes a stored attachment
type Object struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store keeps chat attachments on local disk under {dir}/{sessionID}/ and
// hands out URLs below a public base path
type Store struct {
	dir          string
	baseURL      string
	maxSizeBytes int64
	now          func() time.Time
}

// NewStore creates the storage directory if needed
func NewStore(dir, publicBaseURL string, maxSizeMB int) (*Store, error) {
	if dir == "" {
		dir = constants.DefaultStorageDir
	}
	if publicBaseURL == "" {
		publicBaseURL = constants.DefaultStorageBaseURL
	}
	if maxSizeMB <= 0 {
		maxSizeMB = constants.DefaultMaxAttachmentSizeMB
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	return &Store{
		dir:          abs,
		baseURL:      strings.TrimRight(publicBaseURL, "/"),
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		now:          time.Now,
	}, nil
}

// BaseURL returns the public prefix attachments are served under
func (s *Store) BaseURL() string {
	return s.baseURL
}

// ContentType returns the MIME type for an allowed file name, or false
func ContentType(name string) (string, bool) {
	ct, ok := constants.AttachmentTypes[strings.ToLower(filepath.Ext(name))]
	return ct, ok
}

// Put stores one attachment for a session and returns its public URL
func (s *Store) Put(ctx context.Context, sessionID, name string, r io.Reader) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessionDir, err := security.SanitizeObjectName(sessionID)
	if err != nil {
		return nil, apperrors.NewValidationError("session_id", "invalid session ID")
	}
	clean, err := security.SanitizeObjectName(name)
	if err != nil {
		return nil, apperrors.NewValidationError("file", "invalid file name")
	}
	contentType, ok := ContentType(clean)
	if !ok {
		return nil, apperrors.NewValidationError("file", fmt.Sprintf("file type %s is not allowed", filepath.Ext(clean)))
	}

	objectName := fmt.Sprintf("%d-%s", s.now().UnixMilli(), clean)
	fullPath := filepath.Join(s.dir, sessionDir, objectName)
	if err := security.ValidateFilePathWithBase(fullPath, s.dir); err != nil {
		return nil, apperrors.NewValidationError("file", "invalid file name")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxSizeBytes+1))
	closeErr := f.Close()
	if copyErr == nil && n > s.maxSizeBytes {
		copyErr = apperrors.NewValidationError("file", fmt.Sprintf("too large (max %d bytes)", s.maxSizeBytes))
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(fullPath)
		if _, ok := apperrors.As(copyErr); ok {
			return nil, copyErr
		}
		return nil, fmt.Errorf("failed to write attachment: %w", copyErr)
	}

	key := path.Join(sessionDir, objectName)
	return &Object{
		Key:         key,
		URL:         s.baseURL + "/" + url.PathEscape(sessionDir) + "/" + url.PathEscape(objectName),
		ContentType: contentType,
		Size:        n,
	}, nil
}

// Handler serves stored attachments. Mount it under BaseURL.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(s.baseURL, http.FileServer(noListing{http.Dir(s.dir)}))
}

// CleanupOldFiles removes attachments older than maxAge and any session
// directories left empty
func (s *Store) CleanupOldFiles(maxAge time.Duration) (int, error) {
	sessions, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, sd := range sessions {
		if !sd.IsDir() {
			continue
		}
		dir := filepath.Join(s.dir, sd.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("failed to read session directory: %w", err)
		}
		left := len(entries)
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				return removed, fmt.Errorf("failed to get file info: %w", err)
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
					return removed, fmt.Errorf("failed to remove old file: %w", err)
				}
				removed++
				left--
			}
		}
		if left == 0 {
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}

// noListing hides directory indexes
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
