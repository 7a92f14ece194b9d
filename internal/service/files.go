package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/xiaot623/paygate/internal/domain"
)

const maxFilenameLength = 200

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)
	dotRuns             = regexp.MustCompile(`\.{2,}`)
)

// AllowedUploadExtensions lists the file types accepted by SaveUpload.
var AllowedUploadExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
	".docx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// SanitizeFilename makes a client-supplied file name safe to store and echo back.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = dotRuns.ReplaceAllString(name, ".")
	if strings.HasPrefix(name, ".") {
		name = "_" + name[1:]
	}
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}
	if name == "" {
		return "file"
	}
	return name
}

// SaveUpload stores an uploaded file and, when sessionID is set, attaches it to the
// session.
func (s *Service) SaveUpload(ctx context.Context, sessionID, filename string, r io.Reader) (*domain.FileUpload, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedUploadExtensions[ext] {
		return nil, domain.NewValidationError("file", fmt.Sprintf("file type %q is not allowed", ext))
	}
	if sessionID != "" {
		release := s.leases.acquire(sessionID)
		defer release()
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		if session == nil {
			return nil, domain.SessionNotFound(sessionID)
		}
	}

	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	fileID := uuid.NewString()
	path := filepath.Join(s.config.UploadDir, fileID+ext)

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("create pending upload: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending upload")
		}
	}()

	limit := s.config.MaxUploadBytes
	size, err := io.Copy(pendingFile, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if size > limit {
		return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", limit))
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("commit upload: %w", err)
	}

	if sessionID != "" {
		if err := s.store.AppendFileRef(ctx, sessionID, fileID); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("attach upload: %w", err)
		}
	}

	s.logger.Info().Str("file_id", fileID).Str("session_id", sessionID).Int64("size", size).Msg("upload stored")
	return &domain.FileUpload{
		FileID:    fileID,
		Filename:  SanitizeFilename(filename),
		Size:      size,
		SessionID: sessionID,
	}, nil
}

func (s *Service) reportPath(jobID string) string {
	return filepath.Join(s.config.ReportsDir, jobID+".md")
}

// ReportPath validates jobID and returns the path of its report.
func (s *Service) ReportPath(jobID string) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", domain.NewValidationError("jobId", "invalid job id format")
	}
	path := s.reportPath(jobID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &domain.NotFoundError{Kind: "report", ID: jobID}
		}
		return "", fmt.Errorf("stat report: %w", err)
	}
	return path, nil
}

// writeReport stores the reply as a markdown report for later download.
func (s *Service) writeReport(ctx context.Context, jobID string, session *domain.Session, reply string) error {
	if err := os.MkdirAll(s.config.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	var request string
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Role == domain.RoleUser {
			request = session.Messages[i].Content
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s report\n\n", s.agent.Name)
	fmt.Fprintf(&b, "- Job: %s\n- Session: %s\n- Generated: %s\n\n", jobID, session.ID, s.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "## Request\n\n%s\n\n## Response\n\n%s\n", request, reply)

	if err := renameio.WriteFile(s.reportPath(jobID), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
