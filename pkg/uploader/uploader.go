package uploader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/afero"

	"github.com/meshvault/meshvault/pkg/breaker"
	uperr "github.com/meshvault/meshvault/pkg/errors"
	"github.com/meshvault/meshvault/pkg/logging"
	"github.com/meshvault/meshvault/pkg/metrics"
	"github.com/meshvault/meshvault/pkg/validator"
)

// FileUpload mirrors a generic multipart-upload descriptor.
type FileUpload struct {
	Name         string
	DeclaredType string
	TempPath     string
	ErrorCode    int
	Size         int64
}

// FileMetadata is the sidecar record persisted next to every stored file.
type FileMetadata struct {
	FileHash     string `json:"file_hash"`
	OriginalName string `json:"original_name"`
	StoredPath   string `json:"stored_path"`
	UploadedAt   int64  `json:"uploaded_at"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	Extension    string `json:"extension"`
}

// UploadResult is the outcome of one upload: either a stored file with its
// metadata, or a short user-safe failure message. Never both.
type UploadResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Metadata *FileMetadata `json:"metadata,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

func failure(message string) *UploadResult {
	return &UploadResult{Success: false, Message: message}
}

// Config holds per-instance upload policy. Tier quotas and allow-lists are
// construction-time configuration, not package state.
type Config struct {
	BaseDir           string
	TempDir           string
	MaxFileSize       int64
	AllowedExtensions []string
	AllowedMimeTypes  []string
	QuotaTiers        map[string]int64
	UsageCacheTTL     time.Duration

	ScannerThreshold    int
	ScannerResetTimeout time.Duration
	StorageThreshold    int
	StorageResetTimeout time.Duration
}

// DefaultConfig returns the production upload policy rooted at baseDir.
func DefaultConfig(baseDir string) Config {
	return Config{
		BaseDir:           baseDir,
		TempDir:           filepath.Join(baseDir, "tmp"),
		MaxFileSize:       50 * 1024 * 1024,
		AllowedExtensions: []string{".stl", ".obj", ".3mf", ".amf"},
		AllowedMimeTypes: []string{
			"model/stl",
			"model/x.stl-ascii",
			"model/x.stl-binary",
			"application/sla",
			"application/vnd.ms-pki.stl",
			"model/obj",
			"application/object",
			"model/3mf",
			"application/vnd.ms-package.3dmanufacturing-3dmodel+xml",
			"application/x-amf",
			"application/xml",
			"text/xml",
		},
		QuotaTiers: map[string]int64{
			"regular":  100 * 1024 * 1024,
			"premium":  1024 * 1024 * 1024,
			"business": 5 * 1024 * 1024 * 1024,
		},
		UsageCacheTTL:       30 * time.Second,
		ScannerThreshold:    3,
		ScannerResetTimeout: 300 * time.Second,
		StorageThreshold:    5,
		StorageResetTimeout: 120 * time.Second,
	}
}

// SecureFileUploader orchestrates the upload lifecycle: envelope checks,
// quota, type checks, temp staging, structural validation, threat scan, and
// durable sharded storage. It owns its validator reference and the two
// circuit breakers it constructs.
type SecureFileUploader struct {
	fs        afero.Fs
	cfg       Config
	validator *validator.ModelValidator
	logger    *logging.Logger
	pipeline  *metrics.PipelineMetrics

	threatScanner *breaker.CircuitBreaker
	storage       *breaker.CircuitBreaker

	usageCache *expirable.LRU[int64, int64]
	now        func() time.Time
}

// New creates an uploader with its threat-scanner and storage-system
// breakers.
func New(fs afero.Fs, cfg Config, v *validator.ModelValidator, logger *logging.Logger) (*SecureFileUploader, error) {
	scanner, err := breaker.New("threat-scanner", cfg.ScannerThreshold, cfg.ScannerResetTimeout, logger)
	if err != nil {
		return nil, err
	}
	storage, err := breaker.New("storage-system", cfg.StorageThreshold, cfg.StorageResetTimeout, logger)
	if err != nil {
		return nil, err
	}

	return &SecureFileUploader{
		fs:            fs,
		cfg:           cfg,
		validator:     v,
		logger:        logger,
		pipeline:      metrics.NewPipelineMetrics(),
		threatScanner: scanner,
		storage:       storage,
		usageCache:    expirable.NewLRU[int64, int64](1024, nil, cfg.UsageCacheTTL),
		now:           time.Now,
	}, nil
}

// ThreatScannerBreaker exposes the threat-scanner breaker for metrics.
func (u *SecureFileUploader) ThreatScannerBreaker() *breaker.CircuitBreaker {
	return u.threatScanner
}

// StorageBreaker exposes the storage-system breaker for metrics.
func (u *SecureFileUploader) StorageBreaker() *breaker.CircuitBreaker {
	return u.storage
}

// PipelineMetrics exposes the per-stage metrics collector.
func (u *SecureFileUploader) PipelineMetrics() *metrics.PipelineMetrics {
	return u.pipeline
}

// ProcessUpload runs the strict linear pipeline, short-circuiting on the
// first failure. Any temp file created is removed before returning, and an
// unexpected fault is caught here, logged with full context, and surfaced
// only as a generic failure.
func (u *SecureFileUploader) ProcessUpload(ctx context.Context, file FileUpload, userID int64, userType string) (result *UploadResult) {
	var stagedPath string
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("unexpected fault in upload pipeline",
				"panic", r, "file", file.Name, "userID", userID, "userType", userType)
			result = failure("internal error processing upload")
		}
		u.cleanupTempFile(stagedPath)
		u.pipeline.RecordUpload(result != nil && result.Success)
	}()

	u.logger.Info("processing upload", "file", file.Name, "userID", userID, "userType", userType)

	if msg := u.validateEnvelope(file); msg != "" {
		return failure(msg)
	}
	if msg := u.validateSize(file, userID, userType); msg != "" {
		return failure(msg)
	}
	if msg := u.validateType(file); msg != "" {
		return failure(msg)
	}

	staged, err := u.stageTempFile(file)
	if err != nil {
		u.logger.Error("temp staging failed", "file", file.Name, "error", err)
		return failure("unable to stage upload for validation")
	}
	stagedPath = staged

	var warnings []string

	start := u.now()
	structure := u.validator.ValidateStructure(stagedPath)
	u.pipeline.RecordStage("validate", time.Since(start), structure.IsValid())
	warnings = append(warnings, structure.Warnings()...)
	if !structure.IsValid() {
		u.logger.Warn("structural validation rejected upload", "file", file.Name,
			"error", uperr.NewFormatViolation("validate", strings.Join(structure.Errors(), "; ")))
		return failure("file failed structural validation: " + strings.Join(structure.Errors(), "; "))
	}

	start = u.now()
	scan := u.runThreatScan(ctx, stagedPath)
	u.pipeline.RecordStage("scan", time.Since(start), scan.IsSecure)
	warnings = append(warnings, scan.Warnings...)
	if !scan.IsSecure {
		u.logger.Warn("threat scan rejected upload", "file", file.Name,
			"error", uperr.NewSecurityViolation("scan", scan.Message))
		return failure("security scan failed: " + scan.Message)
	}

	start = u.now()
	stored, err := u.storeFile(ctx, stagedPath, file, userID)
	u.pipeline.RecordStage("store", time.Since(start), err == nil)
	if err != nil {
		u.logger.Error("storage failed", "file", file.Name, "error", err)
		return failure("unable to store file")
	}
	warnings = append(warnings, stored.Warnings...)

	metadata := &FileMetadata{
		FileHash:     stored.Hash,
		OriginalName: file.Name,
		StoredPath:   stored.Path,
		UploadedAt:   u.now().Unix(),
		FileSize:     file.Size,
		MimeType:     file.DeclaredType,
		Extension:    strings.ToLower(filepath.Ext(file.Name)),
	}

	u.logger.Info("upload stored", "file", file.Name, "hash", stored.Hash, "path", stored.Path)
	return &UploadResult{Success: true, Metadata: metadata, Warnings: warnings}
}

// validateEnvelope checks the upload descriptor before touching any file
// contents. Failures are reported generically to avoid leaking internals.
func (u *SecureFileUploader) validateEnvelope(file FileUpload) string {
	if file.Name == "" || file.TempPath == "" {
		u.logger.Warn("upload envelope missing required fields", "file", file.Name)
		return "invalid upload data"
	}
	if file.ErrorCode != 0 {
		u.logger.Warn("upload arrived with platform error code", "file", file.Name, "code", file.ErrorCode)
		return "invalid upload data"
	}
	exists, err := afero.Exists(u.fs, file.TempPath)
	if err != nil || !exists {
		u.logger.Warn("upload temp file missing", "file", file.Name, "error", err)
		return "invalid upload data"
	}
	return ""
}

// validateSize enforces the global ceiling and the user's remaining quota.
func (u *SecureFileUploader) validateSize(file FileUpload, userID int64, userType string) string {
	if file.Size <= 0 {
		return "uploaded file is empty"
	}
	if file.Size > u.cfg.MaxFileSize {
		return fmt.Sprintf("file exceeds maximum size of %s", humanize.IBytes(uint64(u.cfg.MaxFileSize)))
	}

	quota, ok := u.cfg.QuotaTiers[userType]
	if !ok {
		u.logger.Warn("unknown user type", "userType", userType)
		return "unknown user type"
	}

	usage := u.currentUsage(userID)
	available := quota - usage
	if available < 0 {
		available = 0
	}
	if file.Size > available {
		u.logger.Warn("quota exceeded", "userID", userID, "userType", userType,
			"error", uperr.NewQuotaExceeded(uint64(file.Size), uint64(available)))
		return fmt.Sprintf("quota exceeded: needed %d bytes, available %d bytes (%s of %s used)",
			file.Size, available, humanize.IBytes(uint64(usage)), humanize.IBytes(uint64(quota)))
	}
	return ""
}

// validateType enforces the extension allow-list and content-sniffed MIME. An
// ambiguous sniff (generic binary or text) falls back to the format
// signature check instead of rejecting outright.
func (u *SecureFileUploader) validateType(file FileUpload) string {
	ext := strings.ToLower(filepath.Ext(file.Name))
	if !u.extensionAllowed(ext) {
		return fmt.Sprintf("extension not allowed: %s", ext)
	}

	head, err := u.readHead(file.TempPath, 3072)
	if err != nil {
		u.logger.Error("unable to read upload for type detection", "file", file.Name, "error", err)
		return "invalid upload data"
	}

	detected := mimetype.Detect(head).String()
	if semicolon := strings.IndexByte(detected, ';'); semicolon >= 0 {
		detected = detected[:semicolon]
	}

	if u.mimeAllowed(detected) {
		return ""
	}
	if detected == "application/octet-stream" || detected == "text/plain" {
		// Ambiguous sniff; trust the format signature instead.
		if u.signatureLooksValid(file.TempPath) {
			return ""
		}
		return fmt.Sprintf("file content does not match declared %s format", strings.TrimPrefix(ext, "."))
	}

	u.logger.Warn("disallowed MIME type", "file", file.Name, "detected", detected)
	return fmt.Sprintf("file type not allowed: %s", detected)
}

func (u *SecureFileUploader) extensionAllowed(ext string) bool {
	for _, allowed := range u.cfg.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (u *SecureFileUploader) mimeAllowed(mime string) bool {
	for _, allowed := range u.cfg.AllowedMimeTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// signatureLooksValid re-runs the lightweight signature probe used by the
// validator for ambiguous MIME sniffs.
func (u *SecureFileUploader) signatureLooksValid(path string) bool {
	return u.validator.PerformBasicStructureCheck(path).IsValid()
}

// stageTempFile moves the accepted upload into the process temp directory
// under a fresh unique name, keeping the original extension, and marks it
// read-only.
func (u *SecureFileUploader) stageTempFile(file FileUpload) (string, error) {
	if err := u.fs.MkdirAll(u.cfg.TempDir, 0o700); err != nil {
		return "", fmt.Errorf("creating temp directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(file.Name))
	staged := filepath.Join(u.cfg.TempDir, uuid.NewString()+ext)

	if err := u.fs.Rename(file.TempPath, staged); err != nil {
		// Rename can fail across filesystems; fall back to copy+remove.
		if copyErr := copyFile(u.fs, file.TempPath, staged); copyErr != nil {
			return "", fmt.Errorf("staging upload: %w", copyErr)
		}
		if removeErr := u.fs.Remove(file.TempPath); removeErr != nil {
			u.logger.Warn("could not remove original upload after copy", "path", file.TempPath, "error", removeErr)
		}
	}

	if err := u.fs.Chmod(staged, 0o400); err != nil {
		u.logger.Warn("could not mark staged file read-only", "path", staged, "error", err)
	}
	return staged, nil
}

func (u *SecureFileUploader) cleanupTempFile(path string) {
	if path == "" {
		return
	}
	exists, err := afero.Exists(u.fs, path)
	if err != nil || !exists {
		return
	}
	// Staged files are read-only; restore write permission before removal.
	_ = u.fs.Chmod(path, 0o600)
	if err := u.fs.Remove(path); err != nil {
		u.logger.Error("failed to remove temp file", "path", path, "error", err)
	}
}

func (u *SecureFileUploader) readHead(path string, n int) ([]byte, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, n)
	read, err := f.Read(head)
	if read == 0 && err != nil {
		return nil, err
	}
	return head[:read], nil
}
