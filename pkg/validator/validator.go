package validator

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/meshvault/meshvault/pkg/breaker"
	uperr "github.com/meshvault/meshvault/pkg/errors"
	"github.com/meshvault/meshvault/pkg/logging"
)

// headerWindow is how many leading bytes are inspected for format signatures.
const headerWindow = 512

// Config holds per-instance validation limits. Allow-lists and ceilings live
// here rather than in package-level state so concurrent pipelines cannot
// observe each other's configuration.
type Config struct {
	MaxFileSize         int64
	MaxBinaryTriangles  uint32
	MaxASCIILines       int
	MaxObjVertices      int
	MaxObjFaces         int
	DeepAnalysisSamples int
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	SupportedExtensions []string
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:         50 * 1024 * 1024,
		MaxBinaryTriangles:  5_000_000,
		MaxASCIILines:       1_000_000,
		MaxObjVertices:      10_000_000,
		MaxObjFaces:         5_000_000,
		DeepAnalysisSamples: 1000,
		BreakerThreshold:    5,
		BreakerResetTimeout: 300 * time.Second,
		SupportedExtensions: []string{".stl", ".obj", ".3mf", ".amf"},
	}
}

// ModelValidator determines whether a file is a structurally valid,
// non-malicious model in one of the supported formats.
type ModelValidator struct {
	fs           afero.Fs
	cfg          Config
	logger       *logging.Logger
	deepAnalysis *breaker.CircuitBreaker
}

// New creates a validator owning its deep-analysis circuit breaker.
func New(fs afero.Fs, cfg Config, logger *logging.Logger) (*ModelValidator, error) {
	cb, err := breaker.New("model-deep-analysis", cfg.BreakerThreshold, cfg.BreakerResetTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &ModelValidator{
		fs:           fs,
		cfg:          cfg,
		logger:       logger,
		deepAnalysis: cb,
	}, nil
}

// DeepAnalysisBreaker exposes the breaker for metrics reporting.
func (v *ModelValidator) DeepAnalysisBreaker() *breaker.CircuitBreaker {
	return v.deepAnalysis
}

// SupportedExtension reports whether ext (with leading dot, any case) is a
// supported model format.
func (v *ModelValidator) SupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supported := range v.cfg.SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// ValidateStructure runs the full structural validation chain on a file:
// existence, size, extension, signature, then the format-specific grammar.
// Violations accumulate; the first hard precondition failure short-circuits.
func (v *ModelValidator) ValidateStructure(path string) *ValidationResult {
	result := NewValidationResult()

	exists, err := afero.Exists(v.fs, path)
	if err != nil || !exists {
		v.logger.Warn("validation target missing", "path", path, "error", err)
		result.AddError("file not found")
		return result
	}

	info, err := v.fs.Stat(path)
	if err != nil {
		v.logger.Error("stat failed during validation", "path", path, "error", err)
		result.AddError("file not found")
		return result
	}
	if info.Size() > v.cfg.MaxFileSize {
		v.logger.Warn("file exceeds size ceiling", "path", path, "size", info.Size(), "max", v.cfg.MaxFileSize)
		result.AddError(fmt.Sprintf("file exceeds maximum size of %d bytes", v.cfg.MaxFileSize))
		return result
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !v.SupportedExtension(ext) {
		v.logger.Warn("unsupported format", "path", path, "extension", ext)
		result.AddError(fmt.Sprintf("unsupported format: %s", ext))
		return result
	}

	header, err := v.readHeader(path)
	if err != nil {
		v.logger.Error("failed to read header", "path", path, "error", err)
		result.AddError("unable to read file header")
		return result
	}
	if !v.signatureMatches(ext, header, info.Size()) {
		v.logger.Warn("signature mismatch", "path", path, "extension", ext)
		result.AddError(fmt.Sprintf("file signature does not match declared %s format", strings.TrimPrefix(ext, ".")))
		return result
	}

	grammar := v.validateGrammar(path, ext)
	result.Merge(grammar)

	v.logger.Info("structural validation finished", "path", path, "valid", result.IsValid(), "errors", len(result.Errors()))
	return result
}

// ValidateFileByType runs the format grammar with a bounded retry to absorb
// transient I/O errors: three attempts with backoff doubling from 500ms.
// Deterministic rejections (unsupported format, grammar violations) are never
// retried.
func (v *ModelValidator) ValidateFileByType(path string) *ValidationResult {
	ext := strings.ToLower(filepath.Ext(path))
	if !v.SupportedExtension(ext) {
		result := NewValidationResult()
		result.AddError(fmt.Sprintf("unsupported format: %s", ext))
		return result
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		result, err := v.tryValidateGrammar(path, ext)
		if err == nil {
			return result
		}
		if !uperr.Retryable(err) {
			failed := NewValidationResult()
			failed.AddError(err.Error())
			return failed
		}

		lastErr = err
		v.logger.Warn("transient validation failure, retrying", "path", path, "attempt", attempt, "error", err)
		if attempt < 3 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	v.logger.Error("validation failed after retries", "path", path, "error", lastErr)
	result := NewValidationResult()
	result.AddError("persistent validation failure")
	return result
}

// tryValidateGrammar is the retryable core of ValidateFileByType: I/O errors
// surface as errors, grammar violations surface inside the result.
func (v *ModelValidator) tryValidateGrammar(path, ext string) (*ValidationResult, error) {
	exists, err := afero.Exists(v.fs, path)
	if err != nil {
		return nil, uperr.NewTransientFailure("validate", err)
	}
	if !exists {
		return nil, uperr.NewTransientFailure("validate", fmt.Errorf("file %s disappeared", path))
	}
	return v.validateGrammar(path, ext), nil
}

func (v *ModelValidator) validateGrammar(path, ext string) *ValidationResult {
	switch ext {
	case ".stl":
		return v.validateSTL(path)
	case ".obj":
		return v.validateOBJ(path)
	case ".3mf", ".amf":
		return v.validateXMLModel(path, ext)
	default:
		result := NewValidationResult()
		result.AddError(fmt.Sprintf("unsupported format: %s", ext))
		return result
	}
}

func (v *ModelValidator) readHeader(path string) ([]byte, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, headerWindow)
	n, err := f.Read(header)
	if n == 0 && err != nil {
		return nil, err
	}
	return header[:n], nil
}

// signatureMatches checks the leading bytes against the expected magic for
// the declared extension.
func (v *ModelValidator) signatureMatches(ext string, header []byte, size int64) bool {
	switch ext {
	case ".stl":
		if bytes.HasPrefix(bytes.TrimLeft(header, " \t\r\n"), []byte("solid")) {
			return true
		}
		// Binary STL: 80-byte header plus 4-byte little-endian triangle count.
		return size >= 84
	case ".obj":
		scanner := bufio.NewScanner(bytes.NewReader(header))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "v ") || strings.HasPrefix(line, "v\t")
		}
		return false
	case ".3mf", ".amf":
		return bytes.Contains(header, []byte("<?xml"))
	default:
		return false
	}
}
