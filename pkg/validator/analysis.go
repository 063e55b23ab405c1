package validator

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/meshvault/meshvault/pkg/breaker"
)

const (
	// Coordinates beyond this magnitude are treated as absurd.
	maxCoordinateMagnitude = 1e10
	// Two vertices within this per-axis tolerance coincide.
	degenerateTolerance = 1e-5
	// Entropy band for sampled triangle records on the primary path. The
	// basic-safety fallback uses a wider band.
	primaryEntropyLow  = 0.5
	primaryEntropyHigh = 7.5
	// Anomaly rates above hardFailRate fail outright; rates between
	// warnRate and hardFailRate produce warnings.
	hardFailRate = 0.05
	warnRate     = 0.01
)

// maliciousPatterns are byte sequences that have no business inside mesh
// data: NOP-sled repeats, common shellcode prefixes, and script fragments.
var maliciousPatterns = [][]byte{
	bytes.Repeat([]byte{0x90}, 8),
	{0x31, 0xc0, 0x50, 0x68},
	{0x48, 0x31, 0xc0, 0x48},
	{0xeb, 0xfe},
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("eval("),
	[]byte("<?php"),
}

// PerformDeepStructuralAnalysis runs statistical anomaly detection on a model
// file through the validator's own circuit breaker. When the primary path
// itself fails, the breaker degrades to a basic structure check and the
// result carries a warning disclosing the reduced rigor.
func (v *ModelValidator) PerformDeepStructuralAnalysis(ctx context.Context, path string) *ValidationResult {
	result, err := v.deepAnalysisThroughBreaker(ctx, path)
	if err != nil {
		// Both the primary path and the fallback failed.
		v.logger.Error("deep structural analysis unavailable", "path", path, "error", err)
		failed := NewValidationResult()
		failed.AddError("deep structural analysis unavailable")
		return failed
	}
	return result
}

// deepAnalysisThroughBreaker wires the primary analysis and the contingency
// fallback through the deep-analysis breaker.
func (v *ModelValidator) deepAnalysisThroughBreaker(ctx context.Context, path string) (*ValidationResult, error) {
	primary := func() (*ValidationResult, error) {
		return v.analyzeDeepStructure(path)
	}
	fallback := func(ctx context.Context, cause error) (*ValidationResult, error) {
		v.logger.Warn("deep analysis degraded to basic structure check", "path", path, "cause", cause)
		result := v.PerformBasicStructureCheck(path)
		result.AddWarning("contingency-mode validation applied: deep structural analysis unavailable")
		return result, nil
	}

	return breaker.Do(ctx, v.deepAnalysis, primary, fallback)
}

// analyzeDeepStructure is the primary path: stride-sample triangles across a
// binary STL and measure anomaly rates. Formats without a sampler pass
// through unchanged.
func (v *ModelValidator) analyzeDeepStructure(path string) (*ValidationResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".stl" {
		// OBJ/3MF/AMF have no statistical sampler; the threat scanner still
		// applies its format-specific content scans to them.
		v.logger.Debug("deep analysis pass-through", "path", path, "extension", ext)
		return NewValidationResult(), nil
	}

	header, err := v.readHeader(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(bytes.TrimLeft(header, " \t\r\n"), []byte("solid")) {
		v.logger.Debug("deep analysis pass-through for ASCII STL", "path", path)
		return NewValidationResult(), nil
	}

	return v.analyzeBinarySTLStructure(path)
}

// triangleStats accumulates anomaly counts over sampled triangle records.
type triangleStats struct {
	sampled         int
	zeroNormals     int
	degenerate      int
	invalidCoords   int
	entropyOutliers int
}

func (v *ModelValidator) analyzeBinarySTLStructure(path string) (*ValidationResult, error) {
	info, err := v.fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() < binarySTLHeaderSize+binarySTLRecordSize {
		return nil, fmt.Errorf("file too small for triangle sampling: %d bytes", info.Size())
	}

	f, err := v.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	countBytes := make([]byte, 4)
	if _, err := f.ReadAt(countBytes, 80); err != nil {
		return nil, fmt.Errorf("reading triangle count: %w", err)
	}
	triangles := binary.LittleEndian.Uint32(countBytes)
	if triangles == 0 {
		return nil, fmt.Errorf("binary STL declares zero triangles")
	}
	if triangles > v.cfg.MaxBinaryTriangles {
		return nil, fmt.Errorf("triangle count %d exceeds sampling ceiling", triangles)
	}

	// Stride-sample across the whole file rather than just the head.
	stride := uint32(1)
	if triangles > uint32(v.cfg.DeepAnalysisSamples) {
		stride = triangles / uint32(v.cfg.DeepAnalysisSamples)
	}

	result := NewValidationResult()
	var stats triangleStats
	record := make([]byte, binarySTLRecordSize)

	for i := uint32(0); i < triangles; i += stride {
		offset := int64(binarySTLHeaderSize) + int64(i)*binarySTLRecordSize
		if offset+binarySTLRecordSize > info.Size() {
			break
		}
		if _, err := f.ReadAt(record, offset); err != nil {
			return nil, fmt.Errorf("sampling triangle %d: %w", i, err)
		}
		stats.sampled++

		if pattern := matchMaliciousPattern(record); pattern != "" {
			v.logger.Warn("malicious byte pattern in triangle record", "path", path, "triangle", i, "pattern", pattern)
			result.AddError(fmt.Sprintf("malicious byte pattern detected in triangle data (%s)", pattern))
			return result, nil
		}

		v.accumulateTriangleStats(&stats, record)
	}

	if stats.sampled == 0 {
		return nil, fmt.Errorf("no triangles sampled")
	}

	applyAnomalyRate(result, "near-zero normal vectors", stats.zeroNormals, stats.sampled)
	applyAnomalyRate(result, "degenerate triangles", stats.degenerate, stats.sampled)
	applyAnomalyRate(result, "invalid vertex coordinates", stats.invalidCoords, stats.sampled)
	applyAnomalyRate(result, "entropy outliers", stats.entropyOutliers, stats.sampled)

	v.logger.Info("deep structural analysis finished", "path", path,
		"sampled", stats.sampled, "valid", result.IsValid(), "warnings", len(result.Warnings()))
	return result, nil
}

func (v *ModelValidator) accumulateTriangleStats(stats *triangleStats, record []byte) {
	normal := decodeVector(record, 0)
	if vectorMagnitude(normal) < 1e-7 {
		stats.zeroNormals++
	}

	vertices := [3][3]float64{
		decodeVector(record, 12),
		decodeVector(record, 24),
		decodeVector(record, 36),
	}

	if verticesCoincide(vertices[0], vertices[1]) ||
		verticesCoincide(vertices[1], vertices[2]) ||
		verticesCoincide(vertices[0], vertices[2]) {
		stats.degenerate++
	}

	invalid := false
	for _, vertex := range vertices {
		for _, coord := range vertex {
			if math.IsNaN(coord) || math.IsInf(coord, 0) || math.Abs(coord) > maxCoordinateMagnitude {
				invalid = true
			}
		}
	}
	if invalid {
		stats.invalidCoords++
	}

	entropy := CalculateEntropy(record)
	if entropy < primaryEntropyLow || entropy > primaryEntropyHigh {
		stats.entropyOutliers++
	}
}

// applyAnomalyRate converts a per-category anomaly count into a hard error
// (>5%) or a warning (1-5%).
func applyAnomalyRate(result *ValidationResult, category string, count, sampled int) {
	rate := float64(count) / float64(sampled)
	switch {
	case rate > hardFailRate:
		result.AddError(fmt.Sprintf("%s in %.1f%% of sampled triangles", category, rate*100))
	case rate >= warnRate:
		result.AddWarning(fmt.Sprintf("%s in %.1f%% of sampled triangles", category, rate*100))
	}
}

// PerformBasicStructureCheck is the cheap contingency path: minimum size and
// header plausibility only.
func (v *ModelValidator) PerformBasicStructureCheck(path string) *ValidationResult {
	result := NewValidationResult()

	exists, err := afero.Exists(v.fs, path)
	if err != nil || !exists {
		result.AddError("file not found")
		return result
	}
	info, err := v.fs.Stat(path)
	if err != nil {
		result.AddError("file not found")
		return result
	}
	if info.Size() == 0 {
		result.AddError("file is empty")
		return result
	}

	header, err := v.readHeader(path)
	if err != nil {
		result.AddError("unable to read file header")
		return result
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".stl":
		ascii := bytes.HasPrefix(bytes.TrimLeft(header, " \t\r\n"), []byte("solid"))
		if !ascii && info.Size() < binarySTLHeaderSize {
			result.AddError("STL header implausibly small")
		}
	case ".obj":
		if !v.signatureMatches(".obj", header, info.Size()) {
			result.AddError("OBJ header implausible")
		}
	case ".3mf", ".amf":
		if !bytes.Contains(header, []byte("<?xml")) {
			result.AddError("missing XML declaration")
		}
	default:
		result.AddError(fmt.Sprintf("unsupported format: %s", ext))
	}

	return result
}

func decodeVector(record []byte, offset int) [3]float64 {
	return [3]float64{
		float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset:]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+4:]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(record[offset+8:]))),
	}
}

func vectorMagnitude(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func verticesCoincide(a, b [3]float64) bool {
	return math.Abs(a[0]-b[0]) < degenerateTolerance &&
		math.Abs(a[1]-b[1]) < degenerateTolerance &&
		math.Abs(a[2]-b[2]) < degenerateTolerance
}

// matchMaliciousPattern returns a short label for the first known malicious
// byte sequence found in data, or "".
func matchMaliciousPattern(data []byte) string {
	for _, pattern := range maliciousPatterns {
		if bytes.Contains(data, pattern) {
			if isPrintable(pattern) {
				return string(pattern)
			}
			return fmt.Sprintf("%x", pattern[:min(len(pattern), 4)])
		}
	}
	return ""
}

// MatchMaliciousPattern scans arbitrary bytes for known malicious sequences.
// Exposed for the threat scanner.
func MatchMaliciousPattern(data []byte) string {
	return matchMaliciousPattern(data)
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}
