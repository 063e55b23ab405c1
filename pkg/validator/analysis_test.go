package validator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshvault/meshvault/pkg/breaker"
	"github.com/meshvault/meshvault/pkg/validator"
)

func TestDeepAnalysisCleanBinarySTL(t *testing.T) {
	v, fs := newTestValidator(t)
	writeBinarySTL(t, fs, "/clean.stl", 20)

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/clean.stl")
	assert.True(t, result.IsValid(), "errors: %v", result.Errors())
	assert.Empty(t, result.Warnings())
}

func TestDeepAnalysisDetectsDegenerateTriangles(t *testing.T) {
	v, fs := newTestValidator(t)

	// Every triangle has two coincident vertices.
	triangles := make([]triangle, 10)
	for i := range triangles {
		triangles[i] = triangle{
			0, 0, 1,
			5, 5, 5,
			5, 5, 5,
			1, 2, 3,
		}
	}
	require.NoError(t, afero.WriteFile(fs, "/degenerate.stl", encodeBinarySTL(triangles), 0o644))

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/degenerate.stl")
	require.False(t, result.IsValid())
	assert.Contains(t, strings.Join(result.Errors(), "; "), "degenerate")
}

func TestDeepAnalysisDetectsZeroNormals(t *testing.T) {
	v, fs := newTestValidator(t)

	triangles := make([]triangle, 10)
	for i := range triangles {
		tri := defaultTriangle(i)
		tri[0], tri[1], tri[2] = 0, 0, 0
		triangles[i] = tri
	}
	require.NoError(t, afero.WriteFile(fs, "/flat.stl", encodeBinarySTL(triangles), 0o644))

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/flat.stl")
	require.False(t, result.IsValid())
	assert.Contains(t, strings.Join(result.Errors(), "; "), "normal")
}

func TestDeepAnalysisDetectsAbsurdCoordinates(t *testing.T) {
	v, fs := newTestValidator(t)

	triangles := make([]triangle, 10)
	for i := range triangles {
		tri := defaultTriangle(i)
		tri[3] = 1e12
		triangles[i] = tri
	}
	require.NoError(t, afero.WriteFile(fs, "/absurd.stl", encodeBinarySTL(triangles), 0o644))

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/absurd.stl")
	require.False(t, result.IsValid())
	assert.Contains(t, strings.Join(result.Errors(), "; "), "invalid vertex coordinates")
}

func TestDeepAnalysisDetectsEmbeddedScript(t *testing.T) {
	v, fs := newTestValidator(t)

	data := encodeBinarySTL([]triangle{defaultTriangle(0), defaultTriangle(1)})
	copy(data[90:], []byte("<script>alert(1)</script>"))
	require.NoError(t, afero.WriteFile(fs, "/script.stl", data, 0o644))

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/script.stl")
	require.False(t, result.IsValid())
	assert.Contains(t, strings.Join(result.Errors(), "; "), "malicious byte pattern")
}

func TestDeepAnalysisPassThroughForOBJ(t *testing.T) {
	v, fs := newTestValidator(t)
	writeFile(t, fs, "/tetra.obj", validOBJ)

	result := v.PerformDeepStructuralAnalysis(context.Background(), "/tetra.obj")
	assert.True(t, result.IsValid())
}

func TestDeepAnalysisFallbackOnMissingFile(t *testing.T) {
	v, _ := newTestValidator(t)

	// The primary path cannot open the file, so the breaker degrades to the
	// basic structure check, which also fails but must disclose contingency
	// mode via a warning.
	result := v.PerformDeepStructuralAnalysis(context.Background(), "/gone.stl")
	require.False(t, result.IsValid())
	require.NotEmpty(t, result.Warnings())
	assert.Contains(t, result.Warnings()[0], "contingency-mode")
}

func TestDeepAnalysisBreakerOpensAfterRepeatedFailures(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v.PerformDeepStructuralAnalysis(ctx, "/gone.stl")
	}
	assert.Equal(t, breaker.StateOpen, v.DeepAnalysisBreaker().State())

	// Rejected calls still degrade gracefully.
	result := v.PerformDeepStructuralAnalysis(ctx, "/gone.stl")
	require.NotEmpty(t, result.Warnings())
	assert.Contains(t, result.Warnings()[0], "contingency-mode")
}

func TestBasicStructureCheck(t *testing.T) {
	v, fs := newTestValidator(t)

	writeBinarySTL(t, fs, "/model.stl", 1)
	writeFile(t, fs, "/tetra.obj", validOBJ)
	writeFile(t, fs, "/part.3mf", valid3MF)
	writeFile(t, fs, "/empty.stl", "")
	writeFile(t, fs, "/noxml.amf", "plain text")

	assert.True(t, v.PerformBasicStructureCheck("/model.stl").IsValid())
	assert.True(t, v.PerformBasicStructureCheck("/tetra.obj").IsValid())
	assert.True(t, v.PerformBasicStructureCheck("/part.3mf").IsValid())
	assert.False(t, v.PerformBasicStructureCheck("/empty.stl").IsValid())
	assert.False(t, v.PerformBasicStructureCheck("/noxml.amf").IsValid())
	assert.False(t, v.PerformBasicStructureCheck("/absent.stl").IsValid())
}

func TestMatchMaliciousPattern(t *testing.T) {
	assert.NotEmpty(t, validator.MatchMaliciousPattern([]byte("xx<script>alert(1)")))
	assert.NotEmpty(t, validator.MatchMaliciousPattern(append([]byte("data"), []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90}...)))
	assert.Empty(t, validator.MatchMaliciousPattern([]byte("plain mesh bytes")))
}
