package validator

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	binarySTLHeaderSize = 84
	binarySTLRecordSize = 50
	// A size divergence of up to one triangle record is tolerated; some
	// exporters pad the tail.
	binarySTLSizeTolerance = 50
)

// validateSTL dispatches to the ASCII or binary grammar based on the leading
// bytes.
func (v *ModelValidator) validateSTL(path string) *ValidationResult {
	header, err := v.readHeader(path)
	if err != nil {
		result := NewValidationResult()
		result.AddError("unable to read file")
		return result
	}

	if bytes.HasPrefix(bytes.TrimLeft(header, " \t\r\n"), []byte("solid")) {
		return v.validateASCIISTL(path)
	}
	return v.validateBinarySTL(path)
}

// validateBinarySTL enforces the binary STL size law: with n triangles the
// file must be 84 + 50n bytes.
func (v *ModelValidator) validateBinarySTL(path string) *ValidationResult {
	result := NewValidationResult()

	info, err := v.fs.Stat(path)
	if err != nil {
		result.AddError("unable to read file")
		return result
	}
	if info.Size() < binarySTLHeaderSize {
		result.AddError("binary STL truncated: header requires 84 bytes")
		return result
	}

	f, err := v.fs.Open(path)
	if err != nil {
		result.AddError("unable to read file")
		return result
	}
	defer f.Close()

	countBytes := make([]byte, 4)
	if _, err := f.ReadAt(countBytes, 80); err != nil {
		result.AddError("binary STL truncated: missing triangle count")
		return result
	}

	triangles := binary.LittleEndian.Uint32(countBytes)
	if triangles == 0 {
		result.AddError("binary STL declares zero triangles")
		return result
	}
	if triangles > v.cfg.MaxBinaryTriangles {
		v.logger.Warn("triangle count exceeds ceiling", "path", path, "triangles", triangles)
		result.AddError(fmt.Sprintf("triangle count %d exceeds ceiling of %d", triangles, v.cfg.MaxBinaryTriangles))
		return result
	}

	expected := int64(binarySTLHeaderSize) + int64(triangles)*binarySTLRecordSize
	divergence := info.Size() - expected
	if divergence < -binarySTLSizeTolerance || divergence > binarySTLSizeTolerance {
		result.AddError(fmt.Sprintf(
			"binary STL size mismatch: %d triangles require %d bytes, file has %d", triangles, expected, info.Size()))
	}

	return result
}

// asciiSTLState tracks nesting while scanning ASCII STL tokens.
type asciiSTLState struct {
	inFacet      bool
	inLoop       bool
	loopVertices int
	facets       int
	sawEndSolid  bool
}

// validateASCIISTL runs a token state machine over the facet grammar. All
// detected violations accumulate rather than stopping at the first.
func (v *ModelValidator) validateASCIISTL(path string) *ValidationResult {
	result := NewValidationResult()

	f, err := v.fs.Open(path)
	if err != nil {
		result.AddError("unable to read file")
		return result
	}
	defer f.Close()

	var st asciiSTLState
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		if lineNo > v.cfg.MaxASCIILines {
			result.AddError(fmt.Sprintf("ASCII STL exceeds %d line processing cap", v.cfg.MaxASCIILines))
			return result
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case fields[0] == "solid":
			// Header; nothing to track.

		case fields[0] == "facet" && len(fields) >= 2 && fields[1] == "normal":
			if st.inFacet {
				result.AddError(fmt.Sprintf("line %d: nested facet", lineNo))
			}
			st.inFacet = true
			st.inLoop = false
			st.loopVertices = 0

		case fields[0] == "outer" && len(fields) >= 2 && fields[1] == "loop":
			if !st.inFacet {
				result.AddError(fmt.Sprintf("line %d: loop outside facet", lineNo))
			}
			if st.inLoop {
				result.AddError(fmt.Sprintf("line %d: nested loop", lineNo))
			}
			st.inLoop = true
			st.loopVertices = 0

		case fields[0] == "vertex":
			if !st.inLoop {
				result.AddError(fmt.Sprintf("line %d: vertex outside loop", lineNo))
			}
			if !validVertexCoordinates(fields[1:]) {
				result.AddError(fmt.Sprintf("line %d: vertex must have 3 numeric coordinates", lineNo))
			}
			st.loopVertices++

		case fields[0] == "endloop":
			if !st.inLoop {
				result.AddError(fmt.Sprintf("line %d: endloop without loop", lineNo))
			} else if st.loopVertices != 3 {
				result.AddError(fmt.Sprintf("line %d: loop has %d vertices, expected 3", lineNo, st.loopVertices))
			}
			st.inLoop = false

		case fields[0] == "endfacet":
			if !st.inFacet {
				result.AddError(fmt.Sprintf("line %d: endfacet without facet", lineNo))
			}
			if st.inLoop {
				result.AddError(fmt.Sprintf("line %d: facet closed with open loop", lineNo))
				st.inLoop = false
			}
			st.inFacet = false
			st.facets++

		case fields[0] == "endsolid":
			st.sawEndSolid = true
		}
	}
	if err := scanner.Err(); err != nil {
		result.AddError("error while reading ASCII STL")
		return result
	}

	if st.inFacet {
		result.AddError("unterminated facet at end of file")
	}
	if st.facets == 0 {
		result.AddError("ASCII STL contains no facets")
	}
	if !st.sawEndSolid {
		result.AddError("ASCII STL does not end with endsolid")
	}

	return result
}

// validVertexCoordinates requires exactly three parseable, finite numbers.
func validVertexCoordinates(fields []string) bool {
	if len(fields) != 3 {
		return false
	}
	for _, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return false
		}
		if value != value || value > 1e38 || value < -1e38 {
			return false
		}
	}
	return true
}
