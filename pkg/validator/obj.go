package validator

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// validateOBJ counts vertex and face directives and resolves every face's
// vertex references against the vertices declared so far. OBJ indices are
// 1-based.
func (v *ModelValidator) validateOBJ(path string) *ValidationResult {
	result := NewValidationResult()

	f, err := v.fs.Open(path)
	if err != nil {
		result.AddError("unable to read file")
		return result
	}
	defer f.Close()

	vertices := 0
	faces := 0
	lineNo := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "v":
			vertices++
			if vertices > v.cfg.MaxObjVertices {
				result.AddError(fmt.Sprintf("vertex count exceeds ceiling of %d", v.cfg.MaxObjVertices))
				return result
			}

		case "f":
			faces++
			if faces > v.cfg.MaxObjFaces {
				result.AddError(fmt.Sprintf("face count exceeds ceiling of %d", v.cfg.MaxObjFaces))
				return result
			}
			for _, ref := range fields[1:] {
				index, ok := parseFaceVertexIndex(ref)
				if !ok {
					result.AddError(fmt.Sprintf("line %d: malformed face reference %q", lineNo, ref))
					continue
				}
				if index < 1 || index > vertices {
					result.AddError(fmt.Sprintf("line %d: face references vertex %d but only %d declared", lineNo, index, vertices))
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		result.AddError("error while reading OBJ file")
		return result
	}

	if vertices == 0 {
		result.AddError("OBJ contains no vertices")
	}
	if faces == 0 {
		result.AddError("OBJ contains no faces")
	}

	return result
}

// parseFaceVertexIndex extracts the vertex index from a face reference token
// of the form "i", "i/j", "i//k", or "i/j/k".
func parseFaceVertexIndex(ref string) (int, bool) {
	vertexPart := ref
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		vertexPart = ref[:slash]
	}
	index, err := strconv.Atoi(vertexPart)
	if err != nil {
		return 0, false
	}
	return index, true
}
