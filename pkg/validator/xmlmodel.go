package validator

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// validateXMLModel parses 3MF and AMF payloads with external entity
// resolution disabled. Rejecting any DOCTYPE outright is the XXE hardening:
// without a DTD there is nothing to define entities with, and encoding/xml
// never fetches external resources on its own.
func (v *ModelValidator) validateXMLModel(path, ext string) *ValidationResult {
	result := NewValidationResult()

	data, err := afero.ReadFile(v.fs, path)
	if err != nil {
		result.AddError("unable to read file")
		return result
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	// Leave Entity nil so only the predefined XML entities resolve.

	var (
		rootName string
		seen     = map[string]bool{}
	)
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.AddError(fmt.Sprintf("malformed XML: %v", err))
			return result
		}

		switch tok := token.(type) {
		case xml.Directive:
			if bytes.HasPrefix(bytes.TrimSpace(tok), []byte("DOCTYPE")) {
				v.logger.Warn("DOCTYPE rejected in model XML", "path", path)
				result.AddError("XML DOCTYPE declarations are not allowed")
				return result
			}
		case xml.StartElement:
			local := strings.ToLower(tok.Name.Local)
			if rootName == "" {
				rootName = local
			}
			seen[local] = true
		}
	}

	switch ext {
	case ".3mf":
		if rootName != "model" {
			result.AddError(fmt.Sprintf("3MF root element must be <model>, found <%s>", rootName))
			return result
		}
		if !seen["resources"] {
			result.AddError("3MF model is missing a <resources> section")
		}
		requireMeshStructure(result, seen, "triangles")
	case ".amf":
		if rootName != "amf" {
			result.AddError(fmt.Sprintf("AMF root element must be <amf>, found <%s>", rootName))
			return result
		}
		if !seen["object"] {
			result.AddError("AMF document is missing an <object> definition")
		}
		requireMeshStructure(result, seen, "volume", "volumes")
	}

	return result
}

// requireMeshStructure checks for at least one mesh carrying vertices and the
// format's facet container (triangles for 3MF, volume/volumes for AMF).
func requireMeshStructure(result *ValidationResult, seen map[string]bool, facetElements ...string) {
	if !seen["mesh"] {
		result.AddError("model contains no mesh")
		return
	}
	if !seen["vertices"] {
		result.AddError("mesh contains no vertices")
	}
	for _, element := range facetElements {
		if seen[element] {
			return
		}
	}
	result.AddError(fmt.Sprintf("mesh contains no %s", facetElements[0]))
}
