package uploader

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/meshvault/meshvault/pkg/breaker"
	"github.com/meshvault/meshvault/pkg/validator"
)

// ThreatScanResult reports the outcome of the content threat scan.
type ThreatScanResult struct {
	IsSecure bool     `json:"is_secure"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

const (
	// scanSampleSize bounds how much of a binary file the fragment scan reads.
	scanSampleSize = 50 * 1024
	// highEntropyThreshold marks packed or encrypted payloads. Low entropy is
	// normal for small meshes full of zero padding, so only the high side is
	// suspicious here.
	highEntropyThreshold = 7.5
	// minEntropySample is the smallest sample worth an entropy verdict.
	minEntropySample = 256

	maxScannedLines = 10000
	maxFlaggedLines = 5
)

// runThreatScan executes the threat scan through the threat-scanner breaker.
// When the scanner is unavailable the upload degrades to the basic structure
// check with an explicit warning, rather than being rejected outright.
func (u *SecureFileUploader) runThreatScan(ctx context.Context, path string) *ThreatScanResult {
	result, err := breaker.Do(ctx, u.threatScanner,
		func() (*ThreatScanResult, error) {
			return u.scanForThreats(ctx, path)
		},
		func(ctx context.Context, cause error) (*ThreatScanResult, error) {
			u.logger.Warn("threat scanner unavailable, using basic safety check", "path", path, "cause", cause)
			basic := u.validator.PerformBasicStructureCheck(path)
			fallback := &ThreatScanResult{
				IsSecure: basic.IsValid(),
				Warnings: []string{"full threat scan unavailable, basic safety check applied"},
			}
			if !basic.IsValid() {
				fallback.Message = "basic safety check failed: " + strings.Join(basic.Errors(), "; ")
			}
			return fallback, nil
		})
	if err != nil {
		return &ThreatScanResult{IsSecure: false, Message: "threat scan could not be completed"}
	}
	return result
}

// scanForThreats runs the deep structural analysis plus a format-specific
// content scan. It returns an error only for infrastructure faults (I/O);
// an insecure verdict is a successful scan.
func (u *SecureFileUploader) scanForThreats(ctx context.Context, path string) (*ThreatScanResult, error) {
	deep := u.validator.PerformDeepStructuralAnalysis(ctx, path)
	if !deep.IsValid() {
		return &ThreatScanResult{
			IsSecure: false,
			Message:  "structural anomaly detected: " + strings.Join(deep.Errors(), "; "),
			Warnings: deep.Warnings(),
		}, nil
	}

	var (
		verdict *ThreatScanResult
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		verdict, err = u.scanSTL(path)
	case ".obj":
		verdict, err = u.scanOBJ(path)
	case ".3mf", ".amf":
		verdict, err = u.scanModelXML(path)
	default:
		verdict = &ThreatScanResult{IsSecure: true}
	}
	if err != nil {
		return nil, err
	}

	verdict.Warnings = append(deep.Warnings(), verdict.Warnings...)
	return verdict, nil
}

func (u *SecureFileUploader) scanSTL(path string) (*ThreatScanResult, error) {
	sample, err := u.readHead(path, scanSampleSize)
	if err != nil {
		return nil, fmt.Errorf("reading scan sample: %w", err)
	}

	if pattern := validator.MatchMaliciousPattern(sample); pattern != "" {
		return &ThreatScanResult{
			IsSecure: false,
			Message:  fmt.Sprintf("malicious byte pattern detected: %s", pattern),
		}, nil
	}

	if isASCIISTL(sample) {
		return u.scanASCIITokens(path)
	}

	if len(sample) >= minEntropySample {
		if entropy := validator.CalculateEntropy(sample); entropy > highEntropyThreshold {
			return &ThreatScanResult{
				IsSecure: false,
				Message:  fmt.Sprintf("file entropy %.2f suggests packed or encrypted payload", entropy),
			}, nil
		}
	}
	return &ThreatScanResult{IsSecure: true}, nil
}

func isASCIISTL(sample []byte) bool {
	return len(sample) >= 5 && strings.HasPrefix(strings.TrimSpace(string(sample[:min(len(sample), 64)])), "solid")
}

var suspiciousTokens = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"eval(",
	"exec(",
	"system(",
	"<?php",
	"base64,",
}

// scanASCIITokens flags scripting fragments in line-oriented text formats.
func (u *SecureFileUploader) scanASCIITokens(path string) (*ThreatScanResult, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file for token scan: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() && lines < maxScannedLines {
		lines++
		line := strings.ToLower(scanner.Text())
		for _, token := range suspiciousTokens {
			if strings.Contains(line, token) {
				return &ThreatScanResult{
					IsSecure: false,
					Message:  fmt.Sprintf("suspicious content %q on line %d", token, lines),
				}, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning file: %w", err)
	}
	return &ThreatScanResult{IsSecure: true}, nil
}

// objDirectives are the statement keywords a well-formed OBJ file may open a
// line with.
var objDirectives = map[string]bool{
	"v": true, "vn": true, "vt": true, "vp": true,
	"f": true, "l": true, "p": true,
	"g": true, "s": true, "o": true,
	"mtllib": true, "usemtl": true,
}

// scanOBJ flags lines that are neither comments nor recognized directives,
// and scripting tokens anywhere. Scanning is capped so a pathological file
// cannot stall the pipeline.
func (u *SecureFileUploader) scanOBJ(path string) (*ThreatScanResult, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file for scan: %w", err)
	}
	defer f.Close()

	var flagged []string
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() && lines < maxScannedLines {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lower := strings.ToLower(line)
		for _, token := range suspiciousTokens {
			if strings.Contains(lower, token) {
				return &ThreatScanResult{
					IsSecure: false,
					Message:  fmt.Sprintf("suspicious content %q on line %d", token, lines),
				}, nil
			}
		}

		keyword, _, _ := strings.Cut(line, " ")
		if !objDirectives[keyword] {
			flagged = append(flagged, fmt.Sprintf("line %d: unrecognized statement %q", lines, keyword))
			if len(flagged) >= maxFlaggedLines {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning file: %w", err)
	}

	if len(flagged) > 0 {
		return &ThreatScanResult{
			IsSecure: false,
			Message:  "file contains unexpected content: " + strings.Join(flagged, "; "),
		}, nil
	}
	return &ThreatScanResult{IsSecure: true}, nil
}

// scanModelXML walks the XML token stream looking for script elements,
// executable URI schemes in attributes, and DOCTYPE declarations.
func (u *SecureFileUploader) scanModelXML(path string) (*ThreatScanResult, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file for scan: %w", err)
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	decoder.Strict = false
	decoder.Entity = map[string]string{}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Structural validation already vouched for well-formedness; a
			// token error here means the scan itself is compromised.
			return &ThreatScanResult{
				IsSecure: false,
				Message:  "unable to scan XML content: " + err.Error(),
			}, nil
		}

		switch tok := token.(type) {
		case xml.Directive:
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(tok))), "DOCTYPE") {
				return &ThreatScanResult{
					IsSecure: false,
					Message:  "document type declarations are not permitted",
				}, nil
			}
		case xml.StartElement:
			if strings.EqualFold(tok.Name.Local, "script") {
				return &ThreatScanResult{
					IsSecure: false,
					Message:  "script element found in model document",
				}, nil
			}
			for _, attr := range tok.Attr {
				value := strings.ToLower(strings.TrimSpace(attr.Value))
				for _, scheme := range []string{"javascript:", "vbscript:", "data:"} {
					if strings.HasPrefix(value, scheme) {
						return &ThreatScanResult{
							IsSecure: false,
							Message:  fmt.Sprintf("attribute %s carries executable URI scheme", attr.Name.Local),
						}, nil
					}
				}
			}
		}
	}
	return &ThreatScanResult{IsSecure: true}, nil
}
