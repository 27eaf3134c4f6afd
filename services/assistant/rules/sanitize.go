// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules holds the pure business-rule checks applied to inbound
// messages: input sanitation, operating hours, and the pricing
// post-condition. All checks are stateless given their configuration.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// injectionPatterns holds the raw bytes of injection_patterns.yaml, baked
// into the binary so the sanitation rules are immutable at runtime and
// travel with the executable.
//
//go:embed injection_patterns.yaml
var injectionPatterns []byte

// ConfidenceLevel grades how likely a pattern match is a real attack.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

type patternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification groups related injection patterns with a priority.
// Higher priority classifications are checked first.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single compiled detection rule.
type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`

	compiled *regexp.Regexp
}

// Finding describes one pattern match inside an inbound message. The
// matched content is retained for the audit log only; it must never be
// reflected into a user-facing reply.
type Finding struct {
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	Confidence         ConfidenceLevel `json:"confidence"`
}

// Sanitizer scans inbound message bodies against the embedded injection
// pattern set. Construct once at startup; Scan is safe for concurrent use.
type Sanitizer struct {
	classifiers []Classification
	maxBytes    int
}

// NewSanitizer compiles the embedded pattern file.
//
// It performs the following operations:
//  1. Unmarshals the embedded YAML data.
//  2. Compiles all regex patterns.
//  3. Sorts classifications by priority, highest first.
//
// Returns an error if the embedded YAML is malformed or contains an
// invalid regex.
func NewSanitizer(maxBytes int) (*Sanitizer, error) {
	var file patternFile
	if err := yaml.Unmarshal(injectionPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded pattern file: %w", err)
	}

	for i := range file.Classifications {
		for j := range file.Classifications[i].Patterns {
			p := &file.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile the regex %s: %w", p.Regex, err)
			}
			p.compiled = re
		}
	}

	sort.Slice(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})

	return &Sanitizer{classifiers: file.Classifications, maxBytes: maxBytes}, nil
}

// Scan audits a message body and returns every pattern match, highest
// priority classification first. An empty slice means the body is clean.
func (s *Sanitizer) Scan(content string) []Finding {
	var findings []Finding
	for _, classifier := range s.classifiers {
		for _, pattern := range classifier.Patterns {
			if pattern.compiled.MatchString(content) {
				findings = append(findings, Finding{
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}

// Check is the preprocessor entry point: it rejects oversized, invalid
// UTF-8, empty, or pattern-matching bodies. The returned reason is for the
// audit log; callers map any non-nil error to the generic invalid-input
// reply.
func (s *Sanitizer) Check(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("empty message body")
	}
	if s.maxBytes > 0 && len(content) > s.maxBytes {
		return fmt.Errorf("message body exceeds %d bytes", s.maxBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message body is not valid UTF-8")
	}
	if findings := s.Scan(content); len(findings) > 0 {
		return fmt.Errorf("message matched %s pattern %s",
			findings[0].ClassificationName, findings[0].PatternId)
	}
	return nil
}
