package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the document encoding for import and export.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml, case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("rules: unknown format %q: want json|yaml", s)
}

// FormatForPath picks the format from a file extension, defaulting to YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Record is the serialized form of a Rule.
type Record struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name,omitempty" yaml:"name,omitempty"`
	Symbol          string         `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Severity        string         `json:"severity,omitempty" yaml:"severity,omitempty"`
	Kind            Kind           `json:"kind" yaml:"kind"`
	Parameters      map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	CooldownSeconds float64        `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	// Enabled defaults to true when absent.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Document is the top-level shape of a rules file or export.
type Document struct {
	Rules []Record `json:"rules" yaml:"rules"`
}

// ToRecord serializes r. Runtime state is not part of the record.
func ToRecord(r Rule) Record {
	r = r.Normalize()
	enabled := r.Enabled
	rec := Record{
		ID:              r.ID,
		Name:            r.Name,
		Symbol:          r.Symbol,
		Severity:        string(r.Severity),
		Kind:            r.Kind(),
		CooldownSeconds: r.Cooldown.Seconds(),
		Enabled:         &enabled,
	}
	if r.Condition != nil {
		rec.Parameters = EncodeCondition(r.Condition)
	}
	return rec
}

// Rule decodes and validates the record.
func (rec Record) Rule() (Rule, error) {
	if rec.Kind == "" {
		return Rule{}, &ValidationError{RuleID: rec.ID, Field: "kind", Reason: "is required"}
	}
	cond, err := DecodeCondition(rec.Kind, rec.Parameters)
	if err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.RuleID = rec.ID
		}
		return Rule{}, err
	}
	sev, err := ParseSeverity(rec.Severity)
	if err != nil {
		return Rule{}, &ValidationError{RuleID: rec.ID, Field: "severity", Reason: err.Error()}
	}
	if rec.CooldownSeconds < 0 {
		return Rule{}, &ValidationError{RuleID: rec.ID, Field: "cooldown_seconds", Reason: "must not be negative"}
	}
	r := Rule{
		ID:        rec.ID,
		Name:      rec.Name,
		Symbol:    rec.Symbol,
		Severity:  sev,
		Cooldown:  time.Duration(rec.CooldownSeconds * float64(time.Second)),
		Enabled:   rec.Enabled == nil || *rec.Enabled,
		Condition: cond,
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r.Normalize(), nil
}

// Export writes rs as a single document.
func Export(w io.Writer, f Format, rs []Rule) error {
	doc := Document{Rules: make([]Record, 0, len(rs))}
	for _, r := range rs {
		doc.Rules = append(doc.Rules, ToRecord(r))
	}
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("rules: encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("rules: encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("rules: unknown format %q", f)
	}
}

// ImportResult holds the rules that decoded cleanly and one RecordError per
// record that did not.
type ImportResult struct {
	Rules  []Rule
	Errors []error
}

// Import reads a document. A malformed document is returned as err; a
// malformed record only adds to ImportResult.Errors.
//
// A bare list of records is accepted as well as {rules: [...]}. Input with
// neither fails with ErrEmptyDocument, so a file caught mid-write is never
// mistaken for an empty rule set.
func Import(r io.Reader, f Format) (ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("rules: read: %w", err)
	}
	var decoders []func(any) error
	switch f {
	case FormatJSON, "":
		decoders, err = jsonRecords(data)
	case FormatYAML:
		decoders, err = yamlRecords(data)
	default:
		return ImportResult{}, fmt.Errorf("rules: unknown format %q", f)
	}
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	seen := make(map[string]int)
	for i, decode := range decoders {
		var rec Record
		if err := decode(&rec); err != nil {
			res.Errors = append(res.Errors, &RecordError{Index: i, Err: err})
			continue
		}
		rule, err := rec.Rule()
		if err != nil {
			res.Errors = append(res.Errors, &RecordError{Index: i, ID: rec.ID, Err: err})
			continue
		}
		if rule.ID != "" {
			if first, ok := seen[rule.ID]; ok {
				res.Errors = append(res.Errors, &RecordError{
					Index: i,
					ID:    rule.ID,
					Err:   fmt.Errorf("%w (first seen at record %d)", &DuplicateRuleError{ID: rule.ID}, first),
				})
				continue
			}
			seen[rule.ID] = i
		}
		res.Rules = append(res.Rules, rule)
	}
	return res, nil
}

func jsonRecords(data []byte) ([]func(any) error, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}
	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("rules: parse json: %w", err)
		}
	} else {
		var doc struct {
			Rules *[]json.RawMessage `json:"rules"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("rules: parse json: %w", err)
		}
		if doc.Rules == nil {
			return nil, ErrEmptyDocument
		}
		raw = *doc.Rules
	}
	out := make([]func(any) error, len(raw))
	for i, msg := range raw {
		msg := msg
		out[i] = func(v any) error { return json.Unmarshal(msg, v) }
	}
	return out, nil
}

func yamlRecords(data []byte) ([]func(any) error, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("rules: parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, ErrEmptyDocument
	}
	var nodes []yaml.Node
	switch doc := root.Content[0]; doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&nodes); err != nil {
			return nil, fmt.Errorf("rules: parse yaml: %w", err)
		}
	case yaml.MappingNode:
		if !hasKey(doc, "rules") {
			return nil, ErrEmptyDocument
		}
		var wrapped struct {
			Rules []yaml.Node `yaml:"rules"`
		}
		if err := doc.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("rules: parse yaml: %w", err)
		}
		nodes = wrapped.Rules
	case yaml.ScalarNode:
		if doc.Tag == "!!null" {
			return nil, ErrEmptyDocument
		}
		return nil, fmt.Errorf("rules: parse yaml: want a list or a mapping with a rules key")
	default:
		return nil, fmt.Errorf("rules: parse yaml: want a list or a mapping with a rules key")
	}
	out := make([]func(any) error, len(nodes))
	for i := range nodes {
		n := nodes[i]
		out[i] = func(v any) error { return n.Decode(v) }
	}
	return out, nil
}

func hasKey(m *yaml.Node, key string) bool {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return true
		}
	}
	return false
}

// ImportFile reads the document at path, picking the format from its extension.
func ImportFile(path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("rules: open %q: %w", path, err)
	}
	defer f.Close()
	return Import(f, FormatForPath(path))
}

// ExportFile writes rs to path, picking the format from its extension.
func ExportFile(path string, rs []Rule) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rules: create %q: %w", path, err)
	}
	if err := Export(f, FormatForPath(path), rs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
