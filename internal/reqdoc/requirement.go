// Package reqdoc defines the requirement value, the normalisation rules for
// payloads arriving from the UI, and the canonical on-disk document format.
package reqdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrEncode     = errors.New("encode failed")
	ErrDecode     = errors.New("decode failed")
)

// Closed enumerations. Unknown values are rejected during validation.
var (
	Types = []string{
		"Functional", "Non-Functional", "UI/UX", "CS", "FS", "PMP", "QNR",
		"SEC", "EPIC", "STORY", "CON", "BUS", "SYS", "BLK",
	}
	Priorities          = []string{"Critical", "High", "Medium", "Low", "Optional"}
	Statuses            = []string{"Draft", "Proposed", "Approved", "Implemented", "Verified", "Archived"}
	VerificationMethods = []string{"Test", "Inspection", "Analysis", "Demonstration", "N/A"}
)

// Link is a typed reference from one requirement to another entity.
type Link struct {
	Type   string `json:"type" yaml:"type"`
	Target string `json:"target" yaml:"target"`
}

// Requirement is the in-memory payload exchanged with the UI. Optional
// attributes stay zero-valued when absent and are omitted from the header.
type Requirement struct {
	ID                 string     `json:"id" yaml:"id"`
	Name               string     `json:"name" yaml:"name"`
	Type               string     `json:"type" yaml:"type"`
	Priority           string     `json:"priority" yaml:"priority"`
	Status             string     `json:"status" yaml:"status"`
	Tags               StringList `json:"tags,omitempty" yaml:"tags,omitempty"`
	Links              LinkList   `json:"links,omitempty" yaml:"links,omitempty"`
	Source             string     `json:"source,omitempty" yaml:"source,omitempty"`
	Stakeholder        string     `json:"stakeholder,omitempty" yaml:"stakeholder,omitempty"`
	VerificationMethod string     `json:"verification_method,omitempty" yaml:"verification_method,omitempty"`
	AllocatedTo        StringList `json:"allocated_to,omitempty" yaml:"allocated_to,omitempty"`
	Description        string     `json:"description_md" yaml:"-"`
}

// Validate checks required fields and the closed enumerations. The id is
// always required; updates copy the path id into the payload before calling.
func (r Requirement) Validate() error {
	var problems []string
	if strings.TrimSpace(r.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(r.Type) == "" {
		problems = append(problems, "type is required")
	} else if !contains(Types, r.Type) {
		problems = append(problems, fmt.Sprintf("unknown type %q", r.Type))
	}
	if strings.TrimSpace(r.Priority) == "" {
		problems = append(problems, "priority is required")
	} else if !contains(Priorities, r.Priority) {
		problems = append(problems, fmt.Sprintf("unknown priority %q", r.Priority))
	}
	if strings.TrimSpace(r.Status) == "" {
		problems = append(problems, "status is required")
	} else if !contains(Statuses, r.Status) {
		problems = append(problems, fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.VerificationMethod != "" && !contains(VerificationMethods, r.VerificationMethod) {
		problems = append(problems, fmt.Sprintf("unknown verification_method %q", r.VerificationMethod))
	}
	if strings.TrimSpace(r.Description) == "" {
		problems = append(problems, "description_md is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// StringList accepts either a JSON array of strings or a single comma-joined
// string from the UI and normalises both into trimmed non-empty entries.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		*l = splitCommaList(joined)
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make(StringList, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*l = out
	return nil
}

// LinkList accepts a JSON array of link objects, a single object, or a string
// holding either a JSON-encoded array/object or comma-joined targets.
// Links without a type default to "related"; links without a target are
// dropped.
type LinkList []Link

func (l *LinkList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*l = parseLinksString(raw)
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var single linkAlias
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = normaliseLinks([]linkAlias{single})
		return nil
	}
	var many []linkAlias
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = normaliseLinks(many)
	return nil
}

// linkAlias avoids recursing into Link's own (default) unmarshalling.
type linkAlias Link

func parseLinksString(raw string) LinkList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var many []linkAlias
		if err := json.Unmarshal([]byte(raw), &many); err == nil {
			return normaliseLinks(many)
		}
	}
	if strings.HasPrefix(raw, "{") {
		var single linkAlias
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			return normaliseLinks([]linkAlias{single})
		}
	}
	targets := splitCommaList(raw)
	links := make(LinkList, 0, len(targets))
	for _, target := range targets {
		links = append(links, Link{Type: "related", Target: target})
	}
	return links
}

func normaliseLinks(raw []linkAlias) LinkList {
	links := make(LinkList, 0, len(raw))
	for _, item := range raw {
		target := strings.TrimSpace(item.Target)
		if target == "" {
			continue
		}
		typ := strings.TrimSpace(item.Type)
		if typ == "" {
			typ = "related"
		}
		links = append(links, Link{Type: typ, Target: target})
	}
	return links
}

func splitCommaList(joined string) StringList {
	parts := strings.Split(joined, ",")
	out := make(StringList, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
