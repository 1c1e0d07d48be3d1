package reqdoc

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// Encode produces the canonical on-disk form: a fenced YAML header with a
// fixed key order and flow-style sequences, a blank line, the `# <id>: <name>`
// heading, a blank line, and the prose body verbatim. Optional attributes are
// omitted when absent.
func Encode(r Requirement) (string, error) {
	header := &yaml.Node{Kind: yaml.MappingNode}
	putScalar(header, "id", r.ID)
	putScalar(header, "name", r.Name)
	putScalar(header, "type", r.Type)
	putScalar(header, "priority", r.Priority)
	putScalar(header, "status", r.Status)
	if len(r.Tags) > 0 {
		putSequence(header, "tags", r.Tags)
	}
	if len(r.Links) > 0 {
		putLinks(header, r.Links)
	}
	if r.Source != "" {
		putScalar(header, "source", r.Source)
	}
	if r.Stakeholder != "" {
		putScalar(header, "stakeholder", r.Stakeholder)
	}
	if r.VerificationMethod != "" {
		putScalar(header, "verification_method", r.VerificationMethod)
	}
	if len(r.AllocatedTo) > 0 {
		putSequence(header, "allocated_to", r.AllocatedTo)
	}

	encoded, err := yaml.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("%w: marshal header for %s: %v", ErrEncode, r.ID, err)
	}

	var b strings.Builder
	b.WriteString(fence + "\n")
	b.Write(encoded)
	b.WriteString(fence + "\n\n")
	fmt.Fprintf(&b, "# %s: %s\n\n", r.ID, r.Name)
	b.WriteString(r.Description)
	if !strings.HasSuffix(r.Description, "\n") {
		b.WriteString("\n")
	}
	return b.String(), nil
}

// Decode splits a document on its first two fences and parses the header.
// Text without a leading fence is treated entirely as body with an empty
// header; a present but malformed header is the only decode failure. The
// generated `# <id>: <name>` heading is folded back into the value.
func Decode(text string) (Requirement, error) {
	var r Requirement
	header, body, err := splitFrontmatter(text)
	if err != nil {
		return Requirement{}, err
	}
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), &r); err != nil {
			return Requirement{}, fmt.Errorf("%w: parse header: %v", ErrDecode, err)
		}
	}
	r.Description = stripHeading(body, r.ID, r.Name)
	return r, nil
}

func splitFrontmatter(text string) (header, body string, err error) {
	if text != fence && !strings.HasPrefix(text, fence+"\n") {
		return "", text, nil
	}
	rest := strings.TrimPrefix(text, fence)
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return "", "", fmt.Errorf("%w: unterminated header block", ErrDecode)
	}
	header = rest[:end+1]
	body = rest[end+1+len(fence):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}
	return header, body, nil
}

func stripHeading(body, id, name string) string {
	body = strings.TrimSpace(body)
	if id != "" {
		heading := fmt.Sprintf("# %s: %s", id, name)
		if body == heading {
			return ""
		}
		if strings.HasPrefix(body, heading+"\n") {
			return strings.TrimSpace(strings.TrimPrefix(body, heading+"\n"))
		}
	}
	return body
}

// TypeFolder lowercases the type tag and strips everything outside
// [a-z0-9_-], defaulting to "general" when nothing survives.
func TypeFolder(reqType string) string {
	lowered := strings.ToLower(reqType)
	var b strings.Builder
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "general"
	}
	return b.String()
}

// SanitizeID replaces any character outside [A-Za-z0-9_-] with an underscore
// so the id is always a safe filename.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// FilePath returns the repo-relative path for a requirement document. Paths
// inside the repository always use forward slashes.
func FilePath(reqType, id string) string {
	return path.Join("requirements", TypeFolder(reqType), SanitizeID(id)+".md")
}

func putScalar(header *yaml.Node, key, value string) {
	header.Content = append(header.Content, scalarNode(key), scalarNode(value))
}

func putSequence(header *yaml.Node, key string, values []string) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range values {
		seq.Content = append(seq.Content, scalarNode(v))
	}
	header.Content = append(header.Content, scalarNode(key), seq)
}

func putLinks(header *yaml.Node, links []Link) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, link := range links {
		entry := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
		entry.Content = append(entry.Content,
			scalarNode("type"), scalarNode(link.Type),
			scalarNode("target"), scalarNode(link.Target),
		)
		seq.Content = append(seq.Content, entry)
	}
	header.Content = append(header.Content, scalarNode("links"), seq)
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}
