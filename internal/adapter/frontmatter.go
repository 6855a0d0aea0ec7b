package adapter

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cortex-engine/entity-core/pkg/types"
)

// frontmatterDelimiter is the YAML frontmatter delimiter line.
const frontmatterDelimiter = "---"

// maxFrontmatterSize caps frontmatter to guard against pathological
// YAML input (e.g. billion laughs).
const maxFrontmatterSize = 64 * 1024

// SplitFrontmatter separates a document into its raw frontmatter block
// and body. Documents that do not open with a delimiter line are all
// body; an unterminated frontmatter block is an error.
func SplitFrontmatter(doc string) (frontmatter, body string, found bool, err error) {
	if !strings.HasPrefix(doc, frontmatterDelimiter+"\n") && doc != frontmatterDelimiter {
		return "", doc, false, nil
	}

	rest := strings.TrimPrefix(doc, frontmatterDelimiter+"\n")
	if rest == frontmatterDelimiter || strings.HasPrefix(rest, frontmatterDelimiter+"\n") {
		// Empty frontmatter: "---\n---..."
		body = strings.TrimPrefix(rest, frontmatterDelimiter)
		return "", strings.TrimPrefix(body, "\n"), true, nil
	}

	end := closingDelimiter(rest)
	if end < 0 {
		return "", "", false, fmt.Errorf("%w: unterminated frontmatter", types.ErrSerialization)
	}

	frontmatter = rest[:end]
	if len(frontmatter) > maxFrontmatterSize {
		return "", "", false, fmt.Errorf("%w: frontmatter exceeds %d bytes", types.ErrSerialization, maxFrontmatterSize)
	}

	body = rest[end+1+len(frontmatterDelimiter):]
	body = strings.TrimPrefix(body, "\n")
	return frontmatter, body, true, nil
}

// closingDelimiter returns the offset of the newline preceding the
// first delimiter occupying a whole line, or -1. Lines like "----" or
// "---text" are frontmatter content, not terminators.
func closingDelimiter(rest string) int {
	from := 0
	for {
		idx := strings.Index(rest[from:], "\n"+frontmatterDelimiter)
		if idx < 0 {
			return -1
		}
		idx += from
		after := idx + 1 + len(frontmatterDelimiter)
		if after == len(rest) || rest[after] == '\n' {
			return idx
		}
		from = idx + 1
	}
}

// decodeFrontmatter unmarshals a frontmatter block into a map.
func decodeFrontmatter(frontmatter string) (map[string]any, error) {
	if strings.TrimSpace(frontmatter) == "" {
		return map[string]any{}, nil
	}
	out := map[string]any{}
	if err := yaml.Unmarshal([]byte(frontmatter), &out); err != nil {
		return nil, fmt.Errorf("%w: invalid frontmatter yaml: %v", types.ErrSerialization, err)
	}
	return out, nil
}

// encodeFrontmatter renders keys as a delimited YAML block. Returns ""
// when values is empty.
func encodeFrontmatter(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	raw, err := yaml.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("%w: frontmatter marshal: %v", types.ErrSerialization, err)
	}
	var b strings.Builder
	b.WriteString(frontmatterDelimiter)
	b.WriteByte('\n')
	b.Write(raw)
	b.WriteString(frontmatterDelimiter)
	b.WriteByte('\n')
	return b.String(), nil
}

// schemaProperties returns the property names of a JSON-schema object,
// or nil when the schema does not enumerate properties.
func schemaProperties(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	return props
}
