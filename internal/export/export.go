// Package export writes a conversation out as JSON, YAML or Markdown.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/minichat/internal/conversation"
	"gopkg.in/yaml.v3"
)

// Exporter writes one conversation in a specific format.
type Exporter interface {
	Export(c *conversation.Conversation, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}

// JSONExporter writes the conversation using the persisted field names.
type JSONExporter struct{}

func (e *JSONExporter) Export(c *conversation.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func (e *JSONExporter) Extension() string { return "json" }

// YAMLExporter writes the conversation as YAML.
type YAMLExporter struct{}

func (e *YAMLExporter) Export(c *conversation.Conversation, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(c)
}

func (e *YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes a human-readable transcript.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(c *conversation.Conversation, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "**Created:** %s  \n", formatMillis(c.CreatedAt))
	fmt.Fprintf(&b, "**Messages:** %d\n\n---\n\n", len(c.Messages))

	for i, m := range c.Messages {
		author := "You"
		if m.Role == conversation.RoleAssistant {
			author = "Assistant"
		}
		fmt.Fprintf(&b, "**%s** (%s)", author, formatMillis(m.Timestamp))
		if m.Status != conversation.StatusSent {
			fmt.Fprintf(&b, " _%s_", m.Status)
		}
		fmt.Fprintf(&b, "\n\n%s\n\n", escapeMarkdown(m.Content))
		if i < len(c.Messages)-1 {
			b.WriteString("---\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string { return "md" }

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		lines[i] = strings.ReplaceAll(line, "__", `\_\_`)
	}
	return strings.Join(lines, "\n")
}
