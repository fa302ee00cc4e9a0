package slogging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ElisionAction defines how a matching attribute is handled
type ElisionAction string

const (
	// ElisionOmit removes the attribute entirely
	ElisionOmit ElisionAction = "omit"
	// ElisionSummarize replaces the value with its kind and length
	ElisionSummarize ElisionAction = "summarize"
	// ElisionTruncate keeps a short prefix of the value
	ElisionTruncate ElisionAction = "truncate"
)

// ElisionRule elides attributes whose key matches FieldPattern
type ElisionRule struct {
	FieldPattern string        `yaml:"field_pattern" json:"field_pattern"`
	Action       ElisionAction `yaml:"action" json:"action"`

	compiledPattern *regexp.Regexp
}

// ElisionConfig holds all elision rules
type ElisionConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Rules   []ElisionRule `yaml:"rules" json:"rules"`
	// MaxValueLength truncates any other string value longer than this; zero disables
	MaxValueLength int `yaml:"max_value_length" json:"max_value_length"`
}

// DefaultElisionConfig keeps image payloads and credentials out of the logs
func DefaultElisionConfig() ElisionConfig {
	return ElisionConfig{
		Enabled: true,
		Rules: []ElisionRule{
			{FieldPattern: "(?i)(password|secret|api_key|private_key)", Action: ElisionOmit},
			{FieldPattern: "(?i)^(canvas|drawing|frame|canvas_data|drawing_layer)$", Action: ElisionSummarize},
		},
		MaxValueLength: 2048,
	}
}

// CompileRules compiles the field patterns of all rules
func (ec *ElisionConfig) CompileRules() error {
	for i := range ec.Rules {
		pattern, err := regexp.Compile(ec.Rules[i].FieldPattern)
		if err != nil {
			return fmt.Errorf("failed to compile elision pattern '%s': %w", ec.Rules[i].FieldPattern, err)
		}
		ec.Rules[i].compiledPattern = pattern
	}
	return nil
}

type elisionHandler struct {
	handler slog.Handler
	config  ElisionConfig
}

// NewElisionHandler wraps handler so that matching attributes are elided
func NewElisionHandler(handler slog.Handler, config ElisionConfig) (slog.Handler, error) {
	if err := config.CompileRules(); err != nil {
		return nil, err
	}
	return &elisionHandler{handler: handler, config: config}, nil
}

func (h *elisionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *elisionHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.config.Enabled {
		return h.handler.Handle(ctx, record)
	}

	newRecord := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		if elided, keep := h.elide(attr); keep {
			newRecord.AddAttrs(elided)
		}
		return true
	})

	return h.handler.Handle(ctx, newRecord)
}

func (h *elisionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	kept := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		if elided, keep := h.elide(attr); keep {
			kept = append(kept, elided)
		}
	}
	return &elisionHandler{handler: h.handler.WithAttrs(kept), config: h.config}
}

func (h *elisionHandler) WithGroup(name string) slog.Handler {
	return &elisionHandler{handler: h.handler.WithGroup(name), config: h.config}
}

// elide returns the attribute to log and whether to keep it at all
func (h *elisionHandler) elide(attr slog.Attr) (slog.Attr, bool) {
	if !h.config.Enabled {
		return attr, true
	}

	for _, rule := range h.config.Rules {
		if rule.compiledPattern == nil || !rule.compiledPattern.MatchString(attr.Key) {
			continue
		}
		switch rule.Action {
		case ElisionOmit:
			return slog.Attr{}, false
		case ElisionSummarize:
			return slog.String(attr.Key, summarizeValue(attr.Value.String())), true
		case ElisionTruncate:
			return slog.String(attr.Key, truncateValue(attr.Value.String(), 64)), true
		}
	}

	if attr.Value.Kind() == slog.KindString {
		s := attr.Value.String()
		if strings.HasPrefix(s, "data:") {
			return slog.String(attr.Key, summarizeValue(s)), true
		}
		if h.config.MaxValueLength > 0 && len(s) > h.config.MaxValueLength {
			return slog.String(attr.Key, truncateValue(s, h.config.MaxValueLength)), true
		}
	}
	return attr, true
}

func summarizeValue(s string) string {
	if strings.HasPrefix(s, "data:") {
		header := s
		if i := strings.IndexByte(s, ','); i >= 0 {
			header = s[:i]
		}
		return fmt.Sprintf("[%s, %d bytes]", header, len(s))
	}
	return fmt.Sprintf("[%d bytes]", len(s))
}

func truncateValue(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d bytes)", len(s))
}

var dataURLPattern = regexp.MustCompile(`data:[a-zA-Z0-9.+/-]+;base64,[A-Za-z0-9+/=]+`)

// ElideDataURLs replaces every base64 data URL in s with a short summary
func ElideDataURLs(s string) string {
	if !strings.Contains(s, "data:") {
		return s
	}
	return dataURLPattern.ReplaceAllStringFunc(s, summarizeValue)
}

// SanitizeLogMessage removes newlines and other control characters from log messages
func SanitizeLogMessage(message string) string {
	message = strings.ReplaceAll(message, "\n", " ")
	message = strings.ReplaceAll(message, "\r", " ")
	message = strings.ReplaceAll(message, "\t", " ")

	return strings.TrimSpace(strings.Join(strings.Fields(message), " "))
}
