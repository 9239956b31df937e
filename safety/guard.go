// Package safety implements the pattern-based prompt guard and the audit
// ring. The production pattern list is supplied by the operator; a compact
// default ships for tests and the canary.
package safety

import (
	"context"
	"regexp"
	"strings"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Pattern pairs a compiled signature with its block reason.
type Pattern struct {
	Expr   *regexp.Regexp
	Reason string
}

// DefaultPatterns is the compact built-in block list.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{regexp.MustCompile(`(?i)ignore (all )?previous instructions`), "prompt injection"},
		{regexp.MustCompile(`(?i)\b(build|make|construct)\b.*\b(bomb|explosive|weapon)\b`), "harmful content"},
		{regexp.MustCompile(`(?i)\bhow to\b.*\b(hack|exploit)\b.*\b(account|password|system)\b`), "intrusion request"},
		{regexp.MustCompile(`(?i)\bgenerate\b.*\b(malware|ransomware|virus)\b`), "malware request"},
		{regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`), "prompt extraction"},
	}
}

// Guard implements core.Sanitizer with a fixed pattern scan. Matched
// prompts are blocked and recorded verbatim in the audit ring.
type Guard struct {
	patterns []Pattern
	ring     *AuditRing
	logger   core.Logger
}

// NewGuard creates a guard. Nil patterns select the built-in defaults.
func NewGuard(patterns []Pattern, ring *AuditRing, logger core.Logger) *Guard {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if ring == nil {
		ring = NewAuditRing()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Guard{patterns: patterns, ring: ring, logger: logger}
}

// Ring exposes the audit ring.
func (g *Guard) Ring() *AuditRing { return g.ring }

// Sanitize inspects a prompt before any other stage sees it. Unsafe
// prompts are blocked; safe ones are lightly normalized.
func (g *Guard) Sanitize(ctx context.Context, prompt, traceID string) (*core.SanitizeResult, error) {
	if reason := g.match(prompt); reason != "" {
		telemetry.Counter(telemetry.MetricSafetyBlocks, "stage", "sanitize")
		g.ring.Append(AuditEntry{
			TraceID: traceID,
			Prompt:  prompt,
			Reason:  reason,
			Stage:   "sanitize",
		})
		g.logger.Warn("Prompt blocked by safety guard", map[string]interface{}{
			"operation": "sanitize",
			"trace_id":  traceID,
			"reason":    reason,
		})
		return &core.SanitizeResult{Safe: false, BlockedReason: reason}, nil
	}

	sanitized := normalize(prompt)
	return &core.SanitizeResult{
		Safe:            true,
		SanitizedPrompt: sanitized,
		Modified:        sanitized != prompt,
	}, nil
}

// CheckVariant re-checks a candidate rewrite before it is recommended.
func (g *Guard) CheckVariant(ctx context.Context, prompt, traceID string) (bool, string) {
	if reason := g.match(prompt); reason != "" {
		g.ring.Append(AuditEntry{
			TraceID: traceID,
			Prompt:  prompt,
			Reason:  reason,
			Stage:   "recheck",
		})
		return false, reason
	}
	return true, ""
}

// Healthy reports guard availability for /health.
func (g *Guard) Healthy(ctx context.Context) bool {
	return len(g.patterns) > 0
}

func (g *Guard) match(prompt string) string {
	for _, p := range g.patterns {
		if p.Expr.MatchString(prompt) {
			return p.Reason
		}
	}
	return ""
}

// normalize strips control characters and trims surrounding whitespace
// without altering the prompt's content.
func normalize(prompt string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, prompt)
	return strings.TrimSpace(cleaned)
}
