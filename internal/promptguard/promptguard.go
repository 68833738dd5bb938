// Package promptguard filters text that crosses the AI boundary in either
// direction: prompts built from scanned source are checked for injection
// attempts and capped, and model output is scrubbed of anything that looks
// like a credential before it lands in a result document.
package promptguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxPromptLength caps instruction text, roughly 8000 tokens.
	MaxPromptLength = 32000

	// MaxCodeBlockLength caps embedded source code, which is allowed to be
	// larger than the instruction portion.
	MaxCodeBlockLength = 50000
)

// ErrInjection reports that text bound for the model matched an injection
// pattern.
var ErrInjection = errors.New("potential prompt injection detected")

// injectionPatterns match attempts to override instructions from inside
// scanned source code. Grouped roughly as: instruction override, role
// manipulation, system-prompt escapes, and output manipulation.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|all|the)\s+(instructions|prompts|commands)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|all|the)\s+(instructions|prompts)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(above|before|previous)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+)?you\s+(are|were)`),
	regexp.MustCompile(`(?i)pretend\s+to\s+be`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
	regexp.MustCompile(`(?i)</?system>`),
	regexp.MustCompile(`(?i)\[/?system\]`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)updated\s+instructions?:`),
	regexp.MustCompile(`(?i)(admin|developer|debug)\s+mode`),
	regexp.MustCompile(`(?i)print\s+(your|the)\s+(prompt|instructions|system|rules)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(prompt|instructions)`),
}

// sensitiveReplacements redact credential-shaped values in model output.
var sensitiveReplacements = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[a-zA-Z0-9_\-]{20,}['"]?`),
		"$1=***REDACTED***",
	},
	{
		regexp.MustCompile(`(?i)(secret[_-]?key|secretkey|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
		"$1=***REDACTED***",
	},
	{
		regexp.MustCompile(`(?i)(token|auth[_-]?token|access[_-]?key)\s*[:=]\s*['"]?(Bearer\s+)?[a-zA-Z0-9_\-.]{20,}['"]?`),
		"$1=***REDACTED***",
	},
}

// controlChars strips control characters other than tab, LF and CR.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// CheckInjection returns ErrInjection when text matches an injection
// pattern. The matched pattern is named in the error without echoing the
// offending text.
func CheckInjection(text string) error {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return fmt.Errorf("%w: pattern %q", ErrInjection, re.String())
		}
	}
	return nil
}

// SanitizeInstruction cleans instruction text: control characters removed,
// system-delimiter sequences defused, whitespace collapsed, length capped.
func SanitizeInstruction(text string) string {
	s := controlChars.ReplaceAllString(text, "")
	s = strings.ReplaceAll(s, "</system>", "&lt;/system&gt;")
	s = strings.ReplaceAll(s, "<system>", "&lt;system&gt;")
	s = strings.ReplaceAll(s, "[system]", "[sys]")
	s = strings.ReplaceAll(s, "[/system]", "[/sys]")
	s = regexp.MustCompile(`[ \t]+`).ReplaceAllString(s, " ")
	if len(s) > MaxPromptLength {
		s = s[:MaxPromptLength] + "...[truncated]"
	}
	return strings.TrimSpace(s)
}

// SanitizeCode cleans a source block for prompt embedding. Code keeps its
// whitespace; only control characters and the length cap apply.
func SanitizeCode(code string) string {
	s := controlChars.ReplaceAllString(code, "")
	if len(s) > MaxCodeBlockLength {
		s = s[:MaxCodeBlockLength] + "\n// [truncated]"
	}
	return s
}

// BuildPrompt assembles a validated prompt with the code fenced off from the
// instructions. The instruction part is checked for injection; the code part
// is only sanitized, since flagged source legitimately contains strings that
// look like attacks.
func BuildPrompt(instruction, code string) (string, error) {
	if err := CheckInjection(instruction); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(SanitizeInstruction(instruction))
	if code != "" {
		b.WriteString("\n\n```\n")
		b.WriteString(SanitizeCode(code))
		b.WriteString("\n```")
	}
	return b.String(), nil
}

// FilterOutput redacts credential-shaped values from model output before it
// is stored or shown.
func FilterOutput(output string) string {
	for _, sr := range sensitiveReplacements {
		output = sr.re.ReplaceAllString(output, sr.replacement)
	}
	return output
}
