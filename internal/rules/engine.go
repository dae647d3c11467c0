// Package rules applies user-maintained substitutions to final transcripts
// before insertion: dictation quirks ("new line" to "\n"), vocabulary fixes,
// and regex cleanups.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

type substitution struct {
	pattern *regexp.Regexp
	literal string
	replace string
}

func (s substitution) apply(input string) (string, bool) {
	if s.pattern != nil {
		out := s.pattern.ReplaceAllString(input, s.replace)
		return out, out != input
	}
	out := strings.ReplaceAll(input, s.literal, s.replace)
	return out, out != input
}

// Engine applies substitutions loaded from a rules file until a fixed point
// or the iteration limit.
type Engine struct {
	subs      []substitution
	loopLimit int
}

// NewEngine loads rules from path. A missing file yields an empty engine; a
// malformed file is an error.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	engine := &Engine{loopLimit: loopLimit}

	if strings.TrimSpace(path) == "" {
		return engine, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine, nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	for index, raw := range strings.Split(string(contents), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sub, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("rules file %q line %d: %w", path, index+1, err)
		}
		engine.subs = append(engine.subs, sub)
	}
	return engine, nil
}

// parseLine accepts two forms:
//
//	literal => replacement
//	s/pattern/replacement/
func parseLine(line string) (substitution, error) {
	if strings.HasPrefix(line, "s/") {
		parts := splitUnescaped(line[2:], '/')
		if len(parts) < 2 {
			return substitution{}, fmt.Errorf("malformed regex rule")
		}
		pattern, err := regexp.Compile(parts[0])
		if err != nil {
			return substitution{}, fmt.Errorf("invalid pattern: %w", err)
		}
		return substitution{pattern: pattern, replace: parts[1]}, nil
	}

	if idx := strings.Index(line, "=>"); idx >= 0 {
		from := strings.TrimSpace(line[:idx])
		to := strings.TrimSpace(line[idx+2:])
		if from == "" {
			return substitution{}, fmt.Errorf("empty literal source")
		}
		return substitution{literal: from, replace: unescape(to)}, nil
	}

	return substitution{}, fmt.Errorf("unsupported rule format")
}

// Apply transforms text deterministically, iterating until no rule changes
// the text or the loop limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.subs) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, sub := range e.subs {
			next, didChange := sub.apply(result)
			if didChange {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int { return len(e.subs) }

func splitUnescaped(s string, sep byte) []string {
	var parts []string
	var current strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			if c != sep {
				current.WriteByte('\\')
			}
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if escaped {
		current.WriteByte('\\')
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, "\t")
	return s
}
