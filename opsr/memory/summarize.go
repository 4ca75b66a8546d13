package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// SummarizeStrategy collapses turns older than the keep window into a
// single synthesized summary turn. The summary is structured into sections
// so downstream prompts retain the shape of the earlier conversation
// without its full text.
type SummarizeStrategy struct {
	// Keep is how many of the most recent turns stay verbatim. Older
	// turns feed the summary. Values below 2 are treated as 2 so the
	// latest exchange always survives intact.
	Keep int
}

func (s *SummarizeStrategy) Shape(ctx context.Context, turns []ports.Turn) ([]ports.Turn, error) {
	keep := s.Keep
	if keep < 2 {
		keep = 2
	}
	if len(turns) <= keep {
		return turns, nil
	}

	older := turns[:len(turns)-keep]
	recent := turns[len(turns)-keep:]

	summary := ports.Turn{
		SessionID: older[0].SessionID,
		Role:      ports.RoleAssistant,
		Content:   buildSummary(older),
		Sequence:  older[len(older)-1].Sequence,
		CreatedAt: older[len(older)-1].CreatedAt,
	}

	shaped := make([]ports.Turn, 0, len(recent)+1)
	shaped = append(shaped, summary)
	shaped = append(shaped, recent...)
	return shaped, nil
}

var identifierPattern = regexp.MustCompile(
	`\b([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[A-Z]{2,}[0-9]{4,})\b`)

// buildSummary renders the older turns into a sectioned digest: what the
// user asked, what the assistant reported, and any identifiers mentioned.
func buildSummary(turns []ports.Turn) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[summary of %d earlier turns]\n", len(turns)))

	sections := map[string][]string{}
	seenIdentifiers := map[string]bool{}

	for _, t := range turns {
		line := condense(t.Content)
		switch t.Role {
		case ports.RoleUser:
			sections["Requests"] = appendCapped(sections["Requests"], line)
		case ports.RoleAssistant:
			sections["Findings"] = appendCapped(sections["Findings"], line)
		}
		for _, id := range identifierPattern.FindAllString(t.Content, -1) {
			if !seenIdentifiers[id] {
				seenIdentifiers[id] = true
				sections["Identifiers"] = append(sections["Identifiers"], id)
			}
		}
	}

	for _, name := range []string{"Requests", "Findings", "Identifiers"} {
		entries := sections[name]
		if len(entries) == 0 {
			continue
		}
		b.WriteString(name + ":\n")
		for _, e := range entries {
			b.WriteString("- " + e + "\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// condense flattens a turn to a single truncated line.
func condense(content string) string {
	line := strings.Join(strings.Fields(content), " ")
	const maxLine = 140
	if len(line) > maxLine {
		line = line[:maxLine] + "..."
	}
	return line
}

// appendCapped keeps section lists bounded so the summary itself cannot
// grow past the history it replaces.
func appendCapped(entries []string, line string) []string {
	const maxEntries = 12
	if len(entries) >= maxEntries {
		return entries
	}
	return append(entries, line)
}
