package retrieval

import (
	"strings"

	"github.com/zhiyin-ai/zhiyin/internal/crystal"
)

// Source identifies one record that contributed to the assembled context.
type Source struct {
	ID   string
	Name string
}

// contextFields are the metadata attributes rendered into the context
// block, in order, with their display labels.
var contextFields = []struct {
	label string
	key   string
}{
	{"Name", "english_name"},
	{"Color", "color"},
	{"General Effects", "general_effects"},
	{"Physiological Effects", "physiological_effects"},
	{"Emotional Effects", "emotional_effects"},
	{"Usage", "usage"},
	{"Zodiac Signs", "zodiac"},
	{"Chakras", "chakras"},
}

// Assemble renders retrieved results into a labeled context block for the
// generator, within a character budget.
//
// Records are taken in retrieval order. Each record either fits whole or is
// skipped along with everything after it; no record is truncated mid-way.
// A budget of zero or less disables the limit and includes every record.
// The returned sources identify exactly the records included in the block,
// in the same order. Empty results produce an empty block and nil sources.
func Assemble(results []Result, budget int) (string, []Source) {
	if len(results) == 0 {
		return "", nil
	}

	const separator = "---\n"

	var b strings.Builder
	var sources []Source
	for _, res := range results {
		section := renderSection(res.Metadata)
		need := len(section)
		if b.Len() > 0 {
			need += len(separator)
		}
		if budget > 0 && b.Len()+need > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString(separator)
		}
		b.WriteString(section)
		sources = append(sources, Source{
			ID:   res.ID,
			Name: crystal.DisplayName(res.Metadata, res.ID),
		})
	}
	return b.String(), sources
}

func renderSection(metadata map[string]string) string {
	var b strings.Builder
	for _, field := range contextFields {
		b.WriteString(field.label)
		b.WriteString(": ")
		b.WriteString(metadata[field.key])
		b.WriteString("\n")
	}
	return b.String()
}
