// Package crystal models the crystal knowledge base and normalizes raw
// entries into embeddable records.
//
// A raw entry is a loosely-shaped JSON object; Normalize turns it into a
// Record with a stable identity, a deterministic text representation for
// embedding, and a flat metadata payload for display and citation.
package crystal

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedRecord indicates a raw entry is missing its mandatory
// identity field and cannot be ingested.
var ErrMalformedRecord = errors.New("malformed record")

// Raw is one knowledge-base entry. Known attributes are typed; anything
// else the source carries lands in Extra. All fields except EnglishName
// (the identity) are optional.
type Raw struct {
	ChineseName          string
	EnglishName          string
	Color                string
	Intro                string
	GeneralEffects       string
	PhysiologicalEffects []string
	EmotionalEffects     []string
	Usage                string
	Zodiac               []string
	Chakras              []string
	Origins              []string
	Hardness             string
	Purification         []string
	Aliases              []string
	MatchingLuckstone    []string
	FiveElements         string

	// Extra holds unrecognized attributes, stringified.
	Extra map[string]string
}

// knownKeys are the top-level JSON attributes mapped to typed fields.
var knownKeys = map[string]bool{
	"chinese_name": true, "english_name": true, "color": true, "intro": true,
	"effects": true, "usage": true, "zodiac": true, "chakras": true,
	"origins": true, "hardness": true, "purification": true, "aliases": true,
	"matching_luckstone": true, "five_elements": true,
}

// UnmarshalJSON decodes a raw entry, tolerating the source's loose shapes:
// hardness may be a number, usage may be a string or a {when_to_use} object,
// effects is a nested object, and any field may be null or absent.
func (r *Raw) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decoding entry: %w", err)
	}

	r.ChineseName = asString(m["chinese_name"])
	r.EnglishName = asString(m["english_name"])
	r.Color = asString(m["color"])
	r.Intro = asString(m["intro"])
	r.Hardness = asString(m["hardness"])
	r.FiveElements = asString(m["five_elements"])
	r.Zodiac = asStringList(m["zodiac"])
	r.Chakras = asStringList(m["chakras"])
	r.Origins = asStringList(m["origins"])
	r.Purification = asStringList(m["purification"])
	r.Aliases = asStringList(m["aliases"])
	r.MatchingLuckstone = asStringList(m["matching_luckstone"])

	if effects, ok := m["effects"].(map[string]any); ok {
		r.GeneralEffects = asString(effects["general"])
		r.PhysiologicalEffects = asStringList(effects["physiological"])
		r.EmotionalEffects = asStringList(effects["emotional"])
	}

	// usage is either a plain string or an object with when_to_use.
	switch u := m["usage"].(type) {
	case string:
		r.Usage = u
	case map[string]any:
		r.Usage = asString(u["when_to_use"])
	}

	r.Extra = nil
	for k, v := range m {
		if knownKeys[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[k] = flatten(v)
	}

	return nil
}

// Record is a normalized knowledge-base entry, ready for embedding.
// Records are immutable once embedded; re-ingesting replaces the
// index entry for the same ID.
type Record struct {
	ID       string            // Stable identity, ASCII slug of the English name
	Text     string            // Deterministic text representation for embedding
	Metadata map[string]string // Flat payload for display and citation
}

// nonAlnum matches runs of characters outside [a-zA-Z0-9].
var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// SlugID converts a name to an ASCII-safe identifier: runs of
// non-alphanumeric characters become single underscores, leading and
// trailing underscores are stripped.
func SlugID(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(name, "_"), "_")
}

// Normalize converts a raw entry into a Record.
//
// The text representation concatenates labeled fields in a fixed order
// (Name, Color, Introduction, General Effects, Physiological Effects,
// Emotional Effects, Usage, Zodiac Signs, Chakras), so the same entry
// always normalizes to the same text. Missing optional fields render as
// empty labels; a missing English name fails with ErrMalformedRecord.
func Normalize(raw Raw) (Record, error) {
	id := SlugID(raw.EnglishName)
	if id == "" {
		return Record{}, fmt.Errorf("%w: entry %q has no english_name", ErrMalformedRecord, raw.ChineseName)
	}

	var b strings.Builder
	writeField := func(label, value string) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}

	writeField("Name", fmt.Sprintf("%s (%s)", raw.ChineseName, raw.EnglishName))
	writeField("Color", raw.Color)
	writeField("Introduction", raw.Intro)
	writeField("General Effects", raw.GeneralEffects)
	writeField("Physiological Effects", strings.Join(raw.PhysiologicalEffects, ", "))
	writeField("Emotional Effects", strings.Join(raw.EmotionalEffects, ", "))
	writeField("Usage", raw.Usage)
	writeField("Zodiac Signs", strings.Join(raw.Zodiac, ", "))
	writeField("Chakras", strings.Join(raw.Chakras, ", "))

	metadata := map[string]string{
		"chinese_name":          raw.ChineseName,
		"english_name":          raw.EnglishName,
		"color":                 raw.Color,
		"hardness":              raw.Hardness,
		"origins":               strings.Join(raw.Origins, ", "),
		"zodiac":                strings.Join(raw.Zodiac, ", "),
		"chakras":               strings.Join(raw.Chakras, ", "),
		"matching_luckstone":    strings.Join(raw.MatchingLuckstone, ", "),
		"intro":                 raw.Intro,
		"general_effects":       raw.GeneralEffects,
		"physiological_effects": strings.Join(raw.PhysiologicalEffects, ", "),
		"emotional_effects":     strings.Join(raw.EmotionalEffects, ", "),
		"usage":                 raw.Usage,
		"purification":          strings.Join(raw.Purification, ", "),
		"aliases":               strings.Join(raw.Aliases, ", "),
		"five_elements":         raw.FiveElements,
	}
	for k, v := range raw.Extra {
		// Known keys win on collision; extras never overwrite them.
		if _, exists := metadata[k]; !exists {
			metadata[k] = v
		}
	}

	return Record{
		ID:       id,
		Text:     b.String(),
		Metadata: metadata,
	}, nil
}

// DisplayName returns the human-readable name for a record's metadata,
// preferring the English name and falling back to the ID.
func DisplayName(metadata map[string]string, id string) string {
	if name := metadata["english_name"]; name != "" {
		return name
	}
	return id
}

// asString stringifies a scalar JSON value; nil becomes "".
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// asStringList converts a JSON array to a string slice, dropping nil
// elements and stringifying the rest. Non-arrays yield nil.
func asStringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		out = append(out, asString(item))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// flatten stringifies an arbitrary JSON value for the Extra map.
func flatten(v any) string {
	switch t := v.(type) {
	case []any:
		return strings.Join(asStringList(t), ", ")
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return asString(v)
	}
}
