package crystal

import (
	"encoding/json"
	"fmt"
	"os"
)

// catalog matches the top-level shape of crystals.json.
type catalog struct {
	Crystals []Raw `json:"crystals"`
}

// LoadFile reads a crystal knowledge base from a JSON file of the form
// {"crystals": [...]}. The file is the finite, read-only ingestion source;
// entries are returned in file order.
func LoadFile(path string) ([]Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge base: %w", err)
	}
	return Parse(data)
}

// Parse decodes a crystal knowledge base from JSON bytes.
func Parse(data []byte) ([]Raw, error) {
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing knowledge base: %w", err)
	}
	if len(c.Crystals) == 0 {
		return nil, fmt.Errorf("knowledge base contains no crystals")
	}
	return c.Crystals, nil
}
