package plugin

import (
	"encoding/json"
	"fmt"
	"io"
)

// Delimiters around the structured result printed by the plugin host.
const (
	BlockStart = "===RESULT_START==="
	BlockEnd   = "===RESULT_END==="
)

// WriteResult prints r as a delimited block on its own lines.
func WriteResult(w io.Writer, r Result) error {
	if r.Metrics == nil {
		r.Metrics = map[string]any{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = fmt.Fprintf(w, "\n%s\n%s\n%s\n", BlockStart, b, BlockEnd)
	return err
}
