// Package outcome turns a plugin's captured output into a Result.
package outcome

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dutlab/plugin"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed result.schema.json
var resultSchema []byte

const schemaURL = "mem://dutlab/result.schema.json"

var (
	blockRe = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(plugin.BlockStart) + `\s*(\{.*?\})\s*` + regexp.QuoteMeta(plugin.BlockEnd))
	passRe  = regexp.MustCompile(`(?i)result:\s*pass|\bPASS\b`)
)

// Parser decodes result blocks. The zero value is not usable; call New.
type Parser struct {
	schema *jsonschema.Schema
	// Legacy falls back to scanning for "Result: Pass" when no block is found.
	Legacy bool
}

func New(legacy bool) (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Parser{schema: schema, Legacy: legacy}, nil
}

// Parse extracts the last result block in raw. The returned Result always
// carries runtime and serial.
func (p *Parser) Parse(raw, serial string, elapsed time.Duration) plugin.Result {
	res, err := p.decode(raw)
	if err != nil {
		if p.Legacy {
			res = scan(raw)
		} else {
			res = plugin.Failf("%s", err.Error())
		}
	}
	return plugin.Augment(res, serial, elapsed)
}

func (p *Parser) decode(raw string) (plugin.Result, error) {
	matches := blockRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return plugin.Result{}, fmt.Errorf("Result block missing")
	}
	body := matches[len(matches)-1][1]

	var payload any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return plugin.Result{}, fmt.Errorf("Result block invalid: %v", err)
	}
	if err := p.schema.Validate(payload); err != nil {
		return plugin.Result{}, fmt.Errorf("Result block invalid: %v", firstLine(err.Error()))
	}

	doc := payload.(map[string]any)
	var outcome string
	for _, key := range []string{"outcome", "result", "status"} {
		if s, ok := doc[key].(string); ok {
			outcome = s
			break
		}
	}
	metrics, _ := doc["metrics"].(map[string]any)
	if metrics == nil {
		metrics = map[string]any{}
	}
	return plugin.Result{Outcome: plugin.NormalizeOutcome(outcome), Metrics: metrics}, nil
}

func scan(raw string) plugin.Result {
	if passRe.MatchString(raw) {
		return plugin.Passed(nil)
	}
	return plugin.Failf("Result block missing")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
