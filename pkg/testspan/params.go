// Parameter capture for tests repeated over a table of inputs
// Rows are stringified at registration and consumed one per test start, in declaration order
package testspan

import (
	"encoding/json"
	"sync"
)

// EachMethod is the name of the "repeat with each input" registration function
// on a runner's globals target.
const EachMethod = "each"

// EachFunc registers a table of input rows and returns the function that binds
// the rows to a named test body.
type EachFunc func(table [][]any) func(name string, fn Body)

// Params records, per declared test name, the stringified input rows still to
// be consumed by test starts.
type Params struct {
	mu     sync.Mutex
	byName map[string][]string
}

// NewParams creates an empty record.
func NewParams() *Params {
	return &Params{byName: make(map[string][]string)}
}

// Register replaces the rows recorded for name.
func (p *Params) Register(name string, rows []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[name] = append([]string(nil), rows...)
}

// Next consumes the next row recorded for name. It returns "" when none remain.
func (p *Params) Next(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := p.byName[name]
	if len(rows) == 0 {
		return ""
	}
	p.byName[name] = rows[1:]
	return rows[0]
}

// Reset drops every record.
func (p *Params) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.byName)
}

type parameters struct {
	Arguments []any          `json:"arguments"`
	Metadata  map[string]any `json:"metadata"`
}

// FormatParameters renders one input row as the backend's parameters tag.
func FormatParameters(args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(parameters{Arguments: args, Metadata: map[string]any{}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FormatTable renders every row of table. Rows that cannot be rendered become "".
func FormatTable(table [][]any) []string {
	rows := make([]string, len(table))
	for i, row := range table {
		s, err := FormatParameters(row)
		if err != nil {
			continue
		}
		rows[i] = s
	}
	return rows
}
