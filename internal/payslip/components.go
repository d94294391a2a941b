package payslip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

// Component is a named pay line.
type Component struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Components is an insertion-ordered set of pay lines. Totals are summed in
// insertion order and the JSON form is an object whose keys keep that order.
type Components []Component

// Set overwrites an existing line or appends a new one.
func (c *Components) Set(name string, amount decimal.Decimal) {
	for i := range *c {
		if (*c)[i].Name == name {
			(*c)[i].Amount = amount
			return
		}
	}
	*c = append(*c, Component{Name: name, Amount: amount})
}

// Get returns the amount of a line.
func (c Components) Get(name string) (decimal.Decimal, bool) {
	for _, line := range c {
		if line.Name == name {
			return line.Amount, true
		}
	}
	return decimal.Zero, false
}

// Total sums the lines.
func (c Components) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c {
		total = total.Add(line.Amount)
	}
	return total
}

// Names lists line names in order.
func (c Components) Names() []string {
	names := make([]string, 0, len(c))
	for _, line := range c {
		names = append(names, line.Name)
	}
	return names
}

// Clone copies the lines.
func (c Components) Clone() Components {
	if c == nil {
		return nil
	}
	out := make(Components, len(c))
	copy(out, c)
	return out
}

// Validate rejects blank or repeated names and negative amounts. kind names
// the group in error messages.
func (c Components) Validate(kind string) error {
	seen := make(map[string]struct{}, len(c))
	for _, line := range c {
		name := strings.TrimSpace(line.Name)
		if name == "" {
			return shared.Invalidf("%s component name is required", kind)
		}
		if _, dup := seen[name]; dup {
			return shared.Invalidf("%s component %q appears more than once", kind, name)
		}
		seen[name] = struct{}{}
		if line.Amount.IsNegative() {
			return shared.Invalidf("%s component %q cannot be negative", kind, name)
		}
	}
	return nil
}

// MarshalJSON encodes the lines as an ordered JSON object.
func (c Components) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, line := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(line.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(line.Amount.StringFixed(2))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Repeated keys
// are kept so Validate can reject them.
func (c *Components) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("payslip: components must be a JSON object")
	}
	out := Components{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var amount decimal.Decimal
		if err := dec.Decode(&amount); err != nil {
			return fmt.Errorf("payslip: component %q: %w", name, err)
		}
		out = append(out, Component{Name: name, Amount: amount})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}
