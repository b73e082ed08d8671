package changereq

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/uvr-coop/uvr/internal/shared"
)

// DiffEntry compares one field of the current and proposed state.
type DiffEntry struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Current  string `json:"current"`
	Proposed string `json:"proposed"`
	Changed  bool   `json:"changed"`
}

// Fixed is a decimal rendered at a fixed scale.
type Fixed struct {
	Value decimal.Decimal
	Scale int32
}

// Money renders d with two decimals.
func Money(d decimal.Decimal) Fixed {
	return Fixed{Value: d, Scale: 2}
}

// Quantity renders d with three decimals.
func Quantity(d decimal.Decimal) Fixed {
	return Fixed{Value: d, Scale: 3}
}

// Keep is a proposed value that leaves the current one in place, such as an omitted
// allocation order on a cash-flow edit. It diffs as unchanged.
type Keep struct{}

// DiffFields aligns current and proposed fields by key. Keys only present on one side
// compare against an empty value. Order follows current, then keys new in proposed.
func DiffFields(current, proposed []Field) []DiffEntry {
	proposedByKey := make(map[string]Field, len(proposed))
	for _, f := range proposed {
		proposedByKey[f.Key] = f
	}
	seen := make(map[string]bool, len(current))
	out := make([]DiffEntry, 0, len(current)+len(proposed))
	for _, c := range current {
		seen[c.Key] = true
		entry := DiffEntry{Key: c.Key, Label: c.Label, Current: Normalize(c.Value)}
		if p, ok := proposedByKey[c.Key]; ok {
			entry.Proposed = Normalize(p.Value)
			if _, keep := p.Value.(Keep); keep {
				entry.Proposed = entry.Current
			}
		}
		entry.Changed = entry.Current != entry.Proposed
		out = append(out, entry)
	}
	for _, p := range proposed {
		if seen[p.Key] {
			continue
		}
		entry := DiffEntry{Key: p.Key, Label: p.Label, Proposed: Normalize(p.Value)}
		entry.Changed = entry.Proposed != ""
		out = append(out, entry)
	}
	return out
}

// Normalize renders a field value as comparable text: ISO dates, fixed-scale decimals,
// trimmed NFC strings, and nil and empty as "".
func Normalize(v any) string {
	switch val := v.(type) {
	case nil, Keep:
		return ""
	case string:
		return norm.NFC.String(strings.TrimSpace(val))
	case *string:
		if val == nil {
			return ""
		}
		return Normalize(*val)
	case shared.Date:
		return val.String()
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(shared.DateLayout)
	case Fixed:
		return val.Value.StringFixed(val.Scale)
	case decimal.Decimal:
		return val.StringFixed(2)
	case int64:
		return strconv.FormatInt(val, 10)
	case *int64:
		if val == nil {
			return ""
		}
		return strconv.FormatInt(*val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return Normalize(val.String())
	default:
		return Normalize(fmt.Sprint(val))
	}
}
