package ingredient

import (
	"fmt"
	"regexp"
	"strings"
)

type field int

const (
	fieldName field = iota
	fieldUnit
	fieldQuantity
	fieldNotes
	fieldCount
)

var (
	labelRe  = regexp.MustCompile(`(?i)^\s*(ingredients?|units?|quantit(?:y|ies)|preparation\s+notes?)\s*:\s*(.*)$`)
	bulletRe = regexp.MustCompile(`^\s*-\s*(.*)$`)
	noneRe   = regexp.MustCompile(`(?i)^none$`)
)

func labelField(label string) field {
	l := strings.ToLower(label)
	switch {
	case strings.HasPrefix(l, "ingredient"):
		return fieldName
	case strings.HasPrefix(l, "unit"):
		return fieldUnit
	case strings.HasPrefix(l, "quantit"):
		return fieldQuantity
	default:
		return fieldNotes
	}
}

// slot is one labeled value: either a single value or a bulleted list.
type slot struct {
	values []string
	list   bool
	seen   bool
}

type block [fieldCount]slot

func (b *block) complete() bool {
	for i := range b {
		if !b[i].seen {
			return false
		}
	}
	return true
}

func (b *block) empty() bool {
	for i := range b {
		if b[i].seen {
			return false
		}
	}
	return true
}

// ParseResponse turns raw model output into structured ingredients. The reply is
// made of one or more blocks of the four labeled fields; blocks are concatenated
// in order. Errors wrap ErrUnparsableModelOutput.
func ParseResponse(text, originalText string) ([]ParsedIngredient, error) {
	blocks, err := splitBlocks(text)
	if err != nil {
		return nil, err
	}

	results := []ParsedIngredient{}
	for i := range blocks {
		parsed, err := expand(&blocks[i], originalText)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		results = append(results, parsed...)
	}
	return results, nil
}

func splitBlocks(text string) ([]block, error) {
	var (
		blocks  []block
		current block
		open    = -1 // field receiving bullets
	)

	flush := func() error {
		if current.empty() {
			return nil
		}
		if !current.complete() {
			return fmt.Errorf("%w: incomplete field block", ErrUnparsableModelOutput)
		}
		blocks = append(blocks, current)
		current = block{}
		return nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := labelRe.FindStringSubmatch(line); m != nil {
			f := labelField(m[1])
			if current[f].seen {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			s := slot{seen: true}
			if v := strings.TrimSpace(m[2]); v != "" {
				s.values = []string{v}
			}
			current[f] = s
			open = int(f)
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil && open >= 0 {
			s := &current[open]
			s.values = append(s.values, strings.TrimSpace(m[1]))
			s.list = true
			continue
		}
		if strings.TrimSpace(line) == "" {
			open = -1
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no labeled fields found", ErrUnparsableModelOutput)
	}
	return blocks, nil
}

func expand(b *block, originalText string) ([]ParsedIngredient, error) {
	n := 1
	listField := -1
	for i := range b {
		if !b[i].list {
			continue
		}
		if listField >= 0 && len(b[i].values) != n {
			return nil, fmt.Errorf("%w: list length mismatch (%d vs %d)", ErrUnparsableModelOutput, n, len(b[i].values))
		}
		n = len(b[i].values)
		listField = i
	}

	out := make([]ParsedIngredient, 0, n)
	for i := 0; i < n; i++ {
		name := valueAt(b[fieldName], i)
		if name == nil {
			continue
		}
		p := ParsedIngredient{
			Name:             *name,
			Unit:             valueAt(b[fieldUnit], i),
			Quantity:         valueAt(b[fieldQuantity], i),
			PreparationNotes: valueAt(b[fieldNotes], i),
			OriginalText:     originalText,
			Resolved:         true,
		}
		if p.PreparationNotes != nil {
			p.Name += " " + *p.PreparationNotes
		}
		out = append(out, p)
	}
	return out, nil
}

// valueAt broadcasts single values across list positions. Empty and None slots are nil.
func valueAt(s slot, i int) *string {
	var v string
	switch {
	case len(s.values) == 0:
		return nil
	case s.list:
		v = s.values[i]
	default:
		v = s.values[0]
	}
	v = strings.TrimSpace(v)
	if v == "" || noneRe.MatchString(v) {
		return nil
	}
	return &v
}
