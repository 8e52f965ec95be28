package calendar

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"
)

// DefaultColor is used when there is no author to colour by.
const DefaultColor = "#9C27B0"

// FallbackPalette is indexed by a hash of the author when no table entry
// matches.
var FallbackPalette = []string{"#9C27B0", "#673AB7", "#3F51B5", "#F44336", "#E91E63"}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Palette maps author names and emails to colours. Lookups are pure: the
// same input always yields the same colour.
type Palette struct {
	table map[string]string
	keys  []string
}

func NewPalette(table map[string]string) *Palette {
	p := &Palette{table: make(map[string]string, len(table))}
	for k, v := range table {
		if k == "" {
			continue
		}
		p.table[k] = v
		p.keys = append(p.keys, k)
	}
	sort.Strings(p.keys)
	return p
}

// UserColor resolves id by exact match, then substring match in either
// direction, then by the email it contains, then by hash.
func (p *Palette) UserColor(id string) string {
	if id == "" {
		return DefaultColor
	}
	if c, ok := p.table[id]; ok {
		return c
	}
	for _, k := range p.keys {
		if strings.Contains(id, k) || strings.Contains(k, id) {
			return p.table[k]
		}
	}

	if strings.Contains(id, "@") {
		if email := emailPattern.FindString(id); email != "" {
			if c, ok := p.table[email]; ok {
				return c
			}
			local, _, _ := strings.Cut(email, "@")
			for _, k := range p.keys {
				if strings.Contains(k, local) || strings.Contains(local, k) {
					return p.table[k]
				}
			}
		}
	}

	return FallbackPalette[charCodeSum(id)%len(FallbackPalette)]
}

// charCodeSum adds the UTF-16 code units of s.
func charCodeSum(s string) int {
	sum := 0
	for _, u := range utf16.Encode([]rune(s)) {
		sum += int(u)
	}
	return sum
}
