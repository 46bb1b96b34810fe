package models

import "fmt"

// SizingType selects the card set used by a session.
type SizingType string

const (
	SizingFibonacci      SizingType = "fibonacci"
	SizingShortFibonacci SizingType = "short_fibonacci"
	SizingTShirt         SizingType = "tshirt"
	SizingTShirtNumbers  SizingType = "tshirt_numbers"
)

// WildcardCard is appended to every deck and means "no idea".
const WildcardCard = "?"

var sizingCards = map[SizingType][]string{
	SizingFibonacci:      {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89"},
	SizingShortFibonacci: {"0", "0.5", "1", "2", "3", "5", "8", "13", "20", "40", "100"},
	SizingTShirt:         {"XXS", "XS", "S", "M", "L", "XL", "XXL"},
	SizingTShirtNumbers:  {"S", "M", "L", "XL", "1", "2", "3", "4", "5"},
}

// AllSizingTypes lists every supported sizing type in display order.
func AllSizingTypes() []SizingType {
	return []SizingType{SizingFibonacci, SizingShortFibonacci, SizingTShirt, SizingTShirtNumbers}
}

// ParseSizingType validates a sizing type name.
func ParseSizingType(s string) (SizingType, error) {
	t := SizingType(s)
	if _, ok := sizingCards[t]; !ok {
		return "", fmt.Errorf("unknown sizing type %q", s)
	}
	return t, nil
}

// Deck returns the selectable cards for the sizing type, wildcard last.
func (t SizingType) Deck() []string {
	cards := sizingCards[t]
	deck := make([]string, 0, len(cards)+1)
	deck = append(deck, cards...)
	return append(deck, WildcardCard)
}

// HasCard reports whether card belongs to the deck of this sizing type.
func (t SizingType) HasCard(card string) bool {
	for _, c := range t.Deck() {
		if c == card {
			return true
		}
	}
	return false
}
