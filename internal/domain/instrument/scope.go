package instrument

import "github.com/vendly/promo-engine/internal/domain/cart"

// Scope restricts an instrument to a set of products or categories.
// The zero value matches nothing; use ScopeAll for unrestricted instruments.
type Scope struct {
	All         bool
	ProductIDs  []string
	CategoryIDs []string
}

// ScopeAll matches every cart line.
func ScopeAll() Scope { return Scope{All: true} }

// ScopeProducts restricts to the given product ids.
func ScopeProducts(ids ...string) Scope { return Scope{ProductIDs: ids} }

// ScopeCategories restricts to the given category ids.
func ScopeCategories(ids ...string) Scope { return Scope{CategoryIDs: ids} }

// Matches reports whether a single cart line falls inside the scope.
func (s Scope) Matches(l cart.Line) bool {
	if s.All {
		return true
	}
	for _, id := range s.ProductIDs {
		if id == l.ProductID {
			return true
		}
	}
	for _, id := range s.CategoryIDs {
		if id != "" && id == l.CategoryID {
			return true
		}
	}
	return false
}

// MatchingLines returns the cart lines inside the scope, preserving order.
func (s Scope) MatchingLines(lines []cart.Line) []cart.Line {
	if s.All {
		return lines
	}
	var out []cart.Line
	for _, l := range lines {
		if s.Matches(l) {
			out = append(out, l)
		}
	}
	return out
}
