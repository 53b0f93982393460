package model

// Scope says which updates a subscription receives: every symbol, or one.
type Scope struct {
	Symbol string
}

var ScopeAll = Scope{}

func ScopeSymbol(symbol string) Scope {
	return Scope{Symbol: NormalizeSymbol(symbol)}
}

func (s Scope) IsAll() bool { return s.Symbol == "" }

func (s Scope) String() string {
	if s.IsAll() {
		return "all-symbols"
	}
	return s.Symbol
}
