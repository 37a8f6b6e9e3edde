package tracker

import "time"

// AdoptionPolicy governs which broker-only positions Reconcile adopts (spec
// §4.4 "Adoption policy"). An empty Whitelist means all symbols are
// adoptable; Blacklist always wins over Whitelist.
type AdoptionPolicy struct {
	Whitelist map[string]bool
	Blacklist map[string]bool
	MaxAge    time.Duration
	LogOnly   bool
}

// Allows reports whether symbol, opened age ago, may be adopted.
func (p AdoptionPolicy) Allows(symbol string, age time.Duration) (bool, string) {
	if p.Blacklist[symbol] {
		return false, "symbol is blacklisted from adoption"
	}
	if len(p.Whitelist) > 0 && !p.Whitelist[symbol] {
		return false, "symbol is not in the adoption whitelist"
	}
	if p.MaxAge > 0 && age > p.MaxAge {
		return false, "position age exceeds max adoption age"
	}
	return true, ""
}
