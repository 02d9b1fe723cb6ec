package models

// StockInfo is a read-only snapshot of one duration class.
// At quiescent points Available + InUse == Total.
type StockInfo struct {
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Total     int `json:"total"`
}

// InventoryScope selects what Fetch reports.
type InventoryScope string

const (
	ScopeAll   InventoryScope = "all"
	ScopeOne   InventoryScope = "1"
	ScopeThree InventoryScope = "3"
	ScopeInUse InventoryScope = "in_use"
)

// ParseInventoryScope validates a scope string.
func ParseInventoryScope(s string) (InventoryScope, bool) {
	switch InventoryScope(s) {
	case ScopeAll, ScopeOne, ScopeThree, ScopeInUse:
		return InventoryScope(s), true
	}
	return "", false
}

// ClassInventory lists one class's at-rest and checked-out entries.
type ClassInventory struct {
	Available      map[string]string `json:"available"` // normalized secret -> stored line
	AvailableCount int               `json:"available_count"`
	InUse          []string          `json:"in_use"`
	InUseCount     int               `json:"in_use_count"`
	Total          int               `json:"total"`
}

// InventoryTotals sums both classes for the "all" scope.
type InventoryTotals struct {
	Available  int `json:"available"`
	InUse      int `json:"in_use"`
	GrandTotal int `json:"grand_total"`
}

// InventorySnapshot is the result of a Fetch.
type InventorySnapshot struct {
	Scope   InventoryScope                   `json:"scope"`
	Classes map[DurationClass]ClassInventory `json:"classes"`
	Totals  *InventoryTotals                 `json:"totals,omitempty"`
}

// FilterResult reports what a Filter kept and dropped.
type FilterResult struct {
	Kept    int      `json:"kept"`
	Removed int      `json:"removed"`
	Dropped []string `json:"tokens_removed"`
}
