package domain

import "time"

const (
	DefaultCategoryColor = "#6366f1"

	DraftSaveDelay      = time.Second
	ExpiryCheckInterval = time.Minute
	DefaultHistoryLimit = 50
)

// CategoryColorPalette lists the colors offered for new columns.
var CategoryColorPalette = []string{
	"#6366f1",
	"#8b5cf6",
	"#ec4899",
	"#f43f5e",
	"#ef4444",
	"#f97316",
	"#f59e0b",
	"#eab308",
	"#84cc16",
	"#22c55e",
	"#10b981",
	"#14b8a6",
}

// DefaultPriorities are shown to users that have not stored any priorities.
func DefaultPriorities() []Priority {
	return []Priority{
		{ID: "low", Label: "Low", Color: "#94a3b8", Level: PriorityLow, Order: 0},
		{ID: "medium", Label: "Medium", Color: "#fbbf24", Level: PriorityMedium, Order: 1},
		{ID: "high", Label: "High", Color: "#f97316", Level: PriorityHigh, Order: 2},
		{ID: "urgent", Label: "Urgent", Color: "#ef4444", Level: PriorityUrgent, Order: 3},
	}
}
