package domain

// Collection names one per-owner collection that can be subscribed to.
type Collection string

const (
	CollectionCategories Collection = "categories"
	CollectionTasks      Collection = "tasks"
	CollectionPriorities Collection = "priorities"
	CollectionHistory    Collection = "history"
)

// Collections lists every subscribable collection in snapshot order.
var Collections = []Collection{CollectionCategories, CollectionTasks, CollectionPriorities, CollectionHistory}

// Change is published whenever a collection of a user was written.
type Change struct {
	UserID     string     `json:"userId"`
	Collection Collection `json:"collection"`
}
