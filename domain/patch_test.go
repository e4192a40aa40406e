package domain

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskUpdateDecodeDistinguishesNullFromAbsent(t *testing.T) {
	var upd TaskUpdate
	if err := sonic.Unmarshal([]byte(`{"title":"New","expiryDate":null}`), &upd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !upd.Title.Set || upd.Title.Value != "New" {
		t.Fatalf("unexpected title patch: %#v", upd.Title)
	}
	if !upd.ExpiryDate.Set || upd.ExpiryDate.Value != nil {
		t.Fatalf("expected expiry to be cleared: %#v", upd.ExpiryDate)
	}
	if upd.Description.Set || upd.Draft.Set || upd.Order.Set {
		t.Fatalf("absent fields must stay unset: %#v", upd)
	}
}

func TestTaskUpdateApply(t *testing.T) {
	exp := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	task := Task{ID: "t1", Title: "Old", ExpiryDate: &exp, Draft: &TaskDraft{Title: "x"}}
	upd := TaskUpdate{
		Title:      Set("New"),
		ExpiryDate: Set[*time.Time](nil),
		Draft:      Set[*TaskDraft](nil),
	}
	upd.Apply(&task)
	if task.Title != "New" || task.ExpiryDate != nil || task.Draft != nil {
		t.Fatalf("unexpected task after apply: %#v", task)
	}
	if (TaskUpdate{}).Empty() != true || upd.Empty() {
		t.Fatalf("unexpected Empty result")
	}
}

func TestHistoryActionClassification(t *testing.T) {
	entry := NewHistoryEntry(ActionCategoryMoved, "a,b")
	if entry.Type != HistoryBoard || entry.EntityType != EntityCategory {
		t.Fatalf("unexpected classification: %#v", entry)
	}
	entry = NewHistoryEntry(ActionPriorityChanged, "t1")
	if entry.Type != HistoryCard || entry.EntityType != EntityTask {
		t.Fatalf("unexpected classification: %#v", entry)
	}

	data, err := sonic.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back HistoryEntry
	if err := sonic.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != HistoryCard {
		t.Fatalf("history type did not survive encoding: %v", back.Type)
	}
}
