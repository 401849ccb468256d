package store

import (
	"errors"
	"fmt"
	"testing"

	"civicvoice/internal/model"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func TestTranslateMongo(t *testing.T) {
	if err := translateMongo(fmt.Errorf("find: %w", mongo.ErrNoDocuments)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	if err := translateMongo(dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	other := errors.New("boom")
	if err := translateMongo(other); err != other {
		t.Fatalf("expected passthrough, got %v", err)
	}
}

func TestFeedbackQuery(t *testing.T) {
	q := feedbackQuery(FeedbackFilter{Status: model.StatusResolved, Region: "north"})
	if len(q) != 2 {
		t.Fatalf("expected 2 conditions, got %v", q)
	}
	if q["status"] != model.StatusResolved || q["region"] != "north" {
		t.Fatalf("unexpected query %v", q)
	}
	if len(feedbackQuery(FeedbackFilter{})) != 0 {
		t.Fatalf("expected empty query")
	}
}
