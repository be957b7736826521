package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kbcopilot/internal/models"
)

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()

	ctx := context.Background()
	doc := &models.Document{
		ID:       "policies",
		Title:    "Company Policies & Guidelines",
		Content:  "Employees accrue PTO monthly. Remote work requires manager approval.",
		Source:   "company-policies.md",
		Category: "policy",
	}
	if err := idx.Index(ctx, doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index(ctx, &models.Document{ID: "faq", Title: "TechFlow Product FAQ", Content: "Single sign-on is available."}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "pto", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "policies" {
		t.Fatalf("unexpected results for pto: %+v", results)
	}

	results, err = idx.Search(ctx, "techflow", 10, &SearchOptions{TitleBoost: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "faq" {
		t.Fatalf("expected title hit for techflow, got %+v", results)
	}

	count, err := idx.DocCount()
	if err != nil || count != 2 {
		t.Errorf("DocCount = %d, %v", count, err)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	if err := idx.Index(ctx, &models.Document{ID: "sec", Title: "Security Guidelines", Content: "Use a password manager."}); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search(ctx, "pasword", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("exact search should not match a typo, got %+v", results)
	}
	results, err = idx.Search(ctx, "pasword", 10, &SearchOptions{Fuzziness: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "sec" {
		t.Errorf("fuzzy search should match, got %+v", results)
	}
}

func TestBleveIndex_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, &models.Document{ID: "a", Title: "Onboarding", Content: "Welcome aboard"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Index(ctx, &models.Document{ID: "b", Title: "Security", Content: "Welcome to security"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	results, err := reopened.Search(ctx, "welcome", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("expected only b after delete, got %+v", results)
	}
}
