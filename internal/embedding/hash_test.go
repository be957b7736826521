package embedding

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"What is the Remote-Work policy?", []string{"what", "the", "remote", "work", "policy"}},
		{"a an of to", []string{}},
		{"snake_case and CamelCase", []string{"snake_case", "and", "camelcase"}},
		{"café naïve", []string{"caf"}},
		{"", []string{}},
		{"pto pto pto", []string{"pto", "pto", "pto"}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHashToken(t *testing.T) {
	tests := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"abc", 96354},
		{"remote", -934610874},
	}
	for _, tt := range tests {
		if got := HashToken(tt.in); got != tt.want {
			t.Errorf("HashToken(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		h    int32
		want int
	}{
		{96354, 354},
		{-5, 5},
		{math.MinInt32, 512},
		{0, 0},
	}
	for _, tt := range tests {
		if got := Bucket(tt.h, 768); got != tt.want {
			t.Errorf("Bucket(%d) = %d, want %d", tt.h, got, tt.want)
		}
	}
}

func TestHashEmbedder_Embed(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(0)
	if e.Dimensions() != 768 {
		t.Fatalf("Dimensions = %d, want 768", e.Dimensions())
	}

	v1, err := e.Embed(ctx, "Remote work requires manager approval")
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := e.Embed(ctx, "Remote work requires manager approval")
	if !reflect.DeepEqual(v1, v2) {
		t.Error("embedding is not deterministic")
	}
	if len(v1) != 768 {
		t.Fatalf("len = %d", len(v1))
	}
	if n := norm(v1); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", n)
	}

	empty, _ := e.Embed(ctx, "a an ?!")
	if n := norm(empty); n != 0 {
		t.Errorf("norm of token-free text = %v, want 0", n)
	}

	single, _ := e.Embed(ctx, "abc")
	if single[354] != 1 {
		t.Errorf("single-token embedding should be one-hot at bucket 354, got %v", single[354])
	}

	repeated, _ := e.Embed(ctx, "abc abc")
	if math.Abs(float64(repeated[354])-1) > 1e-6 {
		t.Errorf("repeated token should normalise to 1, got %v", repeated[354])
	}

	batch, err := e.EmbedBatch(ctx, []string{"abc", "policy"})
	if err != nil || len(batch) != 2 {
		t.Fatalf("EmbedBatch = %v, %v", batch, err)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
