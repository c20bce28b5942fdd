package store

import (
	"testing"

	"github.com/cadencehq/cadence/internal/models"
)

// COLLATE in postfix position after an IN list parses but leaves the
// comparison case-sensitive; the collation has to precede IN.
func TestLowerSegmentInIsCaseInsensitive(t *testing.T) {
	n := &models.SegmentNode{Cond: &models.SegmentCondition{
		Field: models.SegFieldStatus,
		Op:    models.SegOpIn,
		Value: []any{"Active", "Paused"},
	}}

	sql, args, err := lowerSegment(n)
	if err != nil {
		t.Fatalf("lowerSegment: %v", err)
	}
	if want := "status COLLATE NOCASE IN (?,?)"; sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if len(args) != 2 || args[0] != "Active" || args[1] != "Paused" {
		t.Fatalf("args = %v", args)
	}
}

func TestLowerSegmentEmptyInMatchesNothing(t *testing.T) {
	n := &models.SegmentNode{Cond: &models.SegmentCondition{
		Field: models.SegFieldStatus,
		Op:    models.SegOpIn,
		Value: []any{},
	}}

	sql, args, err := lowerSegment(n)
	if err != nil {
		t.Fatalf("lowerSegment: %v", err)
	}
	if sql != "0 = 1" || len(args) != 0 {
		t.Fatalf("sql = %q args = %v", sql, args)
	}
}
