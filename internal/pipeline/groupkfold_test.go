package pipeline

import (
	"errors"
	"strconv"
	"testing"
)

func TestGroupKFoldPartition(t *testing.T) {
	// 12 groups, 3 rows each.
	var groups []string
	for g := 0; g < 12; g++ {
		for r := 0; r < 3; r++ {
			groups = append(groups, "g"+strconv.Itoa(g))
		}
	}

	folds, err := GroupKFold(groups, 4)
	if err != nil {
		t.Fatalf("GroupKFold: %v", err)
	}
	if len(folds) != 4 {
		t.Fatalf("len(folds) = %d, want 4", len(folds))
	}

	seen := make(map[int]int)
	for fi, fold := range folds {
		valGroups := make(map[string]bool)
		for _, i := range fold.Val {
			seen[i]++
			valGroups[groups[i]] = true
		}
		trainGroups := make(map[string]bool)
		for _, i := range fold.Train {
			trainGroups[groups[i]] = true
		}
		for g := range valGroups {
			if trainGroups[g] {
				t.Errorf("fold %d: group %s in both train and validation", fi, g)
			}
		}
		if len(fold.Train)+len(fold.Val) != len(groups) {
			t.Errorf("fold %d: train+val = %d, want %d", fi, len(fold.Train)+len(fold.Val), len(groups))
		}
	}

	// Every row appears in exactly one validation set.
	if len(seen) != len(groups) {
		t.Fatalf("validation union covers %d rows, want %d", len(seen), len(groups))
	}
	for i, n := range seen {
		if n != 1 {
			t.Errorf("row %d in %d validation sets, want 1", i, n)
		}
	}
}

func TestGroupKFoldOneGroupPerFold(t *testing.T) {
	var groups []string
	for g := 0; g < 10; g++ {
		for r := 0; r < 5; r++ {
			groups = append(groups, "g"+strconv.Itoa(g))
		}
	}

	folds, err := GroupKFold(groups, 10)
	if err != nil {
		t.Fatalf("GroupKFold: %v", err)
	}
	for fi, fold := range folds {
		valGroups := make(map[string]bool)
		for _, i := range fold.Val {
			valGroups[groups[i]] = true
		}
		if len(valGroups) != 1 {
			t.Errorf("fold %d: %d validation groups, want 1", fi, len(valGroups))
		}
		trainGroups := make(map[string]bool)
		for _, i := range fold.Train {
			trainGroups[groups[i]] = true
		}
		if len(trainGroups) != 9 {
			t.Errorf("fold %d: %d train groups, want 9", fi, len(trainGroups))
		}
	}
}

func TestGroupKFoldTooFewGroups(t *testing.T) {
	groups := []string{"a", "a", "b", "b", "c"}
	_, err := GroupKFold(groups, 10)
	if !errors.Is(err, ErrTooFewGroups) {
		t.Fatalf("GroupKFold error = %v, want ErrTooFewGroups", err)
	}
}

func TestGroupKFoldBadFoldCount(t *testing.T) {
	if _, err := GroupKFold([]string{"a", "b"}, 1); err == nil {
		t.Error("k=1: expected error")
	}
}

func TestGroupKFoldFirstAppearanceOrder(t *testing.T) {
	// Assignment must depend only on first-appearance order: group "b"
	// first seen second goes to fold 1 regardless of later repetitions.
	groups := []string{"a", "b", "a", "c", "b", "d"}
	folds, err := GroupKFold(groups, 2)
	if err != nil {
		t.Fatalf("GroupKFold: %v", err)
	}

	// a -> fold 0, b -> fold 1, c -> fold 0, d -> fold 1.
	wantVal0 := []int{0, 2, 3}
	if len(folds[0].Val) != len(wantVal0) {
		t.Fatalf("fold 0 val = %v, want %v", folds[0].Val, wantVal0)
	}
	for i, idx := range wantVal0 {
		if folds[0].Val[i] != idx {
			t.Errorf("fold 0 val[%d] = %d, want %d", i, folds[0].Val[i], idx)
		}
	}
}
