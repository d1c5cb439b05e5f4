package pipeline

import (
	"errors"
	"fmt"
)

// ErrTooFewGroups reports that the dataset has fewer distinct grid groups
// than requested folds.
var ErrTooFewGroups = errors.New("fewer distinct groups than folds")

// Fold is one outer cross-validation partition: disjoint train and
// validation row indices into the sampled table.
type Fold struct {
	Train []int
	Val   []int
}

// GroupKFold partitions row indices into k folds such that all rows sharing
// a group land in the same fold's validation set. Groups are assigned to
// folds round-robin in order of first appearance, so the partition is a
// pure function of the input ordering.
func GroupKFold(groups []string, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("fold count %d: need at least 2", k)
	}

	assign := make(map[string]int)
	distinct := 0
	for _, g := range groups {
		if _, ok := assign[g]; !ok {
			assign[g] = distinct % k
			distinct++
		}
	}
	if distinct < k {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewGroups, distinct, k)
	}

	folds := make([]Fold, k)
	for i, g := range groups {
		f := assign[g]
		folds[f].Val = append(folds[f].Val, i)
		for j := range folds {
			if j != f {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds, nil
}
