package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// NewRand returns the deterministic generator used for splitting, shuffling
// and weight initialisation.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x5eed))
}

// StratifiedSplit partitions sample indices into train and test sets that
// preserve the class proportions of labels.
//
// The test set holds ceil(testSize*n) samples. Every class needs at least
// two members and both sides must be able to hold one sample per class.
// Per-class train counts are allocated proportionally, remainders going to
// the classes with the largest fractional share (lowest class index on ties),
// and each class's leftovers form its test share. Both returned slices are
// shuffled.
func StratifiedSplit(labels []int, testSize float64, seed int64) (train, test []int, err error) {
	n := len(labels)
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %v must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest

	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	for _, c := range classes {
		if len(byClass[c]) < 2 {
			return nil, nil, fmt.Errorf("class %d has %d member(s); stratified split needs at least 2", c, len(byClass[c]))
		}
	}
	if nTrain < len(classes) {
		return nil, nil, fmt.Errorf("train size %d is smaller than the number of classes %d", nTrain, len(classes))
	}
	if nTest < len(classes) {
		return nil, nil, fmt.Errorf("test size %d is smaller than the number of classes %d", nTest, len(classes))
	}

	counts := make([]int, len(classes))
	for i, c := range classes {
		counts[i] = len(byClass[c])
	}
	trainCounts := allocate(counts, nTrain)

	rng := NewRand(seed)
	for i, c := range classes {
		members := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		train = append(train, members[:trainCounts[i]]...)
		test = append(test, members[trainCounts[i]:]...)
	}
	rng.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	rng.Shuffle(len(test), func(a, b int) { test[a], test[b] = test[b], test[a] })
	return train, test, nil
}

// allocate splits total across buckets proportionally to counts using
// largest-remainder rounding. The result never exceeds counts.
func allocate(counts []int, total int) []int {
	sum := 0
	for _, c := range counts {
		sum += c
	}
	out := make([]int, len(counts))
	if sum == 0 {
		return out
	}

	type share struct {
		idx  int
		frac float64
	}
	shares := make([]share, len(counts))
	assigned := 0
	for i, c := range counts {
		exact := float64(c) * float64(total) / float64(sum)
		out[i] = int(math.Floor(exact))
		assigned += out[i]
		shares[i] = share{idx: i, frac: exact - float64(out[i])}
	}
	sort.SliceStable(shares, func(a, b int) bool { return shares[a].frac > shares[b].frac })
	for k := 0; assigned < total && k < len(shares); k++ {
		i := shares[k].idx
		if out[i] < counts[i] {
			out[i]++
			assigned++
		}
	}
	return out
}

// Fold is one train/validation partition of a k-fold split.
type Fold struct {
	Train      []int
	Validation []int
}

// KFold splits n indices into k folds. With shuffle the indices are permuted
// by a generator seeded with seed before being cut into k contiguous runs;
// the first n%k folds get one extra element. Train and validation indices are
// returned in ascending order.
func KFold(n, k int, shuffle bool, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k-fold needs at least 2 splits, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", n, k)
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if shuffle {
		rng := NewRand(seed)
		rng.Shuffle(n, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
	}

	folds := make([]Fold, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		inVal := make([]bool, n)
		for _, idx := range perm[start : start+size] {
			inVal[idx] = true
		}
		var fold Fold
		for i := 0; i < n; i++ {
			if inVal[i] {
				fold.Validation = append(fold.Validation, i)
			} else {
				fold.Train = append(fold.Train, i)
			}
		}
		folds = append(folds, fold)
		start += size
	}
	return folds, nil
}
