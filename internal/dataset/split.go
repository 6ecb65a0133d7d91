package dataset

import "fmt"

// ChronoSplit splits a frame into a leading train part and a trailing test
// part by row fraction, never shuffling. trainFrac must leave at least one
// row on each side.
func ChronoSplit(f *Frame, trainFrac float64) (train, test *Frame, err error) {
	if trainFrac <= 0 || trainFrac >= 1 {
		return nil, nil, fmt.Errorf("chrono split: train fraction must be in (0,1), got %g", trainFrac)
	}
	n := f.Len()
	cut := int(float64(n) * trainFrac)
	if cut < 1 || cut >= n {
		return nil, nil, &InsufficientDataError{
			Context: fmt.Sprintf("chrono split at %.0f%%", trainFrac*100),
			Rows:    n,
			Min:     2,
		}
	}
	return f.Slice(0, cut), f.Slice(cut, n), nil
}
