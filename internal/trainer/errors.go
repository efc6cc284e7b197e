package trainer

import "errors"

type datasetError struct {
	reason string
}

func (e *datasetError) Error() string { return "invalid training dataset: " + e.reason }

// IsDataset reports whether err means the training images failed
// validation before any training started.
func IsDataset(err error) bool {
	var e *datasetError
	return errors.As(err, &e)
}
