//go:build !unix

package memory

func mapRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapRegion([]byte) error {
	return nil
}

func syncRegion([]byte) error {
	return nil
}
