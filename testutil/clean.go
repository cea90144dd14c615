package testutil

import (
	"os"
	"path/filepath"
)

// CleanDir empties the directory named by dirname, keeping the entries
// named by keeps. A missing directory is not an error.
func CleanDir(dirname string, keeps []string) error {
	d, err := os.Open(dirname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names, err := d.Readdirnames(-1)
	d.Close()
	if err != nil {
		return err
	}

	keep := map[string]struct{}{}
	for _, k := range keeps {
		keep[k] = struct{}{}
	}

	for _, n := range names {
		if _, found := keep[n]; found {
			continue
		}
		err = os.RemoveAll(filepath.Join(dirname, n))
		if err != nil {
			return err
		}
	}
	return nil
}
