// Package pathutil locates and writes config files.
package pathutil

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// HomeDir returns the user's home directory.
func HomeDir() (string, error) {
	return homedir.Dir()
}

// Expand expands a leading ~ in path.
func Expand(path string) (string, error) {
	return homedir.Expand(path)
}

// EnsureDir creates the directory if it does not exist and returns its
// absolute path.
func EnsureDir(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to expand path")
	}
	if err := os.MkdirAll(absPath, 0750); err != nil {
		return "", errors.Wrap(err, "failed to create dir")
	}
	return absPath, nil
}

// AtomicWriteFile writes data to a temp file next to filename, then renames
// it over filename.
func AtomicWriteFile(filename string, data []byte) error {
	dir, name := filepath.Split(filename)
	if dir == "" {
		dir = "."
	}
	f, err := ioutil.TempFile(dir, name)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if permErr := os.Chmod(f.Name(), 0600); err == nil {
		err = permErr
	}
	if err == nil {
		err = os.Rename(f.Name(), filename)
	}

	if err != nil {
		if rmErr := os.Remove(f.Name()); rmErr != nil {
			log.WithError(rmErr).Warnf("Failed to remove file %s", f.Name())
		}
		return err
	}
	return nil
}
