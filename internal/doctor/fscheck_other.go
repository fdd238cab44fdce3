//go:build !linux

package doctor

import "errors"

func detectFilesystem(string) (filesystem, error) {
	return filesystem{}, errors.New("filesystem detection is unsupported on this platform")
}
