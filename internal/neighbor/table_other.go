//go:build !linux

package neighbor

import (
	"errors"
	"runtime"
)

const (
	familyV4 = 2
	familyV6 = 10
)

func listNeighbors(int) ([]Entry, error) {
	return nil, errors.New("neighbor table not supported on " + runtime.GOOS)
}
