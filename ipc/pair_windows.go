//go:build windows

package ipc

import "errors"

// Pair is unsupported on Windows: worker processes inherit their
// channel as a Unix socket pair descriptor, which has no equivalent
// here.
func Pair() (parent, child *Channel, err error) {
	return nil, nil, errors.New("ipc: channel pairs require a unix platform")
}
