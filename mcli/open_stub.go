//go:build !libmcli || !cgo
// +build !libmcli !cgo

package mcli

// Open returns the libmcli binding. This build does not include it.
func Open() (Library, error) {
	return nil, ErrUnavailable
}
