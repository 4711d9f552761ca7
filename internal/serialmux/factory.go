package serialmux

import (
	"errors"
	"fmt"

	"github.com/banshee-data/autobrake/internal/monitoring"
)

// NewRealSerialMux creates a SerialMux named name backed by the serial port at
// path.
func NewRealSerialMux(name, path string, opts PortOptions, open Opener) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewSerialMux[SerialPorter](name, port), nil
}

// OpenFirst tries each path in order and returns a mux on the first one that
// opens, together with the path used. Empty and repeated paths are skipped.
// When every path fails the joined errors are returned.
func OpenFirst(name string, paths []string, opts PortOptions, open Opener) (*SerialMux[SerialPorter], string, error) {
	seen := make(map[string]bool, len(paths))
	var errs []error
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		m, err := NewRealSerialMux(name, path, opts, open)
		if err == nil {
			return m, path, nil
		}
		monitoring.Logf("%s: %v", name, err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%s: no serial ports configured", name)
	}
	return nil, "", fmt.Errorf("%s: all ports failed: %w", name, errors.Join(errs...))
}
