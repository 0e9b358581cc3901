// Package ports discovers candidate serial devices for the flasher.
package ports

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.bug.st/serial"

	"github.com/flashtools/smpflash/internal/config"
)

// ErrNoPorts reports that no usable serial port was found.
var ErrNoPorts = errors.New("no serial ports found")

// List returns the system's serial ports, filtered to the ones a device in
// bootloader or application mode would plausibly show up as.
func List() ([]string, error) {
	all, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}
	var candidates []string
	for _, port := range all {
		if isCandidate(port) {
			candidates = append(candidates, port)
		}
	}
	config.Debugf("serial ports: %d total, %d candidates", len(all), len(candidates))
	return candidates, nil
}

// Detect picks the port to use when none was given on the command line. It
// succeeds only when exactly one candidate exists; anything else needs an
// explicit --device.
func Detect() (string, error) {
	candidates, err := List()
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoPorts
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("multiple serial ports found, pick one with --device: %s",
			strings.Join(candidates, ", "))
	}
}

func isCandidate(port string) bool {
	return candidateFor(runtime.GOOS, port)
}

// candidateFor filters out ports a USB CDC-ACM device never appears as. On
// macOS the callout cu.* node is usable without asserting carrier detect,
// unlike its tty.* twin.
func candidateFor(goos, port string) bool {
	switch goos {
	case "darwin":
		return strings.Contains(port, "cu.usbmodem") || strings.Contains(port, "cu.usbserial")
	case "linux":
		return strings.Contains(port, "ttyACM") || strings.Contains(port, "ttyUSB")
	default:
		return true
	}
}
