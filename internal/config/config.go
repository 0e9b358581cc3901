package config

import (
	"fmt"
	"time"
)

// Tunable defaults for the serial transport. The conservative MTU and line
// length match what a stock MCUboot serial recovery build accepts; devices
// with larger buffers can be driven much faster with --mtu 4096
// --linelength 8192.
const (
	DefaultBaudRate   = 115200
	DefaultMTU        = 512
	DefaultLineLength = 128
	DefaultTimeout    = 60 * time.Second
	DefaultRetries    = 3
	DefaultSlot       = 1
)

// Verbose enables debug output when true
var Verbose bool

// Debugf prints debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}
