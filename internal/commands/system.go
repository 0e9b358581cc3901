package commands

import (
	"fmt"

	"github.com/flashtools/smpflash/internal/mgmt"
	"github.com/flashtools/smpflash/internal/ports"
)

// Echo round-trips a text payload, the cheapest connectivity check.
func Echo(client *mgmt.Client, message string) error {
	reply, err := client.Echo(message)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// Reset reboots the device.
func Reset(client *mgmt.Client) error {
	if err := client.Reset(); err != nil {
		return err
	}
	fmt.Println("Device is resetting.")
	return nil
}

// Ports lists candidate serial ports.
func Ports() error {
	candidates, err := ports.List()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}
	for _, port := range candidates {
		fmt.Println(port)
	}
	return nil
}
