package cli

import (
	"fmt"
	"time"

	"github.com/flashtools/smpflash/internal/commands"
	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/mgmt"
	"github.com/flashtools/smpflash/internal/ports"
	"github.com/flashtools/smpflash/internal/transport"
)

// CLI is the root command structure for smpflash.
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose debug output"`

	Device     string        `short:"d" help:"Serial device path ('test' targets the built-in simulated device; auto-detected when omitted)"`
	Baudrate   int           `default:"115200" help:"Serial baud rate"`
	Mtu        int           `default:"512" help:"Maximum encoded request size"`
	Linelength int           `default:"128" help:"Maximum line length on the serial wire"`
	Timeout    time.Duration `default:"60s" help:"Per-exchange response timeout"`
	Retries    int           `default:"3" help:"Retry budget per exchange and per upload chunk"`

	List    ListCmd    `cmd:"" help:"List image slots on the device"`
	Upload  UploadCmd  `cmd:"" help:"Upload a firmware image to a slot"`
	Test    TestCmd    `cmd:"" help:"Mark a slot for a test boot on next reset"`
	Confirm ConfirmCmd `cmd:"" help:"Make the image in a slot permanent"`
	Erase   EraseCmd   `cmd:"" help:"Erase the image in a slot"`
	Echo    EchoCmd    `cmd:"" help:"Echo text off the device"`
	Reset   ResetCmd   `cmd:"" help:"Reboot the device"`
	Ports   PortsCmd   `cmd:"" help:"List candidate serial ports"`
}

// connect applies the globals and opens a management session.
func (g *CLI) connect() (*mgmt.Client, error) {
	config.Verbose = g.Verbose

	device := g.Device
	if device == "" {
		var err error
		device, err = ports.Detect()
		if err != nil {
			return nil, err
		}
		fmt.Printf("Using serial port %s\n", device)
	}

	session, err := transport.Open(device,
		transport.WithBaudRate(g.Baudrate),
		transport.WithMTU(g.Mtu),
		transport.WithLineLength(g.Linelength),
		transport.WithTimeout(g.Timeout),
		transport.WithRetries(g.Retries),
	)
	if err != nil {
		return nil, err
	}
	return mgmt.NewClient(session), nil
}

type ListCmd struct{}

func (c *ListCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.List(client)
}

type UploadCmd struct {
	File  string `arg:"" help:"Firmware image file"`
	Slot  int    `short:"s" default:"-1" help:"Target slot (inferred from a slot1/slot3 filename when omitted, else 1)"`
	Plain bool   `help:"Plain output without the progress bar"`
}

func (c *UploadCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()

	slot := commands.InferSlot(c.File, c.Slot)
	return commands.Upload(client, c.File, slot, globals.Retries, c.Plain)
}

type TestCmd struct {
	Slot int `arg:"" optional:"" default:"1" help:"Slot to test boot (default 1, the freshly uploaded image)"`
}

func (c *TestCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.Test(client, c.Slot)
}

type ConfirmCmd struct {
	Slot int `arg:"" optional:"" default:"0" help:"Slot to confirm (default 0, the running image after a successful test boot)"`
}

func (c *ConfirmCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.Confirm(client, c.Slot)
}

type EraseCmd struct {
	Slot  int  `arg:"" optional:"" default:"1" help:"Slot to erase"`
	Force bool `short:"f" help:"Skip the confirmation prompt"`
}

func (c *EraseCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.Erase(client, c.Slot, c.Force)
}

type EchoCmd struct {
	Message string `arg:"" help:"Text to echo"`
}

func (c *EchoCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.Echo(client, c.Message)
}

type ResetCmd struct{}

func (c *ResetCmd) Run(globals *CLI) error {
	client, err := globals.connect()
	if err != nil {
		return err
	}
	defer client.Session().Close()
	return commands.Reset(client)
}

type PortsCmd struct{}

func (c *PortsCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	return commands.Ports()
}
