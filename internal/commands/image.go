package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/flashtools/smpflash/internal/mgmt"
	"github.com/flashtools/smpflash/internal/tui"
	"github.com/flashtools/smpflash/internal/uploader"
)

// List shows the device's image slots.
func List(client *mgmt.Client) error {
	slots, err := client.List()
	if err != nil {
		return err
	}
	PrintSlots(slots)
	return nil
}

// Upload flashes an image file into a slot, showing a progress bar unless
// plain output was requested. Interrupting leaves the device's partial
// image in place for a later resume.
func Upload(client *mgmt.Client, path string, slot, retries int, plain bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	fmt.Printf("Uploading %s (%d bytes) to slot %d\n", path, len(data), slot)
	start := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	run := func(ctx context.Context, report func(uploader.Progress)) error {
		u := uploader.New(client, data, uint8(slot),
			uploader.WithMTU(client.Session().MTU()),
			uploader.WithRetries(retries),
			uploader.WithProgress(report))
		return u.Run(ctx)
	}

	if plain {
		err = run(ctx, nil)
	} else {
		err = tui.RunUpload(ctx, uint32(len(data)), run)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Upload complete in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// Test marks the image in a slot for a one-shot test boot on next reset.
func Test(client *mgmt.Client, slot int) error {
	slots, err := client.TestImage(slot)
	if err != nil {
		return err
	}
	fmt.Printf("Slot %d marked for test boot. Reset the device to try it.\n", slot)
	PrintSlots(slots)
	return nil
}

// Confirm makes the image in a slot permanent.
func Confirm(client *mgmt.Client, slot int) error {
	slots, err := client.ConfirmImage(slot)
	if err != nil {
		return err
	}
	fmt.Printf("Slot %d confirmed.\n", slot)
	PrintSlots(slots)
	return nil
}

// Erase wipes the image in a slot after an interactive confirmation.
func Erase(client *mgmt.Client, slot int, force bool) error {
	if !force && !ConfirmAction(fmt.Sprintf("Erase slot %d? Type 'yes' to continue: ", slot)) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := client.Erase(uint8(slot)); err != nil {
		return err
	}
	fmt.Printf("Slot %d erased.\n", slot)
	return nil
}
