package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/flashtools/smpflash/internal/config"
	"github.com/flashtools/smpflash/internal/nmp"
)

// InferSlot resolves the target slot for an upload. An explicit non-negative
// slot wins; otherwise a "slot1" or "slot3" substring anywhere in the path,
// case insensitively, picks it, falling back to the default slot.
func InferSlot(path string, explicit int) int {
	if explicit >= 0 {
		return explicit
	}
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "slot1"):
		return 1
	case strings.Contains(lower, "slot3"):
		return 3
	}
	return config.DefaultSlot
}

// PrintSlots displays device image slots in a fixed layout.
func PrintSlots(slots []nmp.ImageSlot) {
	if len(slots) == 0 {
		fmt.Println("No images on device.")
		return
	}
	for _, s := range slots {
		fmt.Printf("image %d, slot %d: %s\n", s.Image, s.Slot, s.Version)
		fmt.Printf("  hash:  %x\n", s.Hash)
		fmt.Printf("  flags: %s\n", slotFlags(s))
	}
}

func slotFlags(s nmp.ImageSlot) string {
	var flags []string
	if s.Bootable {
		flags = append(flags, "bootable")
	}
	if s.Active {
		flags = append(flags, "active")
	}
	if s.Pending {
		flags = append(flags, "pending")
	}
	if s.Confirmed {
		flags = append(flags, "confirmed")
	}
	if s.Permanent {
		flags = append(flags, "permanent")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ", ")
}

// ConfirmAction prompts the user to type 'yes' to continue.
// Returns true if confirmed, false otherwise.
func ConfirmAction(prompt string) bool {
	fmt.Print(prompt)

	reader := bufio.NewReader(os.Stdin)
	confirm, _ := reader.ReadString('\n')
	confirm = strings.TrimSpace(confirm)

	return confirm == "yes"
}
