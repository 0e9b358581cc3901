package commands

import (
	"testing"

	"github.com/flashtools/smpflash/internal/nmp"
)

func TestInferSlot(t *testing.T) {
	tests := []struct {
		path     string
		explicit int
		want     int
	}{
		{"firmware_slot1.bin", -1, 1},
		{"firmware_slot3.bin", -1, 3},
		{"/builds/out/app-slot3-v2.bin", -1, 3},
		{"firmware.bin", -1, 1},
		{"firmware_slot3.bin", 1, 1},
		{"firmware_slot1.bin", 3, 3},
		{"firmware.bin", 0, 0},
		{"/builds/slot3/app.bin", -1, 3},
		{"APP_SLOT3.BIN", -1, 3},
		{"Firmware_Slot1.bin", -1, 1},
	}
	for _, tt := range tests {
		if got := InferSlot(tt.path, tt.explicit); got != tt.want {
			t.Errorf("InferSlot(%q, %d) = %d, want %d", tt.path, tt.explicit, got, tt.want)
		}
	}
}

func TestSlotFlags(t *testing.T) {
	s := nmp.ImageSlot{Bootable: true, Active: true}
	if got := slotFlags(s); got != "bootable, active" {
		t.Errorf("slotFlags = %q", got)
	}
	if got := slotFlags(nmp.ImageSlot{}); got != "none" {
		t.Errorf("slotFlags(empty) = %q", got)
	}
}
