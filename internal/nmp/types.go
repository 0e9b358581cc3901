package nmp

// Request and response bodies for the supported commands. Field names match
// the CBOR keys the device firmware expects.

// EchoReq asks the device to echo a text payload back.
type EchoReq struct {
	D string `cbor:"d"`
}

// EchoRsp carries the echoed text.
type EchoRsp struct {
	R  string `cbor:"r"`
	Rc int    `cbor:"rc,omitempty"`
}

// ResetReq requests a device reboot. The device acknowledges before it
// resets, then drops off the bus.
type ResetReq struct{}

// ResetRsp acknowledges a reset request.
type ResetRsp struct {
	Rc int `cbor:"rc,omitempty"`
}

// ImageSlot is one device-reported flash slot entry from an image state
// response. Read-only to callers.
type ImageSlot struct {
	Image     int    `cbor:"image,omitempty"`
	Slot      int    `cbor:"slot"`
	Version   string `cbor:"version"`
	Hash      []byte `cbor:"hash,omitempty"`
	Bootable  bool   `cbor:"bootable"`
	Pending   bool   `cbor:"pending"`
	Confirmed bool   `cbor:"confirmed"`
	Active    bool   `cbor:"active"`
	Permanent bool   `cbor:"permanent"`
}

// ImageStateReq reads the current slot states. The read form carries no
// fields.
type ImageStateReq struct{}

// ImageStateWriteReq marks the image with the given hash for test boot, or
// confirms it permanently.
type ImageStateWriteReq struct {
	Hash    []byte `cbor:"hash,omitempty"`
	Confirm bool   `cbor:"confirm"`
}

// ImageStateRsp lists the slot states after a read or write.
type ImageStateRsp struct {
	Images      []ImageSlot `cbor:"images"`
	SplitStatus int         `cbor:"splitStatus,omitempty"`
	Rc          int         `cbor:"rc,omitempty"`
}

// ImageUploadReq carries one chunk of an image upload. Len and Sha are only
// present on the first chunk (offset zero); the device uses Sha to detect a
// partial upload of the same image and report the offset to resume from.
type ImageUploadReq struct {
	Image uint8  `cbor:"image"`
	Off   uint32 `cbor:"off"`
	Len   uint32 `cbor:"len,omitempty"`
	Sha   []byte `cbor:"sha,omitempty"`
	Data  []byte `cbor:"data"`
}

// ImageUploadRsp reports the next offset the device expects. The reported
// offset is authoritative: the device may accept fewer bytes than sent.
type ImageUploadRsp struct {
	Rc  int    `cbor:"rc,omitempty"`
	Off uint32 `cbor:"off"`
}

// ImageEraseReq erases the image in the given slot.
type ImageEraseReq struct {
	Slot uint8 `cbor:"slot,omitempty"`
}

// ImageEraseRsp acknowledges an erase request.
type ImageEraseRsp struct {
	Rc int `cbor:"rc,omitempty"`
}
