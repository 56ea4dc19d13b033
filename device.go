package envflash

// Device is the chip-specific side of the port. Each call is assumed atomic
// for a single page or word; nothing here serializes callers.
//
// Addresses are absolute and already checked by [Region].
type Device interface {
	// Unlock grants programming access. Lock revokes it and must be safe
	// to call after any failure.
	Unlock() error
	Lock() error

	// ClearStatus drops stale busy/error flags left by earlier operations.
	ClearStatus() error

	// ErasePage erases the page starting at addr.
	ErasePage(addr uint32) error

	// ProgramWord programs one word. Flash can only clear bits here.
	ProgramWord(addr, v uint32) error

	// ReadWords loads len(buf) words starting at addr.
	ReadWords(addr uint32, buf []uint32) error
}
