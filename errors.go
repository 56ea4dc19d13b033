package envflash

import (
	"errors"
	"fmt"
)

var (
	// ErrErase reports that a page erase failed.
	ErrErase = errors.New("flash erase failed")
	// ErrWriteVerify reports that a programmed word did not read back.
	ErrWriteVerify = errors.New("flash write verify failed")

	ErrMisaligned = errors.New("size is not word aligned")
	ErrGeometry   = errors.New("invalid flash geometry")
	ErrAddress    = errors.New("address outside mapped flash")
	ErrLocked     = errors.New("flash is locked")
)

// EraseError is returned by Port.Erase. Pages before Addr stay erased.
type EraseError struct {
	Addr   uint32 // page that failed
	Erased int    // pages erased before it
	Err    error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase page 0x%08X (after %d pages): %v", e.Addr, e.Erased, e.Err)
}

func (e *EraseError) Is(target error) bool { return target == ErrErase }
func (e *EraseError) Unwrap() error        { return e.Err }

// WriteError is returned by Port.Write. Words before Addr stay programmed.
// Err is nil for a plain read-back mismatch.
type WriteError struct {
	Addr    uint32
	Want    uint32
	Got     uint32
	Written int // words programmed and verified before Addr
	Err     error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("write 0x%08X at 0x%08X (after %d words): %v", e.Want, e.Addr, e.Written, e.Err)
	}
	return fmt.Sprintf("write 0x%08X at 0x%08X (after %d words): read back 0x%08X",
		e.Want, e.Addr, e.Written, e.Got)
}

func (e *WriteError) Is(target error) bool { return target == ErrWriteVerify }
func (e *WriteError) Unwrap() error        { return e.Err }
