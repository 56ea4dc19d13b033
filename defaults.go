package envflash

import "fmt"

// Entry is one environment variable.
type Entry struct {
	Key   string
	Value string
}

func (e Entry) String() string { return e.Key + "=" + e.Value }

// defaultEntries seeds an empty or corrupted partition.
var defaultEntries = []Entry{
	{"iap_need_copy_app", "0"},
	{"iap_copy_app_size", "0"},
	{"stop_in_bootloader", "0"},
	{"device_id", "1"},
	{"boot_times", "0"},
}

// DefaultEntries returns a copy of the built-in default set.
func DefaultEntries() []Entry {
	return append([]Entry(nil), defaultEntries...)
}

func validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty default set", ErrGeometry)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return fmt.Errorf("%w: default entry with empty key", ErrGeometry)
		}
		if _, dup := seen[e.Key]; dup {
			return fmt.Errorf("%w: duplicate default key %q", ErrGeometry, e.Key)
		}
		seen[e.Key] = struct{}{}
	}
	return nil
}
