// Package bytesize is a config-friendly byte count that reads and writes
// human-readable sizes such as "64MiB", "512Mi", "100MB" or plain numbers.
package bytesize

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes.
type ByteSize uint64

const (
	B   ByteSize = 1
	KB  ByteSize = humanize.KByte
	MB  ByteSize = humanize.MByte
	GB  ByteSize = humanize.GByte
	KiB ByteSize = humanize.KiByte
	MiB ByteSize = humanize.MiByte
	GiB ByteSize = humanize.GiByte
)

// Parse reads a human-readable size. Binary suffixes (Ki, MiB) are
// multiples of 1024, decimal ones (K, MB) multiples of 1000.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler, so saved configs keep the
// readable form.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String renders the size with binary units, e.g. "64 MiB".
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Int64 clamps the size to the int64 range.
func (b ByteSize) Int64() int64 {
	if uint64(b) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}
