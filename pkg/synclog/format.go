package synclog

import (
	"fmt"

	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// Format is the compression applied to archived action logs.
type Format string

const (
	Zstd Format = "zst"
	Gzip Format = "gz"
)

var formatToString = map[Format]string{
	Zstd: "zst",
	Gzip: "gz",
}

var stringToFormat map[string]Format

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_archive_format(%s)", string(f))
}

// Ext returns the archive file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormat parses "zst" or "gz".
func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid archive format: %q. Must be 'zst' or 'gz'", s)
}
