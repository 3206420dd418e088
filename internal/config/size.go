package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ByteSize is a byte count that decodes from "52428800", "50MiB" or "50MB".
type ByteSize int64

// Binary and decimal size units.
const (
	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
	KB  ByteSize = 1000
	MB  ByteSize = 1000 * KB
	GB  ByteSize = 1000 * MB
)

var units = []struct {
	suffix string
	mult   ByteSize
}{
	// Longer suffixes first so "MiB" is not read as "B".
	{"kib", KiB}, {"mib", MiB}, {"gib", GiB},
	{"kb", KB}, {"mb", MB}, {"gb", GB},
	{"b", 1},
}

// ParseByteSize parses a size with an optional unit suffix.
func ParseByteSize(s string) (ByteSize, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := ByteSize(1)
	for _, u := range units {
		if num, ok := strings.CutSuffix(in, u.suffix); ok {
			in, mult = strings.TrimSpace(num), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(in, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(n) * mult, nil
}

// StringToByteSize is a DecodeHookFunc that converts a string to ByteSize.
func StringToByteSize() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}
