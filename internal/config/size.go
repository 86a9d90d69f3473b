package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	units "github.com/docker/go-units"

	"github.com/lutaod/memhog/internal/errdefs"
)

// ParseSize parses a decimal byte count with an optional case-insensitive
// suffix b, k, m or g (shift by 0, 10, 20 or 30 bits).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", errdefs.ErrConfiguration)
	}

	body, shift := s, uint(0)
	switch s[len(s)-1] {
	case 'b', 'B':
		body = s[:len(s)-1]
	case 'k', 'K':
		body, shift = s[:len(s)-1], 10
	case 'm', 'M':
		body, shift = s[:len(s)-1], 20
	case 'g', 'G':
		body, shift = s[:len(s)-1], 30
	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return 0, fmt.Errorf("%w: unrecognized size suffix %q", errdefs.ErrConfiguration, s[len(s)-1:])
	}

	if body == "" || strings.TrimLeft(body, "0123456789") != "" {
		return 0, fmt.Errorf("%w: invalid size %q", errdefs.ErrConfiguration, s)
	}

	n, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q: %v", errdefs.ErrConfiguration, s, err)
	}

	if n > math.MaxInt64>>shift {
		return 0, fmt.Errorf("%w: size %q overflows a 64-bit byte count", errdefs.ErrConfiguration, s)
	}

	return n << shift, nil
}

// Size is a byte count that implements flag.Value.
type Size int64

func (s *Size) String() string {
	return strconv.FormatInt(int64(*s), 10)
}

func (s *Size) Set(value string) error {
	n, err := ParseSize(value)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// Human returns the size with a binary unit, e.g. "64KiB".
func (s Size) Human() string {
	return units.BytesSize(float64(s))
}
