// Package coreset parses CPU core lists into a fixed-width affinity set.
package coreset

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/lutaod/memhog/internal/errdefs"
)

// MaxCores is the number of distinct core ids a CoreSet can hold.
const MaxCores = 64

// CoreSet is a set of core ids below MaxCores. The zero value is the
// unbound set: workers are not pinned to any core.
type CoreSet struct {
	mask uint64
}

// Parse turns a comma-separated list of ids and inclusive "a-b" ranges
// (e.g. "1,4-5") into a CoreSet. Every id must be below online and below
// MaxCores. Any bad token rejects the whole list.
func Parse(list string, online int) (CoreSet, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return CoreSet{}, nil
	}

	// Bound every id before expanding ranges so a huge range fails fast.
	for _, token := range strings.Split(list, ",") {
		for _, bound := range strings.SplitN(token, "-", 2) {
			id, err := strconv.Atoi(bound)
			if err != nil {
				return CoreSet{}, fmt.Errorf("%w: invalid core list %q: %v", errdefs.ErrConfiguration, list, err)
			}
			if err := checkBound(id, online); err != nil {
				return CoreSet{}, err
			}
		}
	}

	parsed, err := cpuset.Parse(list)
	if err != nil {
		return CoreSet{}, fmt.Errorf("%w: invalid core list %q: %v", errdefs.ErrConfiguration, list, err)
	}

	var mask uint64
	for _, id := range parsed.List() {
		mask |= 1 << uint(id)
	}

	return CoreSet{mask: mask}, nil
}

func checkBound(id, online int) error {
	if id < 0 {
		return fmt.Errorf("%w: negative core %d", errdefs.ErrConfiguration, id)
	}
	if id >= online {
		return fmt.Errorf("%w: core %d exceeds online cores (%d)", errdefs.ErrConfiguration, id, online)
	}
	if id >= MaxCores {
		return fmt.Errorf("%w: core %d exceeds supported maximum (%d)", errdefs.ErrConfiguration, id, MaxCores-1)
	}
	return nil
}

// OnlinePath lists the cores the kernel has brought online.
const OnlinePath = "/sys/devices/system/cpu/online"

// Online returns one past the highest online core id, so that ids on a
// host with offline cores stay addressable.
func Online() (int, error) {
	return OnlineFile(OnlinePath)
}

// OnlineFile is Online reading the core list from path.
func OnlineFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read online cores: %w", err)
	}

	list := strings.TrimSpace(string(data))
	if list == "" {
		return 0, fmt.Errorf("empty online core list in %s", path)
	}

	online, err := cpuset.Parse(list)
	if err != nil {
		return 0, fmt.Errorf("failed to parse online cores %q: %w", list, err)
	}

	ids := online.List()
	return ids[len(ids)-1] + 1, nil
}

// New returns a CoreSet holding the given ids. Ids outside [0, MaxCores)
// are ignored.
func New(ids ...int) CoreSet {
	var s CoreSet
	for _, id := range ids {
		if id >= 0 && id < MaxCores {
			s.mask |= 1 << uint(id)
		}
	}
	return s
}

// IsUnbound reports whether the set is empty.
func (s CoreSet) IsUnbound() bool {
	return s.mask == 0
}

// Len returns the number of cores in the set.
func (s CoreSet) Len() int {
	return bits.OnesCount64(s.mask)
}

// Contains reports whether id is in the set.
func (s CoreSet) Contains(id int) bool {
	if id < 0 || id >= MaxCores {
		return false
	}
	return s.mask&(1<<uint(id)) != 0
}

// Cores returns the ids in ascending order.
func (s CoreSet) Cores() []int {
	cores := make([]int, 0, s.Len())
	for m := s.mask; m != 0; m &= m - 1 {
		cores = append(cores, bits.TrailingZeros64(m))
	}
	return cores
}

// Mask returns the set as a bit mask, bit i standing for core i.
func (s CoreSet) Mask() uint64 {
	return s.mask
}

// String returns the set in core-list notation, or "unbound".
func (s CoreSet) String() string {
	if s.IsUnbound() {
		return "unbound"
	}
	return cpuset.New(s.Cores()...).String()
}
