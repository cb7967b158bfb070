package devices

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnavailable is the base error for a requested device that does not exist or is
// not usable. Strategies wrap it with the device detail at setup time; callers test
// for it with errors.Is.
var ErrUnavailable = errors.New("device unavailable")

// Probe reports how many devices of the given kind are visible to the process.
// Zero means the kind is not available. A Probe must be read-only: it never mutates
// hardware or process-global state.
type Probe func(kind Kind) int

// CUDAVisibleDevices is the environment variable listing the visible CUDA devices,
// as a comma-separated list of device ordinals.
const CUDAVisibleDevices = "CUDA_VISIBLE_DEVICES"

// TPUVisibleChips is the environment variable with the number of addressable TPU chips.
const TPUVisibleChips = "TPU_NUM_DEVICES"

// DefaultProbe answers from the process environment: the CPU is always available
// (one logical device, however many cores runtime.NumCPU reports), CUDA visibility
// comes from CUDA_VISIBLE_DEVICES and TPU visibility from TPU_NUM_DEVICES.
func DefaultProbe(kind Kind) int {
	switch kind {
	case CPU:
		// The host counts as one execution unit regardless of core count.
		return 1
	case CUDA:
		return countFromList(os.Getenv(CUDAVisibleDevices))
	case TPU:
		return countFromValue(os.Getenv(TPUVisibleChips))
	}
	return 0
}

// FixedProbe returns a Probe with a hard-wired count per kind, for tests and for
// orchestrators that already know the topology. Kinds not listed report zero.
func FixedProbe(counts map[Kind]int) Probe {
	return func(kind Kind) int {
		return counts[kind]
	}
}

// Check verifies the device is usable under the given probe: its kind must report at
// least one visible device, and its index (if selected) must be within the visible
// range. It returns an error wrapping ErrUnavailable otherwise.
func Check(device Device, probe Probe) error {
	if probe == nil {
		probe = DefaultProbe
	}
	visible := probe(device.Kind)
	if visible <= 0 {
		return errors.Wrapf(ErrUnavailable, "no %s devices are visible", device.Kind)
	}
	if device.Index.HasValue() && device.Index.Value() >= visible {
		return errors.Wrapf(ErrUnavailable, "device %s requested but only %d %s device(s) visible",
			device, visible, device.Kind)
	}
	return nil
}

func countFromList(list string) int {
	list = strings.TrimSpace(list)
	if list == "" {
		return 0
	}
	return len(strings.Split(list, ","))
}

func countFromValue(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	count := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0
		}
		count = count*10 + int(r-'0')
	}
	return count
}
