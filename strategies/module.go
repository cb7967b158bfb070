package strategies

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/gradflow/gradflow/devices"
	"github.com/gradflow/gradflow/tensors"
)

// HostModule is a reference Module implementation: a named collection of
// parameter tensors whose storage stays on the host, tracking which device they
// are logically resident on. Runtime-backed modules transfer real device
// buffers; HostModule only bookkeeps placement, which is what the strategies,
// their tests and the diagnostic tooling need.
type HostModule struct {
	name   string
	device devices.Device
	params map[string]*tensors.Tensor
}

var _ Module = (*HostModule)(nil)

// NewHostModule creates an empty module resident on the host.
func NewHostModule(name string) *HostModule {
	return &HostModule{
		name:   name,
		device: devices.NewAnyIndex(devices.CPU),
		params: make(map[string]*tensors.Tensor),
	}
}

// Name of the module.
func (m *HostModule) Name() string { return m.name }

// SetParameter adds or replaces the named parameter tensor.
func (m *HostModule) SetParameter(name string, t *tensors.Tensor) {
	m.params[name] = t
}

// Parameter returns the named parameter, or nil.
func (m *HostModule) Parameter(name string) *tensors.Tensor { return m.params[name] }

// ParameterNames returns the parameter names, sorted.
func (m *HostModule) ParameterNames() []string {
	names := make([]string, 0, len(m.params))
	for name := range m.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamedParameters returns a copy of the name to tensor mapping, e.g. to hand to
// a CheckpointIO port.
func (m *HostModule) NamedParameters() map[string]*tensors.Tensor {
	state := make(map[string]*tensors.Tensor, len(m.params))
	for name, t := range m.params {
		state[name] = t
	}
	return state
}

// Device implements Module.
func (m *HostModule) Device() devices.Device { return m.device }

// MoveTo implements Module. Idempotent: moving to the current device is a no-op.
func (m *HostModule) MoveTo(device devices.Device) error {
	if m == nil {
		return errors.New("MoveTo on nil HostModule")
	}
	m.device = device
	return nil
}

// Parameters implements Module, returning the tensors in name order.
func (m *HostModule) Parameters() []*tensors.Tensor {
	names := m.ParameterNames()
	all := make([]*tensors.Tensor, 0, len(names))
	for _, name := range names {
		all = append(all, m.params[name])
	}
	return all
}

// Memory implements Module.
func (m *HostModule) Memory() uintptr {
	var total uintptr
	for _, t := range m.params {
		total += t.Memory()
	}
	return total
}
