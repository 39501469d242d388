package nn

import "fmt"

// Device selects where perturbation kernels execute.
// Layers always run on the CPU; DeviceGPU offloads the elementwise
// projection and range clamps to WebGPU.
type Device int

const (
	DeviceCPU Device = iota
	DeviceGPU
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// ParseDevice maps "cpu" / "gpu" to a Device
func ParseDevice(s string) (Device, error) {
	switch s {
	case "cpu", "CPU", "":
		return DeviceCPU, nil
	case "gpu", "GPU", "webgpu":
		return DeviceGPU, nil
	}
	return DeviceCPU, invalidArgument("unknown device %q", s)
}
