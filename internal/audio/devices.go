// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"

	"livefx/internal/config"
	"livefx/internal/dsp"
)

// Device describes one audio device of a backend.
type Device struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowLatency        float64 // milliseconds, 0 when unknown
	HighLatency       float64 // milliseconds, 0 when unknown
	IsDefault         bool
}

// Type returns "Input", "Output" or "Input/Output".
func (d Device) Type() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	default:
		return "None"
	}
}

// paDevicesFunc is swapped in tests.
var paDevicesFunc = portaudio.Devices

// HostDevices returns all PortAudio devices. PortAudio must be initialised.
func HostDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowLatency:        info.DefaultLowInputLatency.Seconds() * 1000,
			HighLatency:       info.DefaultHighInputLatency.Seconds() * 1000,
		}
	}
	return devices, nil
}

// Devices lists the devices of backend.
func Devices(backend string) ([]Device, error) {
	switch backend {
	case config.BackendPortAudio:
		if err := Initialize(); err != nil {
			return nil, err
		}
		defer Terminate()
		return HostDevices()
	case config.BackendMalgo:
		return MiniaudioDevices()
	case config.BackendSimulated:
		return []Device{{
			Name:              "simulated tone",
			MaxInputChannels:  dsp.MaxChannels,
			MaxOutputChannels: dsp.MaxChannels,
			DefaultSampleRate: config.DefaultSimulatedRate,
			IsDefault:         true,
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, backend)
	}
}

// InputDevice retrieves the PortAudio input device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input: %w", ErrDeviceUnavailable, err)
		}
		return device, nil
	}
	return deviceByID(deviceID)
}

// OutputDevice retrieves the PortAudio output device for the given device ID.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		device, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default output: %w", ErrDeviceUnavailable, err)
		}
		return device, nil
	}
	return deviceByID(deviceID)
}

func deviceByID(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return nil, fmt.Errorf("%w: invalid device ID: %d", ErrDeviceUnavailable, deviceID)
	}
	return devices[deviceID], nil
}

// ListDevices prints information about devices.
// For each device, it shows:
// - Device ID and name
// - Device type (Input/Output/Input+Output)
// - Channel count
// - Default sample rate
// - Latency ranges, when the backend reports them
func ListDevices(w io.Writer, devices []Device) {
	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " [default]"
		}
		fmt.Fprintf(w, "[%d] %s (%s)%s\n", d.ID, d.Name, d.Type(), marker)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		if d.DefaultSampleRate > 0 {
			fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", d.DefaultSampleRate)
		}
		if d.HighLatency > 0 {
			fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n", d.LowLatency, d.HighLatency)
		}
		fmt.Fprintln(w)
	}
}
