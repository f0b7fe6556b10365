package bluealsa

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
)

// Event is a change reported by a watched BlueALSA service.
type Event interface {
	eventSealed()
}

// PcmAdded is sent when a service exports a new PCM.
type PcmAdded struct {
	Pcm namehint.PcmInfo
}

func (PcmAdded) eventSealed() {}

// PcmRemoved is sent when a service withdraws a PCM.
type PcmRemoved struct {
	Path    string
	Service string
}

func (PcmRemoved) eventSealed() {}

// PcmUpdated is sent when properties of a PCM change. Only the codec is of
// interest; CodecChanged tells whether this update carries one.
type PcmUpdated struct {
	Path         string
	Service      string
	Codec        string
	CodecChanged bool
}

func (PcmUpdated) eventSealed() {}

// ServiceStopped is sent when a watched service leaves the bus.
type ServiceStopped struct {
	Service string
}

func (ServiceStopped) eventSealed() {}

// parsePCM builds a PcmInfo from the org.bluealsa.PCM1 properties of path.
func parsePCM(path dbus.ObjectPath, props map[string]dbus.Variant, service string) (namehint.PcmInfo, error) {
	info := namehint.PcmInfo{
		Path:    string(path),
		Service: service,
	}

	device, ok := props["Device"].Value().(dbus.ObjectPath)
	if !ok {
		return info, fmt.Errorf("pcm %s: missing Device property", path)
	}
	info.DevicePath = string(device)

	transport, ok := props["Transport"].Value().(string)
	if !ok {
		return info, fmt.Errorf("pcm %s: missing Transport property", path)
	}
	t, err := namehint.ParseTransport(transport)
	if err != nil {
		return info, fmt.Errorf("pcm %s: %w", path, err)
	}
	info.Transport = t

	mode, ok := props["Mode"].Value().(string)
	if !ok {
		return info, fmt.Errorf("pcm %s: missing Mode property", path)
	}
	stream, err := namehint.ParseMode(mode)
	if err != nil {
		return info, fmt.Errorf("pcm %s: %w", path, err)
	}
	info.Stream = stream

	// codec is absent on daemons that predate codec selection
	if codec, ok := props["Codec"].Value().(string); ok {
		info.Codec = codec
	}

	return info, nil
}
