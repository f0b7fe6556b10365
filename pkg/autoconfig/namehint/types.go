package namehint

import (
	"fmt"
	"strings"
)

// Transport is the BlueALSA transport bitmask of a PCM.
type Transport uint16

const (
	TransportA2DPSource Transport = 1 << iota
	TransportA2DPSink
	TransportHFPAG
	TransportHFPHF
	TransportHSPAG
	TransportHSPHS
	TransportASHASource
	TransportASHASink
)

const (
	TransportMaskA2DP = TransportA2DPSource | TransportA2DPSink
	TransportMaskHFP  = TransportHFPAG | TransportHFPHF
	TransportMaskHSP  = TransportHSPAG | TransportHSPHS
	TransportMaskSCO  = TransportMaskHFP | TransportMaskHSP
	TransportMaskASHA = TransportASHASource | TransportASHASink
)

var transportNames = map[string]Transport{
	"A2DP-source": TransportA2DPSource,
	"A2DP-sink":   TransportA2DPSink,
	"HFP-AG":      TransportHFPAG,
	"HFP-HF":      TransportHFPHF,
	"HSP-AG":      TransportHSPAG,
	"HSP-HS":      TransportHSPHS,
	"ASHA-source": TransportASHASource,
	"ASHA-sink":   TransportASHASink,
}

// ParseTransport converts the BlueALSA D-Bus "Transport" property value.
func ParseTransport(s string) (Transport, error) {
	if t, ok := transportNames[s]; ok {
		return t, nil
	}

	// older daemons report the codec-less profile name only
	switch strings.ToUpper(s) {
	case "A2DP":
		return TransportA2DPSource, nil
	case "HFP":
		return TransportHFPAG, nil
	case "HSP":
		return TransportHSPAG, nil
	case "ASHA":
		return TransportASHASource, nil
	}

	return 0, fmt.Errorf("unknown transport %q", s)
}

func (t Transport) String() string {
	for name, value := range transportNames {
		if value == t {
			return name
		}
	}
	return fmt.Sprintf("Transport(%#x)", uint16(t))
}

// Profile is the Bluetooth audio profile a hint is named after.
type Profile int

const (
	ProfileA2DP Profile = iota
	ProfileHFP
	ProfileHSP
	ProfileASHA
)

var profiles = [...]struct {
	name   string
	kind   string
	bucket Bucket
}{
	ProfileA2DP: {"A2DP", "a2dp", BucketA2DP},
	ProfileHFP:  {"HFP", "sco", BucketSCO},
	ProfileHSP:  {"HSP", "sco", BucketSCO},
	ProfileASHA: {"ASHA", "asha", BucketASHA},
}

// ProfileFor maps a transport to the profile it belongs to.
func ProfileFor(t Transport) Profile {
	switch {
	case t&TransportMaskHFP != 0:
		return ProfileHFP
	case t&TransportMaskHSP != 0:
		return ProfileHSP
	case t&TransportMaskASHA != 0:
		return ProfileASHA
	default:
		return ProfileA2DP
	}
}

// String returns the human readable profile name used in descriptions.
func (p Profile) String() string {
	return profiles[p].name
}

// Type returns the PROFILE= argument of the bluealsa ALSA plugins.
func (p Profile) Type() string {
	return profiles[p].kind
}

// Bucket returns the default-device bucket of the profile.
func (p Profile) Bucket() Bucket {
	return profiles[p].bucket
}

// Bucket groups profiles that share a default device.
type Bucket int

const (
	BucketA2DP Bucket = iota
	BucketSCO
	BucketASHA
	bucketCount
)

func (b Bucket) String() string {
	switch b {
	case BucketA2DP:
		return "a2dp"
	case BucketSCO:
		return "sco"
	case BucketASHA:
		return "asha"
	}
	return "invalid"
}

// Stream is a set of stream directions. A single PCM is always either
// capture or playback; a hint accumulates both.
type Stream uint8

const (
	StreamPlayback Stream = 1 << iota
	StreamCapture
	StreamDuplex = StreamPlayback | StreamCapture
)

// ParseMode converts the BlueALSA D-Bus "Mode" property value. A "source"
// PCM delivers audio from the remote device, so it is a capture stream.
func ParseMode(s string) (Stream, error) {
	switch s {
	case "source":
		return StreamCapture, nil
	case "sink":
		return StreamPlayback, nil
	}
	return 0, fmt.Errorf("unknown pcm mode %q", s)
}

// Word is the stream direction as expanded by the %s placeholder.
func (s Stream) Word() string {
	switch s {
	case StreamPlayback:
		return "Output"
	case StreamCapture:
		return "Input"
	default:
		return "Input/Output"
	}
}

func (s Stream) ioid() string {
	switch s {
	case StreamPlayback:
		return "|IOIDOutput"
	case StreamCapture:
		return "|IOIDInput"
	default:
		return ""
	}
}

func (s Stream) String() string {
	switch s {
	case StreamPlayback:
		return "playback"
	case StreamCapture:
		return "capture"
	case StreamDuplex:
		return "duplex"
	}
	return "none"
}
