package namehint

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultPattern is the hint description used when none is configured.
	DefaultPattern = "%n %p (%c)%lBluetooth Audio %s"

	// SentinelAddress names no particular device. It is used for the default
	// control device when the playback defaults of one service disagree.
	SentinelAddress = "FF:FF:FF:FF:FF:FF"

	// MaxDescriptionLen is the largest expanded description accepted.
	MaxDescriptionLen = 255

	controlDescription = "Bluetooth Audio Control Device"
)

// ErrDescriptionTooLong is returned when a pattern expands beyond
// MaxDescriptionLen bytes.
var ErrDescriptionTooLong = errors.New("hint description too long")

var configStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Capabilities lists the optional arguments the installed bluealsa ctl
// plugin accepts. They are passed through to the default ctl definition.
type Capabilities struct {
	Battery     bool
	BTTransport bool
	Dynamic     bool
	Extended    bool
}

// RenderConfig is everything the renderer needs besides the graph. It is
// built once at startup and replaced as a whole on reload.
type RenderConfig struct {
	// Pattern is the hint description template.
	Pattern string

	// WithService adds SRV= to connection strings; needed when more than
	// one BlueALSA service is watched.
	WithService bool

	// LegacyDescription selects the "|DESC" separator understood by
	// alsa-lib releases before 1.2.3.
	LegacyDescription bool

	// DefaultControl enables the default ctl definition, which needs
	// alsa-lib 1.2.5 or later.
	DefaultControl bool

	Capabilities Capabilities
}

// Renderer turns a graph into configuration text. Rendering has no side
// effects; the same graph always renders to the same bytes.
type Renderer struct {
	config RenderConfig
}

// NewRenderer creates a renderer. An empty pattern selects DefaultPattern.
func NewRenderer(config RenderConfig) *Renderer {
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	return &Renderer{config: config}
}

// Config returns the configuration the renderer was built with.
func (r *Renderer) Config() RenderConfig {
	return r.config
}

// Describe expands pattern for one hint. Recognised placeholders:
//
//	%n  device alias
//	%a  device address
//	%c  codec
//	%p  profile name
//	%s  stream direction (Input, Output, Input/Output)
//	%l  line break
//	%%  percent sign
//
// Any other %x expands to x; a trailing % is kept as is.
func Describe(pattern string, h HintView) (string, error) {
	var b strings.Builder

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i == len(pattern)-1 {
			b.WriteByte(c)
		} else {
			i++
			switch pattern[i] {
			case 'n':
				b.WriteString(h.Alias)
			case 'a':
				b.WriteString(h.Address)
			case 'c':
				b.WriteString(h.Codec)
			case 'p':
				b.WriteString(h.Profile.String())
			case 's':
				b.WriteString(h.Stream.Word())
			case 'l':
				b.WriteByte('\n')
			default:
				b.WriteByte(pattern[i])
			}
		}

		if b.Len() > MaxDescriptionLen {
			return "", fmt.Errorf("%w: pattern %q", ErrDescriptionTooLong, pattern)
		}
	}

	return b.String(), nil
}

// NameHints renders one namehint.pcm entry per hint, one namehint.ctl entry
// per device, and the hint visibility switches.
func (r *Renderer) NameHints(g *Graph) ([]byte, error) {
	var buf bytes.Buffer

	separator := "|"
	if r.config.LegacyDescription {
		separator = "|DESC"
	}

	for _, h := range g.Hints() {
		description, err := Describe(r.config.Pattern, h)
		if err != nil {
			return nil, fmt.Errorf("describe hint %d: %w", h.ID, err)
		}

		fmt.Fprintf(&buf, "namehint.pcm._bluealsa%d \"bluealsa:DEV=%s,PROFILE=%s%s%s%s%s\"\n",
			h.ID,
			h.Address,
			h.Profile.Type(),
			r.serviceArg(h.Service),
			separator,
			configStringEscaper.Replace(description),
			h.Stream.ioid())
	}

	for _, d := range g.Devices() {
		fmt.Fprintf(&buf, "namehint.ctl._bluealsa%d \"bluealsa:DEV=%s%s%s%s\n%s\"\n",
			d.ID,
			d.Address,
			r.serviceArg(d.Service),
			separator,
			configStringEscaper.Replace(d.Alias),
			controlDescription)
	}

	show := "on"
	if g.Empty() {
		show = "off"
	}
	fmt.Fprintf(&buf, "bluealsa.pcm.hint.show %s\nbluealsa.ctl.hint.show %s\n", show, show)

	return buf.Bytes(), nil
}

type defaultTarget struct {
	address string
	service string
}

// Defaults renders the most recently added capture and playback PCM of each
// profile bucket as default device references, followed by the default ctl
// definition when enabled.
func (r *Renderer) Defaults(g *Graph) []byte {
	var capture, playback [bucketCount]*defaultTarget

	// later PCMs overwrite earlier ones: the last connected device wins
	for _, pcmHandle := range g.pcmOrder {
		p, _ := g.pcms.get(pcmHandle)
		h, _ := g.hints.get(p.hint)
		d, _ := g.devices.get(p.device)

		target := &defaultTarget{address: d.address, service: d.service}
		bucket := h.profile.Bucket()

		if p.stream&StreamCapture != 0 {
			capture[bucket] = target
		}
		if p.stream&StreamPlayback != 0 {
			playback[bucket] = target
		}
	}

	var buf bytes.Buffer

	for bucket := BucketA2DP; bucket < bucketCount; bucket++ {
		if t := capture[bucket]; t != nil {
			fmt.Fprintf(&buf, "capture.%[1]s \"pcm.bluealsa:DEV=%[2]s,PROFILE=%[1]s,SRV=%[3]s\"\n", bucket, t.address, t.service)
		}
		if t := playback[bucket]; t != nil {
			fmt.Fprintf(&buf, "playback.%[1]s \"pcm.bluealsa:DEV=%[2]s,PROFILE=%[1]s,SRV=%[3]s\"\n", bucket, t.address, t.service)
		}
	}

	if r.config.DefaultControl {
		if target, ok := controlTarget(playback); ok {
			r.writeDefaultControl(&buf, target)
		}
	}

	return buf.Bytes()
}

// controlTarget picks the device for the default ctl. A2DP playback takes
// precedence. When A2DP and SCO playback go to different devices of the same
// service there is no single sensible target and the sentinel is used.
func controlTarget(playback [bucketCount]*defaultTarget) (defaultTarget, bool) {
	a2dp, sco := playback[BucketA2DP], playback[BucketSCO]

	switch {
	case a2dp != nil && sco != nil:
		if a2dp.service == sco.service && a2dp.address != sco.address {
			return defaultTarget{address: SentinelAddress, service: a2dp.service}, true
		}
		return *a2dp, true
	case a2dp != nil:
		return *a2dp, true
	case sco != nil:
		return *sco, true
	case playback[BucketASHA] != nil:
		return *playback[BucketASHA], true
	}

	return defaultTarget{}, false
}

// The "empty" ctl plugin of alsa-lib cannot hold a reference here, so the
// definition is written out in full.
func (r *Renderer) writeDefaultControl(buf *bytes.Buffer, target defaultTarget) {
	fmt.Fprintf(buf, "ctl { type bluealsa device \"%s\" service \"%s\"", target.address, target.service)

	caps := r.config.Capabilities
	for _, c := range []struct {
		enabled bool
		name    string
	}{
		{caps.Battery, "battery"},
		{caps.BTTransport, "bttransport"},
		{caps.Dynamic, "dynamic"},
		{caps.Extended, "extended"},
	} {
		if c.enabled {
			fmt.Fprintf(buf, " %[1]s { @func refer name defaults.bluealsa.ctl.%[1]s }", c.name)
		}
	}

	buf.WriteString("}\n")
}

func (r *Renderer) serviceArg(service string) string {
	if !r.config.WithService {
		return ""
	}
	return ",SRV=" + service
}
