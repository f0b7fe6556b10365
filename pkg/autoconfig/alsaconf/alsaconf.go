// Package alsaconf reads what the installed ALSA configuration says about
// the bluealsa plugins.
package alsaconf

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
)

// DefaultFiles are the configuration files alsa-lib reads the bluealsa
// plugin definitions from.
var DefaultFiles = []string{
	"/usr/share/alsa/alsa.conf.d/20-bluealsa.conf",
	"/etc/alsa/conf.d/20-bluealsa.conf",
	"/etc/asound.conf",
}

// Probe is the result of scanning ALSA configuration files.
type Probe struct {
	// Capabilities are the optional ctl.bluealsa arguments that are defined.
	Capabilities namehint.Capabilities

	// Pattern is defaults.bluealsa.namehint, empty when not set.
	Pattern string
}

var (
	namehintSetting = regexp.MustCompile(`defaults\.bluealsa\.namehint\s*=?\s*"((?:[^"\\]|\\.)*)"`)
	namehintNested  = regexp.MustCompile(`(?:^|[\s{])namehint\s*=?\s*"((?:[^"\\]|\\.)*)"`)
	argsList        = regexp.MustCompile(`@args\s*\[([^\]]*)\]`)
	argsIndexed     = regexp.MustCompile(`@args\.\d+\s+"?(\w+)"?`)
	unescaper       = strings.NewReplacer(`\"`, `"`, `\\`, `\`)
)

// ProbeFiles scans paths in order. Missing files are skipped; a later file
// overrides the pattern of an earlier one and adds to its capabilities.
func ProbeFiles(paths []string) (Probe, error) {
	var probe Probe

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return probe, fmt.Errorf("read alsa config %s: %w", path, err)
		}

		probe = probe.merge(Parse(string(data)))
	}

	return probe, nil
}

// Parse scans the text of one configuration file.
func Parse(text string) Probe {
	var probe Probe
	text = stripComments(text)

	if m := namehintSetting.FindAllStringSubmatch(text, -1); len(m) > 0 {
		probe.Pattern = unescaper.Replace(m[len(m)-1][1])
	} else if block, ok := findBlock(text, "defaults.bluealsa"); ok {
		if m := namehintNested.FindStringSubmatch(block); m != nil {
			probe.Pattern = unescaper.Replace(m[1])
		}
	}

	if block, ok := findBlock(text, "ctl.bluealsa"); ok {
		var args []string
		for _, m := range argsList.FindAllStringSubmatch(block, -1) {
			args = append(args, strings.Fields(m[1])...)
		}
		for _, m := range argsIndexed.FindAllStringSubmatch(block, -1) {
			args = append(args, m[1])
		}

		probe.Capabilities = namehint.Capabilities{
			Battery:     funk.ContainsString(args, "BAT"),
			BTTransport: funk.ContainsString(args, "BTT"),
			Dynamic:     funk.ContainsString(args, "DYN"),
			Extended:    funk.ContainsString(args, "EXT"),
		}
	}

	return probe
}

func (p Probe) merge(other Probe) Probe {
	if other.Pattern != "" {
		p.Pattern = other.Pattern
	}

	p.Capabilities.Battery = p.Capabilities.Battery || other.Capabilities.Battery
	p.Capabilities.BTTransport = p.Capabilities.BTTransport || other.Capabilities.BTTransport
	p.Capabilities.Dynamic = p.Capabilities.Dynamic || other.Capabilities.Dynamic
	p.Capabilities.Extended = p.Capabilities.Extended || other.Capabilities.Extended

	return p
}

// findBlock returns the body of the first "name { ... }" compound, braces
// balanced. The name may be prefixed by ALSA's override operators.
func findBlock(text, name string) (string, bool) {
	for offset := 0; ; {
		i := strings.Index(text[offset:], name)
		if i < 0 {
			return "", false
		}
		i += offset
		offset = i + len(name)

		rest := strings.TrimLeft(text[offset:], " \t\r\n=")
		if !strings.HasPrefix(rest, "{") {
			continue
		}

		start := len(text) - len(rest) + 1
		depth := 1
		inString := false
		for j := start; j < len(text); j++ {
			switch c := text[j]; {
			case c == '\\' && inString:
				j++
			case c == '"':
				inString = !inString
			case c == '{' && !inString:
				depth++
			case c == '}' && !inString:
				depth--
				if depth == 0 {
					return text[start:j], true
				}
			}
		}

		return text[start:], true
	}
}

// stripComments removes # comments that are not inside a quoted string.
func stripComments(text string) string {
	var b strings.Builder
	inString, inComment := false, false

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case inComment:
			if c == '\n' {
				inComment = false
				b.WriteByte(c)
			}
		case c == '\\' && inString && i+1 < len(text):
			b.WriteByte(c)
			i++
			b.WriteByte(text[i])
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case c == '#' && !inString:
			inComment = true
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// Version is an alsa-lib release number.
type Version struct {
	Major, Minor, Subminor int
}

// ParseVersion parses "1.2.10" style versions. Missing trailing components
// count as zero and anything after the third component is ignored.
func ParseVersion(s string) (Version, error) {
	var v Version

	parts := strings.SplitN(strings.TrimSpace(s), ".", 4)
	if len(parts) == 0 || parts[0] == "" {
		return v, fmt.Errorf("parse alsa-lib version %q: empty", s)
	}

	fields := []*int{&v.Major, &v.Minor, &v.Subminor}
	for i, part := range parts {
		if i == len(fields) {
			break
		}

		// release candidates carry a suffix, e.g. "1.2.9rc1"
		if end := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' }); end >= 0 {
			part = part[:end]
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("parse alsa-lib version %q: %w", s, err)
		}
		*fields[i] = n
	}

	return v, nil
}

// AtLeast reports whether v is the given release or a later one.
func (v Version) AtLeast(major, minor, subminor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Subminor >= subminor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Subminor)
}
