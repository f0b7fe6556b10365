// Package namehint tracks the Bluetooth audio PCMs published by BlueALSA and
// renders them as ALSA name hints and default device definitions.
//
// The model has three entity kinds. A Device is one remote Bluetooth device.
// A Hint is one (device, transport) pair and carries the union of the stream
// directions of every PCM using it, so a duplex connection reported as two
// PCMs produces a single name hint. A Pcm is one endpoint as reported by the
// daemon. Pcms hold one reference to their Device and one to their Hint, a
// Hint holds one reference to its Device; the last reference going away
// removes the entity.
//
// A Graph is not safe for concurrent use. The daemon owns it from a single
// goroutine.
package namehint

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrDeviceLookup is returned by AddPcm when the device registry could not
// describe the PCM's device. The add is abandoned and the graph is unchanged.
var ErrDeviceLookup = errors.New("device lookup failed")

// DeviceInfo is what the device registry knows about a remote device.
type DeviceInfo struct {
	Address string
	Alias   string
}

// DeviceRegistry resolves device object paths to their address and alias.
//
//go:generate mockgen -destination=mocks/registry.go -package=mocks . DeviceRegistry
type DeviceRegistry interface {
	Device(path string) (DeviceInfo, error)
}

// PcmInfo describes a PCM as announced by the event source.
type PcmInfo struct {
	Path       string
	DevicePath string
	Transport  Transport
	Stream     Stream
	Codec      string
	Service    string
}

type device struct {
	id      uint
	path    string
	address string
	alias   string
	service string
	ref     int
}

type hint struct {
	id        uint
	device    handle
	transport Transport
	profile   Profile
	stream    Stream
	codec     string
	ref       int
}

type pcm struct {
	path   string
	device handle
	hint   handle
	stream Stream
}

type hintKey struct {
	device    handle
	transport Transport
}

// Graph is the live set of devices, hints and PCMs.
type Graph struct {
	registry DeviceRegistry
	logger   *zap.SugaredLogger

	devices arena[device]
	hints   arena[hint]
	pcms    arena[pcm]

	// creation order, which is also render order
	deviceOrder []handle
	hintOrder   []handle
	pcmOrder    []handle

	devicesByPath map[string]handle
	hintsByKey    map[hintKey]handle
	pcmsByPath    map[string]handle

	nextID uint
}

// NewGraph creates an empty graph that resolves new devices through registry.
func NewGraph(registry DeviceRegistry, logger *zap.SugaredLogger) *Graph {
	g := &Graph{
		registry: registry,
		logger:   logger.Named("namehint"),
	}
	g.clear()

	return g
}

// AddPcm starts tracking a PCM. Adding a path that is already tracked is a
// no-op. The returned bool reports whether a new hint was created, which is
// the only kind of add that changes the set of published names.
//
// Devices are looked up in the registry once, when first seen. If that lookup
// fails the error wraps ErrDeviceLookup and nothing is added.
func (g *Graph) AddPcm(info PcmInfo) (bool, error) {
	if _, ok := g.pcmsByPath[info.Path]; ok {
		g.logger.Debugw("Ignoring duplicate PCM", "path", info.Path)
		return false, nil
	}

	deviceHandle, err := g.resolveDevice(info)
	if err != nil {
		return false, err
	}

	hintHandle, created := g.resolveHint(deviceHandle, info)

	pcmHandle := g.pcms.insert(pcm{
		path:   info.Path,
		device: deviceHandle,
		hint:   hintHandle,
		stream: info.Stream,
	})
	g.pcmOrder = append(g.pcmOrder, pcmHandle)
	g.pcmsByPath[info.Path] = pcmHandle

	g.refDevice(deviceHandle)
	g.refHint(hintHandle)

	g.logger.Debugw("Added PCM",
		"path", info.Path,
		"transport", info.Transport,
		"stream", info.Stream,
		"newHint", created)

	return created, nil
}

// RemovePcm stops tracking a PCM. It reports whether the PCM's hint was
// removed as a result; removing one direction of a duplex hint leaves the
// hint in place and reports false. Unknown paths are ignored.
func (g *Graph) RemovePcm(path string) bool {
	pcmHandle, ok := g.pcmsByPath[path]
	if !ok {
		g.logger.Debugw("Ignoring removal of unknown PCM", "path", path)
		return false
	}

	removed := g.removePcm(pcmHandle)
	g.logger.Debugw("Removed PCM", "path", path, "hintRemoved", removed)

	return removed
}

// RemoveService removes every PCM whose device belongs to service and reports
// whether any PCM was removed.
func (g *Graph) RemoveService(service string) bool {
	var doomed []handle
	for _, pcmHandle := range g.pcmOrder {
		p, _ := g.pcms.get(pcmHandle)
		d, _ := g.devices.get(p.device)
		if d.service == service {
			doomed = append(doomed, pcmHandle)
		}
	}

	for _, pcmHandle := range doomed {
		g.removePcm(pcmHandle)
	}

	if len(doomed) > 0 {
		g.logger.Debugw("Removed service PCMs", "service", service, "count", len(doomed))
	}

	return len(doomed) > 0
}

// RemoveAll drops every entity. The id counter is left alone; see ResetIDs.
func (g *Graph) RemoveAll() {
	g.clear()
}

// UpdateCodec records a codec change of a tracked PCM on its hint. It
// returns false if the path is unknown.
func (g *Graph) UpdateCodec(path string, codec string) bool {
	pcmHandle, ok := g.pcmsByPath[path]
	if !ok {
		return false
	}

	p, _ := g.pcms.get(pcmHandle)
	h, _ := g.hints.get(p.hint)
	h.codec = codec

	g.logger.Debugw("Updated codec", "path", path, "codec", codec)
	return true
}

// ResetIDs restarts id assignment at zero when no PCM is tracked, so that a
// fresh session gets small names again. It reports whether it did so.
func (g *Graph) ResetIDs() bool {
	if g.pcms.len() != 0 {
		return false
	}

	g.nextID = 0
	return true
}

// Empty reports whether no PCM is tracked.
func (g *Graph) Empty() bool {
	return g.pcms.len() == 0
}

// DeviceCount returns the number of live devices.
func (g *Graph) DeviceCount() int {
	return g.devices.len()
}

// HintCount returns the number of live hints.
func (g *Graph) HintCount() int {
	return g.hints.len()
}

// PcmCount returns the number of tracked PCMs.
func (g *Graph) PcmCount() int {
	return g.pcms.len()
}

// String satisfies fmt.Stringer for log output.
func (g *Graph) String() string {
	return fmt.Sprintf("<%d devices, %d hints, %d pcms>", g.DeviceCount(), g.HintCount(), g.PcmCount())
}

func (g *Graph) clear() {
	g.devices.reset()
	g.hints.reset()
	g.pcms.reset()

	g.deviceOrder = nil
	g.hintOrder = nil
	g.pcmOrder = nil

	g.devicesByPath = make(map[string]handle)
	g.hintsByKey = make(map[hintKey]handle)
	g.pcmsByPath = make(map[string]handle)
}

func (g *Graph) resolveDevice(info PcmInfo) (handle, error) {
	if deviceHandle, ok := g.devicesByPath[info.DevicePath]; ok {
		return deviceHandle, nil
	}

	devInfo, err := g.registry.Device(info.DevicePath)
	if err != nil {
		return handle{}, fmt.Errorf("%w: %s: %w", ErrDeviceLookup, info.DevicePath, err)
	}

	// a device is numbered like the hint created right after it
	deviceHandle := g.devices.insert(device{
		id:      g.nextID,
		path:    info.DevicePath,
		address: devInfo.Address,
		alias:   devInfo.Alias,
		service: info.Service,
	})
	g.deviceOrder = append(g.deviceOrder, deviceHandle)
	g.devicesByPath[info.DevicePath] = deviceHandle

	g.logger.Debugw("Added device", "path", info.DevicePath, "address", devInfo.Address, "alias", devInfo.Alias)

	return deviceHandle, nil
}

func (g *Graph) resolveHint(deviceHandle handle, info PcmInfo) (handle, bool) {
	key := hintKey{device: deviceHandle, transport: info.Transport}

	if hintHandle, ok := g.hintsByKey[key]; ok {
		h, _ := g.hints.get(hintHandle)
		h.stream |= info.Stream
		h.codec = info.Codec
		return hintHandle, false
	}

	hintHandle := g.hints.insert(hint{
		id:        g.nextID,
		device:    deviceHandle,
		transport: info.Transport,
		profile:   ProfileFor(info.Transport),
		stream:    info.Stream,
		codec:     info.Codec,
	})
	g.nextID++

	g.hintOrder = append(g.hintOrder, hintHandle)
	g.hintsByKey[key] = hintHandle
	g.refDevice(deviceHandle)

	return hintHandle, true
}

func (g *Graph) removePcm(pcmHandle handle) bool {
	p, _ := g.pcms.get(pcmHandle)
	deviceHandle, hintHandle := p.device, p.hint

	delete(g.pcmsByPath, p.path)
	g.pcmOrder = without(g.pcmOrder, pcmHandle)
	g.pcms.remove(pcmHandle)

	removed := g.unrefHint(hintHandle)
	if !removed {
		g.restream(hintHandle)
	}
	g.unrefDevice(deviceHandle)

	return removed
}

// restream recomputes a hint's directions from the PCMs still using it.
func (g *Graph) restream(hintHandle handle) {
	h, ok := g.hints.get(hintHandle)
	if !ok {
		return
	}

	var stream Stream
	for _, pcmHandle := range g.pcmOrder {
		if p, _ := g.pcms.get(pcmHandle); p.hint == hintHandle {
			stream |= p.stream
		}
	}
	h.stream = stream
}

func (g *Graph) refDevice(deviceHandle handle) {
	d, _ := g.devices.get(deviceHandle)
	d.ref++
}

func (g *Graph) unrefDevice(deviceHandle handle) {
	d, ok := g.devices.get(deviceHandle)
	if !ok {
		return
	}

	d.ref--
	if d.ref > 0 {
		return
	}

	g.logger.Debugw("Removing device", "path", d.path, "address", d.address)

	delete(g.devicesByPath, d.path)
	g.deviceOrder = without(g.deviceOrder, deviceHandle)
	g.devices.remove(deviceHandle)
}

func (g *Graph) refHint(hintHandle handle) {
	h, _ := g.hints.get(hintHandle)
	h.ref++
}

func (g *Graph) unrefHint(hintHandle handle) bool {
	h, ok := g.hints.get(hintHandle)
	if !ok {
		return false
	}

	h.ref--
	if h.ref > 0 {
		return false
	}

	deviceHandle := h.device
	delete(g.hintsByKey, hintKey{device: deviceHandle, transport: h.transport})
	g.hintOrder = without(g.hintOrder, hintHandle)
	g.hints.remove(hintHandle)

	g.unrefDevice(deviceHandle)
	return true
}

func without(handles []handle, h handle) []handle {
	for i, candidate := range handles {
		if candidate == h {
			return append(handles[:i], handles[i+1:]...)
		}
	}
	return handles
}
