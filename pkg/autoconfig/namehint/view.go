package namehint

// HintView is a read-only copy of a hint and the device it belongs to.
type HintView struct {
	ID        uint
	Address   string
	Alias     string
	Service   string
	Transport Transport
	Profile   Profile
	Stream    Stream
	Codec     string
}

// DeviceView is a read-only copy of a device.
type DeviceView struct {
	ID      uint
	Path    string
	Address string
	Alias   string
	Service string
}

// Hints returns the live hints in creation order.
func (g *Graph) Hints() []HintView {
	views := make([]HintView, 0, len(g.hintOrder))
	for _, hintHandle := range g.hintOrder {
		views = append(views, g.hintView(hintHandle))
	}
	return views
}

// Devices returns the live devices in creation order.
func (g *Graph) Devices() []DeviceView {
	views := make([]DeviceView, 0, len(g.deviceOrder))
	for _, deviceHandle := range g.deviceOrder {
		d, _ := g.devices.get(deviceHandle)
		views = append(views, DeviceView{
			ID:      d.id,
			Path:    d.path,
			Address: d.address,
			Alias:   d.alias,
			Service: d.service,
		})
	}
	return views
}

// HintOf returns the hint a tracked PCM contributes to.
func (g *Graph) HintOf(pcmPath string) (HintView, bool) {
	pcmHandle, ok := g.pcmsByPath[pcmPath]
	if !ok {
		return HintView{}, false
	}

	p, _ := g.pcms.get(pcmHandle)
	return g.hintView(p.hint), true
}

func (g *Graph) hintView(hintHandle handle) HintView {
	h, _ := g.hints.get(hintHandle)
	d, _ := g.devices.get(h.device)

	return HintView{
		ID:        h.id,
		Address:   d.address,
		Alias:     d.alias,
		Service:   d.service,
		Transport: h.transport,
		Profile:   h.profile,
		Stream:    h.stream,
		Codec:     h.codec,
	}
}
