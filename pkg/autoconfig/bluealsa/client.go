// Package bluealsa watches BlueALSA services on the system bus and reports
// their PCMs as a stream of events.
package bluealsa

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
)

const (
	// DefaultService is the well-known name of the default BlueALSA daemon.
	DefaultService = "org.bluealsa"

	pcmInterface           = "org.bluealsa.PCM1"
	objectRoot             = dbus.ObjectPath("/org/bluealsa")
	bluezService           = "org.bluez"
	bluezDeviceInterface   = "org.bluez.Device1"
	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	propertiesInterface    = "org.freedesktop.DBus.Properties"
	busInterface           = "org.freedesktop.DBus"

	signalInterfacesAdded   = objectManagerInterface + ".InterfacesAdded"
	signalInterfacesRemoved = objectManagerInterface + ".InterfacesRemoved"
	signalPropertiesChanged = propertiesInterface + ".PropertiesChanged"
	signalNameOwnerChanged  = busInterface + ".NameOwnerChanged"

	eventBacklog = 64
)

// ErrUnknownService is returned for a service name that does not belong to
// the BlueALSA namespace.
var ErrUnknownService = errors.New("not a BlueALSA service name")

// Client is a BlueALSA client on one bus connection. It also resolves
// device paths through BlueZ, so a graph can use it as its registry.
type Client struct {
	logger *zap.SugaredLogger
	conn   *dbus.Conn

	// well-known service name to current unique owner, empty while stopped
	services  map[string]string
	servicesL sync.Mutex

	signals chan *dbus.Signal
	events  chan Event
	done    chan struct{}
	once    sync.Once
}

// Connect opens a private connection to the system bus.
func Connect(logger *zap.SugaredLogger) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection.
func NewClient(conn *dbus.Conn, logger *zap.SugaredLogger) *Client {
	logger = logger.Named("bluealsa")

	c := &Client{
		logger:   logger,
		conn:     conn,
		services: make(map[string]string),
		signals:  make(chan *dbus.Signal, eventBacklog),
		events:   make(chan Event, eventBacklog),
		done:     make(chan struct{}),
	}

	logger.Debug("Created client instance")

	return c
}

// WatchService subscribes to PCM and ownership changes of service. The
// service need not be running yet.
func (c *Client) WatchService(service string) error {
	if !strings.HasPrefix(service, DefaultService) {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	var owner string
	if err := c.conn.BusObject().Call(busInterface+".GetNameOwner", 0, service).Store(&owner); err != nil {
		c.logger.Debugw("Service not running yet", "service", service)
	}

	c.servicesL.Lock()
	c.services[service] = owner
	c.servicesL.Unlock()

	rules := [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(service),
			dbus.WithMatchInterface(objectManagerInterface),
			dbus.WithMatchMember("InterfacesAdded"),
			dbus.WithMatchOption("path_namespace", string(objectRoot)),
		},
		{
			dbus.WithMatchSender(service),
			dbus.WithMatchInterface(objectManagerInterface),
			dbus.WithMatchMember("InterfacesRemoved"),
			dbus.WithMatchOption("path_namespace", string(objectRoot)),
		},
		{
			dbus.WithMatchSender(service),
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchOption("path_namespace", string(objectRoot)),
			dbus.WithMatchArg(0, pcmInterface),
		},
		{
			dbus.WithMatchSender(busInterface),
			dbus.WithMatchInterface(busInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, service),
		},
	}

	for _, rule := range rules {
		if err := c.conn.AddMatchSignal(rule...); err != nil {
			return fmt.Errorf("add match rule for %s: %w", service, err)
		}
	}

	c.logger.Infow("Watching service", "service", service, "owner", owner)

	return nil
}

// PCMs lists the PCMs currently exported by service, ordered by path.
func (c *Client) PCMs(service string) ([]namehint.PcmInfo, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	call := c.conn.Object(service, objectRoot).Call(objectManagerInterface+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects of %s: %w", service, err)
	}

	paths := make([]dbus.ObjectPath, 0, len(objects))
	for path, interfaces := range objects {
		if _, ok := interfaces[pcmInterface]; ok {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	pcms := make([]namehint.PcmInfo, 0, len(paths))
	for _, path := range paths {
		info, err := parsePCM(path, objects[path][pcmInterface], service)
		if err != nil {
			c.logger.Warnw("Skipping malformed PCM", "path", path, "error", err)
			continue
		}
		pcms = append(pcms, info)
	}

	return pcms, nil
}

// Device looks up the address and alias of a BlueZ device.
func (c *Client) Device(path string) (namehint.DeviceInfo, error) {
	var props map[string]dbus.Variant

	call := c.conn.Object(bluezService, dbus.ObjectPath(path)).Call(propertiesInterface+".GetAll", 0, bluezDeviceInterface)
	if err := call.Store(&props); err != nil {
		return namehint.DeviceInfo{}, fmt.Errorf("get properties of %s: %w", path, err)
	}

	return parseDevice(path, props)
}

func parseDevice(path string, props map[string]dbus.Variant) (namehint.DeviceInfo, error) {
	address, ok := props["Address"].Value().(string)
	if !ok || address == "" {
		return namehint.DeviceInfo{}, fmt.Errorf("device %s: missing Address property", path)
	}

	info := namehint.DeviceInfo{Address: strings.ToUpper(address)}

	// BlueZ falls back to the address when no alias is set
	info.Alias, _ = props["Alias"].Value().(string)
	if info.Alias == "" {
		info.Alias = info.Address
	}

	return info, nil
}

// Events returns the channel events are delivered on. It is closed when the
// connection goes away.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start begins delivering bus signals as events.
func (c *Client) Start() {
	c.conn.Signal(c.signals)
	go c.dispatch()
}

// Close stops event delivery and closes the bus connection.
func (c *Client) Close() error {
	var err error

	c.once.Do(func() {
		close(c.done)
		c.conn.RemoveSignal(c.signals)
		if closeErr := c.conn.Close(); closeErr != nil {
			err = fmt.Errorf("close bus connection: %w", closeErr)
		}
		c.logger.Debug("Closed bus connection")
	})

	return err
}

func (c *Client) dispatch() {
	defer close(c.events)

	for {
		select {
		case <-c.done:
			return
		case sig, ok := <-c.signals:
			if !ok {
				c.logger.Warn("Signal channel closed")
				return
			}

			event, ok := c.decode(sig)
			if !ok {
				continue
			}

			select {
			case c.events <- event:
			case <-c.done:
				return
			}
		}
	}
}

// decode translates one signal. Signals from senders that are not a watched
// service are dropped.
func (c *Client) decode(sig *dbus.Signal) (Event, bool) {
	if sig.Name == signalNameOwnerChanged {
		return c.ownerChanged(sig)
	}

	service, ok := c.serviceOf(sig.Sender)
	if !ok {
		return nil, false
	}

	switch sig.Name {
	case signalInterfacesAdded:
		var (
			path       dbus.ObjectPath
			interfaces map[string]map[string]dbus.Variant
		)
		if err := dbus.Store(sig.Body, &path, &interfaces); err != nil {
			c.logger.Warnw("Malformed InterfacesAdded signal", "error", err)
			return nil, false
		}

		props, ok := interfaces[pcmInterface]
		if !ok {
			return nil, false
		}

		info, err := parsePCM(path, props, service)
		if err != nil {
			c.logger.Warnw("Ignoring malformed PCM", "path", path, "error", err)
			return nil, false
		}
		return PcmAdded{Pcm: info}, true

	case signalInterfacesRemoved:
		var (
			path       dbus.ObjectPath
			interfaces []string
		)
		if err := dbus.Store(sig.Body, &path, &interfaces); err != nil {
			c.logger.Warnw("Malformed InterfacesRemoved signal", "error", err)
			return nil, false
		}

		for _, iface := range interfaces {
			if iface == pcmInterface {
				return PcmRemoved{Path: string(path), Service: service}, true
			}
		}
		return nil, false

	case signalPropertiesChanged:
		var (
			iface       string
			changed     map[string]dbus.Variant
			invalidated []string
		)
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil {
			c.logger.Warnw("Malformed PropertiesChanged signal", "error", err)
			return nil, false
		}
		if iface != pcmInterface {
			return nil, false
		}

		event := PcmUpdated{Path: string(sig.Path), Service: service}
		if codec, ok := changed["Codec"].Value().(string); ok {
			event.Codec = codec
			event.CodecChanged = true
		}
		return event, true
	}

	return nil, false
}

func (c *Client) ownerChanged(sig *dbus.Signal) (Event, bool) {
	var name, oldOwner, newOwner string
	if err := dbus.Store(sig.Body, &name, &oldOwner, &newOwner); err != nil {
		c.logger.Warnw("Malformed NameOwnerChanged signal", "error", err)
		return nil, false
	}

	c.servicesL.Lock()
	defer c.servicesL.Unlock()

	if _, watched := c.services[name]; !watched {
		return nil, false
	}

	c.services[name] = newOwner

	if newOwner == "" {
		c.logger.Infow("Service stopped", "service", name)
		return ServiceStopped{Service: name}, true
	}

	// PCMs of a fresh service instance arrive through InterfacesAdded
	c.logger.Infow("Service started", "service", name, "owner", newOwner)
	return nil, false
}

// serviceOf maps a signal sender to the watched service it belongs to.
// Senders are unique names; a well-known name is accepted as well.
func (c *Client) serviceOf(sender string) (string, bool) {
	c.servicesL.Lock()
	defer c.servicesL.Unlock()

	if _, ok := c.services[sender]; ok {
		return sender, true
	}

	for service, owner := range c.services {
		if owner != "" && owner == sender {
			return service, true
		}
	}

	return "", false
}
