package bluealsa

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
)

const (
	testOwner  = ":1.42"
	testDevice = dbus.ObjectPath("/org/bluez/hci0/dev_00_11_22_33_44_55")
	testPcm    = testDevice + "/a2dpsrc/sink"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c := NewClient(nil, zap.NewNop().Sugar())
	c.services[DefaultService] = testOwner
	c.services["org.bluealsa.sink"] = ""

	return c
}

func pcmProps() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Device":    dbus.MakeVariant(testDevice),
		"Transport": dbus.MakeVariant("A2DP-source"),
		"Mode":      dbus.MakeVariant("sink"),
		"Codec":     dbus.MakeVariant("aptX"),
		"Volume":    dbus.MakeVariant(uint16(0x7f7f)),
	}
}

func TestParsePCM(t *testing.T) {
	info, err := parsePCM(testPcm, pcmProps(), DefaultService)
	require.NoError(t, err)

	assert.Equal(t, namehint.PcmInfo{
		Path:       string(testPcm),
		DevicePath: string(testDevice),
		Transport:  namehint.TransportA2DPSource,
		Stream:     namehint.StreamPlayback,
		Codec:      "aptX",
		Service:    DefaultService,
	}, info)
}

func TestParsePCM_Malformed(t *testing.T) {
	for _, missing := range []string{"Device", "Transport", "Mode"} {
		props := pcmProps()
		delete(props, missing)

		_, err := parsePCM(testPcm, props, DefaultService)
		assert.Error(t, err, missing)
	}

	props := pcmProps()
	props["Transport"] = dbus.MakeVariant("LE-audio")
	_, err := parsePCM(testPcm, props, DefaultService)
	assert.Error(t, err)

	props = pcmProps()
	delete(props, "Codec")
	info, err := parsePCM(testPcm, props, DefaultService)
	require.NoError(t, err)
	assert.Empty(t, info.Codec)
}

func TestParseDevice(t *testing.T) {
	info, err := parseDevice(string(testDevice), map[string]dbus.Variant{
		"Address": dbus.MakeVariant("00:11:22:33:aa:bb"),
		"Alias":   dbus.MakeVariant("Headset"),
	})
	require.NoError(t, err)
	assert.Equal(t, namehint.DeviceInfo{Address: "00:11:22:33:AA:BB", Alias: "Headset"}, info)

	info, err = parseDevice(string(testDevice), map[string]dbus.Variant{
		"Address": dbus.MakeVariant("00:11:22:33:AA:BB"),
	})
	require.NoError(t, err)
	assert.Equal(t, "00:11:22:33:AA:BB", info.Alias)

	_, err = parseDevice(string(testDevice), map[string]dbus.Variant{})
	assert.Error(t, err)
}

func TestDecode_InterfacesAdded(t *testing.T) {
	c := newTestClient(t)

	event, ok := c.decode(&dbus.Signal{
		Sender: testOwner,
		Path:   objectRoot,
		Name:   signalInterfacesAdded,
		Body: []interface{}{
			testPcm,
			map[string]map[string]dbus.Variant{pcmInterface: pcmProps()},
		},
	})
	require.True(t, ok)

	added, ok := event.(PcmAdded)
	require.True(t, ok)
	assert.Equal(t, DefaultService, added.Pcm.Service)
	assert.Equal(t, string(testPcm), added.Pcm.Path)

	// other interfaces are of no interest
	_, ok = c.decode(&dbus.Signal{
		Sender: testOwner,
		Name:   signalInterfacesAdded,
		Body: []interface{}{
			objectRoot + "/hci0/rfcomm",
			map[string]map[string]dbus.Variant{"org.bluealsa.RFCOMM1": {}},
		},
	})
	assert.False(t, ok)
}

func TestDecode_InterfacesRemoved(t *testing.T) {
	c := newTestClient(t)

	event, ok := c.decode(&dbus.Signal{
		Sender: testOwner,
		Name:   signalInterfacesRemoved,
		Body:   []interface{}{testPcm, []string{propertiesInterface, pcmInterface}},
	})
	require.True(t, ok)
	assert.Equal(t, PcmRemoved{Path: string(testPcm), Service: DefaultService}, event)
}

func TestDecode_PropertiesChanged(t *testing.T) {
	c := newTestClient(t)

	event, ok := c.decode(&dbus.Signal{
		Sender: testOwner,
		Path:   testPcm,
		Name:   signalPropertiesChanged,
		Body: []interface{}{
			pcmInterface,
			map[string]dbus.Variant{"Codec": dbus.MakeVariant("SBC")},
			[]string{},
		},
	})
	require.True(t, ok)
	assert.Equal(t, PcmUpdated{
		Path:         string(testPcm),
		Service:      DefaultService,
		Codec:        "SBC",
		CodecChanged: true,
	}, event)

	event, ok = c.decode(&dbus.Signal{
		Sender: testOwner,
		Path:   testPcm,
		Name:   signalPropertiesChanged,
		Body: []interface{}{
			pcmInterface,
			map[string]dbus.Variant{"Volume": dbus.MakeVariant(uint16(0))},
			[]string{},
		},
	})
	require.True(t, ok)
	assert.False(t, event.(PcmUpdated).CodecChanged)
}

func TestDecode_UnknownSender(t *testing.T) {
	c := newTestClient(t)

	_, ok := c.decode(&dbus.Signal{
		Sender: ":1.99",
		Name:   signalInterfacesRemoved,
		Body:   []interface{}{testPcm, []string{pcmInterface}},
	})
	assert.False(t, ok)
}

func TestDecode_MalformedBody(t *testing.T) {
	c := newTestClient(t)

	_, ok := c.decode(&dbus.Signal{
		Sender: testOwner,
		Name:   signalInterfacesAdded,
		Body:   []interface{}{"not a path"},
	})
	assert.False(t, ok)
}

func TestDecode_NameOwnerChanged(t *testing.T) {
	c := newTestClient(t)

	event, ok := c.decode(&dbus.Signal{
		Sender: busInterface,
		Name:   signalNameOwnerChanged,
		Body:   []interface{}{DefaultService, testOwner, ""},
	})
	require.True(t, ok)
	assert.Equal(t, ServiceStopped{Service: DefaultService}, event)

	// a restart is silent, but later signals from the new owner are accepted
	_, ok = c.decode(&dbus.Signal{
		Sender: busInterface,
		Name:   signalNameOwnerChanged,
		Body:   []interface{}{DefaultService, "", ":1.77"},
	})
	assert.False(t, ok)

	_, ok = c.decode(&dbus.Signal{
		Sender: ":1.77",
		Name:   signalInterfacesRemoved,
		Body:   []interface{}{testPcm, []string{pcmInterface}},
	})
	assert.True(t, ok)

	// unwatched names are ignored
	_, ok = c.decode(&dbus.Signal{
		Sender: busInterface,
		Name:   signalNameOwnerChanged,
		Body:   []interface{}{"org.bluez", ":1.3", ""},
	})
	assert.False(t, ok)
}
