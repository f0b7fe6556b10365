package namehint_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint/mocks"
)

func TestDescribe(t *testing.T) {
	hint := namehint.HintView{
		Address: "00:11:22:33:44:55",
		Alias:   "Headset",
		Profile: namehint.ProfileHFP,
		Stream:  namehint.StreamDuplex,
		Codec:   "SBC",
	}

	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{"alias and codec", "%n (%c)", "Headset (SBC)"},
		{"literal percent and newline", "%%done%l", "%done\n"},
		{"address profile stream", "%a %p %s", "00:11:22:33:44:55 HFP Input/Output"},
		{"unknown placeholder passes through", "%x%y", "xy"},
		{"trailing percent", "100%", "100%"},
		{"no placeholders", "Bluetooth", "Bluetooth"},
		{"empty", "", ""},
		{"default pattern", namehint.DefaultPattern, "Headset HFP (SBC)\nBluetooth Audio Input/Output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := namehint.Describe(tt.pattern, hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe_StreamWords(t *testing.T) {
	for stream, want := range map[namehint.Stream]string{
		namehint.StreamPlayback: "Output",
		namehint.StreamCapture:  "Input",
		namehint.StreamDuplex:   "Input/Output",
	} {
		got, err := namehint.Describe("%s", namehint.HintView{Stream: stream})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDescribe_TooLong(t *testing.T) {
	hint := namehint.HintView{Alias: strings.Repeat("a", 200)}

	_, err := namehint.Describe(strings.Repeat("x", namehint.MaxDescriptionLen), hint)
	assert.NoError(t, err)

	_, err = namehint.Describe(strings.Repeat("x", namehint.MaxDescriptionLen+1), hint)
	assert.ErrorIs(t, err, namehint.ErrDescriptionTooLong)

	_, err = namehint.Describe("%n %n", hint)
	assert.ErrorIs(t, err, namehint.ErrDescriptionTooLong)
}

// headset HFP duplex followed by speaker A2DP playback
func newPopulatedGraph(t *testing.T) *namehint.Graph {
	t.Helper()

	g := newTestGraph(t)
	for _, info := range []namehint.PcmInfo{
		pcmOn(headsetPath+"/hfpag/sink", headsetPath, namehint.TransportHFPAG, namehint.StreamPlayback),
		pcmOn(headsetPath+"/hfpag/source", headsetPath, namehint.TransportHFPAG, namehint.StreamCapture),
		pcmOn(speakerPath+"/a2dpsrc/sink", speakerPath, namehint.TransportA2DPSource, namehint.StreamPlayback),
	} {
		_, err := g.AddPcm(info)
		require.NoError(t, err)
	}

	return g
}

func TestRenderer_NameHints(t *testing.T) {
	g := newPopulatedGraph(t)
	r := namehint.NewRenderer(namehint.RenderConfig{})

	got, err := r.NameHints(g)
	require.NoError(t, err)

	want := `namehint.pcm._bluealsa0 "bluealsa:DEV=00:11:22:33:44:55,PROFILE=sco|Headset HFP (SBC)
Bluetooth Audio Input/Output"
namehint.pcm._bluealsa1 "bluealsa:DEV=66:77:88:99:AA:BB,PROFILE=a2dp|Speaker A2DP (SBC)
Bluetooth Audio Output|IOIDOutput"
namehint.ctl._bluealsa0 "bluealsa:DEV=00:11:22:33:44:55|Headset
Bluetooth Audio Control Device"
namehint.ctl._bluealsa1 "bluealsa:DEV=66:77:88:99:AA:BB|Speaker
Bluetooth Audio Control Device"
bluealsa.pcm.hint.show on
bluealsa.ctl.hint.show on
`
	assert.Equal(t, want, string(got))

	again, err := r.NameHints(g)
	require.NoError(t, err)
	assert.Equal(t, got, again, "rendering is deterministic")
}

func TestRenderer_NameHintsWithServiceAndLegacySeparator(t *testing.T) {
	g := newPopulatedGraph(t)
	r := namehint.NewRenderer(namehint.RenderConfig{
		Pattern:           "%n",
		WithService:       true,
		LegacyDescription: true,
	})

	got, err := r.NameHints(g)
	require.NoError(t, err)

	lines := strings.Split(string(got), "\n")
	assert.Equal(t, `namehint.pcm._bluealsa0 "bluealsa:DEV=00:11:22:33:44:55,PROFILE=sco,SRV=org.bluealsa|DESCHeadset"`, lines[0])
	assert.Equal(t, `namehint.pcm._bluealsa1 "bluealsa:DEV=66:77:88:99:AA:BB,PROFILE=a2dp,SRV=org.bluealsa|DESCSpeaker|IOIDOutput"`, lines[1])
	assert.Equal(t, `namehint.ctl._bluealsa0 "bluealsa:DEV=00:11:22:33:44:55,SRV=org.bluealsa|DESCHeadset`, lines[2])
}

func TestRenderer_NameHintsEmptyGraph(t *testing.T) {
	r := namehint.NewRenderer(namehint.RenderConfig{})

	got, err := r.NameHints(newTestGraph(t))
	require.NoError(t, err)
	assert.Equal(t, "bluealsa.pcm.hint.show off\nbluealsa.ctl.hint.show off\n", string(got))
}

func TestRenderer_NameHintsEscapesQuotes(t *testing.T) {
	registry := mocks.NewMockDeviceRegistry(gomock.NewController(t))
	registry.EXPECT().Device(headsetPath).Return(namehint.DeviceInfo{
		Address: "00:11:22:33:44:55",
		Alias:   `Bob's "Buds"`,
	}, nil)

	g := namehint.NewGraph(registry, zap.NewNop().Sugar())
	_, err := g.AddPcm(pcmOn(headsetPath+"/a2dpsrc/sink", headsetPath, namehint.TransportA2DPSource, namehint.StreamPlayback))
	require.NoError(t, err)

	got, err := namehint.NewRenderer(namehint.RenderConfig{Pattern: "%n"}).NameHints(g)
	require.NoError(t, err)
	assert.Contains(t, string(got), `|Bob's \"Buds\"|IOIDOutput"`)
}

func TestRenderer_NameHintsTooLong(t *testing.T) {
	g := newPopulatedGraph(t)
	r := namehint.NewRenderer(namehint.RenderConfig{Pattern: strings.Repeat("%n", 100)})

	_, err := r.NameHints(g)
	assert.ErrorIs(t, err, namehint.ErrDescriptionTooLong)
}

func TestRenderer_Defaults(t *testing.T) {
	g := newTestGraph(t)
	for _, info := range []namehint.PcmInfo{
		pcmOn(headsetPath+"/a2dpsrc/sink", headsetPath, namehint.TransportA2DPSource, namehint.StreamPlayback),
		pcmOn(headsetPath+"/hfpag/sink", headsetPath, namehint.TransportHFPAG, namehint.StreamPlayback),
		pcmOn(headsetPath+"/hfpag/source", headsetPath, namehint.TransportHFPAG, namehint.StreamCapture),
		pcmOn(speakerPath+"/a2dpsrc/sink", speakerPath, namehint.TransportA2DPSource, namehint.StreamPlayback),
	} {
		_, err := g.AddPcm(info)
		require.NoError(t, err)
	}

	r := namehint.NewRenderer(namehint.RenderConfig{
		DefaultControl: true,
		Capabilities:   namehint.Capabilities{Battery: true, Extended: true},
	})

	want := `playback.a2dp "pcm.bluealsa:DEV=66:77:88:99:AA:BB,PROFILE=a2dp,SRV=org.bluealsa"
capture.sco "pcm.bluealsa:DEV=00:11:22:33:44:55,PROFILE=sco,SRV=org.bluealsa"
playback.sco "pcm.bluealsa:DEV=00:11:22:33:44:55,PROFILE=sco,SRV=org.bluealsa"
ctl { type bluealsa device "FF:FF:FF:FF:FF:FF" service "org.bluealsa" battery { @func refer name defaults.bluealsa.ctl.battery } extended { @func refer name defaults.bluealsa.ctl.extended }}
`
	got := r.Defaults(g)
	assert.Equal(t, want, string(got))
	assert.Equal(t, got, r.Defaults(g))

	// the speaker leaving hands playback.a2dp back to the headset, which
	// now also owns the control device
	g.RemovePcm(speakerPath + "/a2dpsrc/sink")
	got = r.Defaults(g)
	assert.Contains(t, string(got), `playback.a2dp "pcm.bluealsa:DEV=00:11:22:33:44:55,PROFILE=a2dp,SRV=org.bluealsa"`)
	assert.Contains(t, string(got), `ctl { type bluealsa device "00:11:22:33:44:55" service "org.bluealsa"`)
}

func TestRenderer_DefaultControlTarget(t *testing.T) {
	tests := []struct {
		name string
		pcms []namehint.PcmInfo
		want string
	}{
		{
			name: "a2dp and sco on different services keep a2dp",
			pcms: []namehint.PcmInfo{
				pcmOn(headsetPath+"/hfpag/sink", headsetPath, namehint.TransportHFPAG, namehint.StreamPlayback),
				func() namehint.PcmInfo {
					info := pcmOn(speakerPath+"/a2dpsrc/sink", speakerPath, namehint.TransportA2DPSource, namehint.StreamPlayback)
					info.Service = serviceOther
					return info
				}(),
			},
			want: `ctl { type bluealsa device "66:77:88:99:AA:BB" service "org.bluealsa.sink"}` + "\n",
		},
		{
			name: "sco only",
			pcms: []namehint.PcmInfo{
				pcmOn(headsetPath+"/hspag/sink", headsetPath, namehint.TransportHSPAG, namehint.StreamPlayback),
			},
			want: `ctl { type bluealsa device "00:11:22:33:44:55" service "org.bluealsa"}` + "\n",
		},
		{
			name: "asha only",
			pcms: []namehint.PcmInfo{
				pcmOn(headsetPath+"/ashasrc/sink", headsetPath, namehint.TransportASHASource, namehint.StreamPlayback),
			},
			want: `ctl { type bluealsa device "00:11:22:33:44:55" service "org.bluealsa"}` + "\n",
		},
		{
			name: "capture only has no control device",
			pcms: []namehint.PcmInfo{
				pcmOn(headsetPath+"/a2dpsnk/source", headsetPath, namehint.TransportA2DPSink, namehint.StreamCapture),
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t)
			for _, info := range tt.pcms {
				_, err := g.AddPcm(info)
				require.NoError(t, err)
			}

			got := string(namehint.NewRenderer(namehint.RenderConfig{DefaultControl: true}).Defaults(g))
			ctl := ""
			if i := strings.Index(got, "ctl {"); i >= 0 {
				ctl = got[i:]
			}
			assert.Equal(t, tt.want, ctl)
		})
	}
}

func TestRenderer_DefaultsWithoutControl(t *testing.T) {
	g := newPopulatedGraph(t)

	got := string(namehint.NewRenderer(namehint.RenderConfig{}).Defaults(g))
	assert.NotContains(t, got, "ctl {")
	assert.Contains(t, got, "playback.a2dp ")
	assert.Empty(t, namehint.NewRenderer(namehint.RenderConfig{}).Defaults(newTestGraph(t)))
}
