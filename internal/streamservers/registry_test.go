package streamservers

import (
	"context"
	"encoding/json"
	"testing"

	"streamguard/internal/core/domain"
	"streamguard/internal/streamservers/restreamer"
	"streamguard/internal/streamservers/restreamer/restreamertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v2"
)

func intPtr(v int) *int { return &v }

func u32(v uint32) *uint32 { return &v }

func sampleEntry() Entry {
	return Entry{
		StreamServer: NewRestreamer(&restreamer.Restreamer{
			BaseURL:  "http://core:8080",
			Username: "admin",
			Password: "secret",
			Channel:  "restreamer-ui:ingest:abc",
		}),
		Name:     "main",
		Priority: intPtr(1),
		OverrideScenes: &domain.SwitchingScenes{
			Normal: "Live", Low: "Low", Offline: "BRB",
		},
		DependsOn: &DependsOn{
			Name:         "backup",
			BackupScenes: domain.SwitchingScenes{Normal: "Backup", Low: "Backup low", Offline: "Backup BRB"},
		},
		Enabled: true,
	}
}

func assertSameEntry(t *testing.T, want, got Entry) {
	t.Helper()

	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Priority, got.Priority)
	assert.Equal(t, want.OverrideScenes, got.OverrideScenes)
	assert.Equal(t, want.DependsOn, got.DependsOn)
	assert.Equal(t, want.Enabled, got.Enabled)
	assert.Equal(t, want.StreamServer.Kind(), got.StreamServer.Kind())

	wantR, ok := want.StreamServer.Restreamer()
	require.True(t, ok)
	gotR, ok := got.StreamServer.Restreamer()
	require.True(t, ok)
	assert.Equal(t, wantR.BaseURL, gotR.BaseURL)
	assert.Equal(t, wantR.Username, gotR.Username)
	assert.Equal(t, wantR.Password, gotR.Password)
	assert.Equal(t, wantR.Channel, gotR.Channel)
}

func TestEntry_JSONRoundTrip(t *testing.T) {
	want := sampleEntry()

	raw, err := json.Marshal(want)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"streamServer":{"type":"Restreamer","baseUrl":"http://core:8080"`)
	assert.Contains(t, string(raw), `"overrideScenes"`)
	assert.Contains(t, string(raw), `"backupScenes"`)

	var got Entry
	require.NoError(t, json.Unmarshal(raw, &got))
	assertSameEntry(t, want, got)
}

func TestEntry_YAMLRoundTrip(t *testing.T) {
	want := sampleEntry()

	raw, err := yaml.Marshal(want)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "type: Restreamer")
	assert.Contains(t, string(raw), "channel: restreamer-ui:ingest:abc")

	var got Entry
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assertSameEntry(t, want, got)
}

func TestEntry_DecodeConfig(t *testing.T) {
	const doc = `
- streamServer:
    type: Restreamer
    baseUrl: http://core:8080
    username: admin
    password: secret
    channel: ch
  name: main
- streamServer:
    type: Restreamer
    baseUrl: http://backup:8080
    username: admin
    password: secret
    channel: ch
  name: backup
  enabled: false
  priority: 2
`
	var entries []Entry
	require.NoError(t, yaml.Unmarshal([]byte(doc), &entries))
	require.Len(t, entries, 2)

	assert.True(t, entries[0].Enabled, "enabled defaults to true")
	assert.Nil(t, entries[0].Priority)
	assert.False(t, entries[1].Enabled)
	assert.Equal(t, 2, *entries[1].Priority)

	r, ok := entries[1].StreamServer.Restreamer()
	require.True(t, ok)
	assert.Equal(t, "http://backup:8080", r.BaseURL)
}

func TestEntry_JSONEnabledDefault(t *testing.T) {
	var e Entry
	raw := `{"streamServer":{"type":"Restreamer","baseUrl":"http://x","username":"u","password":"p","channel":"c"},"name":"n"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.True(t, e.Enabled)

	raw = `{"streamServer":{"type":"Restreamer"},"name":"n","enabled":false}`
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.False(t, e.Enabled)
}

func TestStreamServer_UnknownKind(t *testing.T) {
	var s StreamServer
	err := json.Unmarshal([]byte(`{"type":"Belabox","url":"x"}`), &s)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	err = json.Unmarshal([]byte(`{"baseUrl":"x"}`), &s)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	err = yaml.Unmarshal([]byte("type: Nginx\n"), &s)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)

	_, err = json.Marshal(StreamServer{})
	assert.Error(t, err)
}

func TestStreamServer_ZeroValueIsOffline(t *testing.T) {
	var s StreamServer
	ctx := context.Background()

	assert.Equal(t, domain.SwitchOffline, s.Switch(ctx, nil))
	assert.Nil(t, s.Bitrate(ctx).Message)
	_, ok := s.SourceInfo(ctx)
	assert.False(t, ok)

	_, ok = s.Restreamer()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Validate(), domain.ErrUnknownKind)
}

func TestStreamServer_DispatchesToRestreamer(t *testing.T) {
	srv := restreamertest.NewServer(t)
	srv.SetProgress(3000, 4)

	s := NewRestreamer(&restreamer.Restreamer{
		BaseURL:  srv.URL,
		Username: restreamertest.Username,
		Password: restreamertest.Password,
		Channel:  restreamertest.Channel,
	})
	s.Attach(Deps{Logger: zaptest.NewLogger(t).Sugar()})
	ctx := context.Background()

	triggers := &domain.Triggers{Offline: u32(200), Low: u32(500)}
	assert.Equal(t, domain.SwitchNormal, s.Switch(ctx, triggers))

	msg := s.Bitrate(ctx).Message
	require.NotNil(t, msg)
	assert.Equal(t, "3000", *msg)

	info, ok := s.SourceInfo(ctx)
	require.True(t, ok)
	assert.Equal(t, "3000.0 Kbps | dropped 4 packets", info)

	srv.SetDown(true)
	assert.Equal(t, domain.SwitchOffline, s.Switch(ctx, triggers))
}

func TestRegistry_EnabledOrdering(t *testing.T) {
	mk := func(name string, prio *int, enabled bool) Entry {
		e := sampleEntry()
		e.Name, e.Priority, e.Enabled = name, prio, enabled
		return e
	}
	reg := NewRegistry([]Entry{
		mk("no-prio-a", nil, true),
		mk("prio-5", intPtr(5), true),
		mk("disabled", intPtr(0), false),
		mk("prio-1", intPtr(1), true),
		mk("no-prio-b", nil, true),
		mk("prio-5-later", intPtr(5), true),
	})

	var names []string
	for _, e := range reg.Enabled() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"prio-1", "prio-5", "prio-5-later", "no-prio-a", "no-prio-b"}, names)
	assert.Len(t, reg.Entries(), 6, "disabled entries stay in the model")
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry([]Entry{sampleEntry()})

	e, err := reg.Lookup("main")
	require.NoError(t, err)
	assert.Equal(t, "main", e.Name)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, domain.ErrServerNotFound)
}

func TestRegistry_Dangling(t *testing.T) {
	main := sampleEntry()
	backup := sampleEntry()
	backup.Name = "backup"
	backup.DependsOn = &DependsOn{Name: "ghost"}

	reg := NewRegistry([]Entry{main, backup})
	assert.Equal(t, []string{"ghost"}, reg.Dangling())

	reg = NewRegistry([]Entry{main})
	assert.Equal(t, []string{"backup"}, reg.Dangling())
}

func TestRegistry_Validate(t *testing.T) {
	assert.NoError(t, NewRegistry([]Entry{sampleEntry()}).Validate())

	noName := sampleEntry()
	noName.Name = ""
	assert.Error(t, NewRegistry([]Entry{noName}).Validate())

	noServer := sampleEntry()
	noServer.StreamServer = StreamServer{}
	assert.ErrorIs(t, NewRegistry([]Entry{noServer}).Validate(), domain.ErrUnknownKind)
}

func TestEntry_Scenes(t *testing.T) {
	defaults := domain.SwitchingScenes{Normal: "N", Low: "L", Offline: "O"}

	e := sampleEntry()
	assert.Equal(t, "Live", e.Scenes(defaults).Normal)

	e.OverrideScenes = nil
	assert.Equal(t, defaults, e.Scenes(defaults))
}
