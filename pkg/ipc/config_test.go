package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	conf := Config{PlatformDir: "/tmp/pear"}.withDefaults()

	assert.Equal(t, DefaultConnectTimeout, conf.ConnectTimeout)
	assert.Equal(t, DefaultHeartbeatInterval, conf.HeartbeatInterval)
	assert.Equal(t, DefaultHeartbeatInterval, conf.HeartbeatTimeout)
	assert.Equal(t, DefaultHeartbeatClock, conf.HeartbeatClock)
	assert.Equal(t, DefaultCloseTimeout, conf.CloseTimeout)
	assert.Equal(t, DefaultLockPollInterval, conf.LockPollInterval)
	assert.NotNil(t, conf.Codec)
	assert.NotNil(t, conf.Clock)
	assert.NotNil(t, conf.Unhandled)
	assert.NoError(t, conf.validate())

	path, err := conf.LockPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/pear", "corestores", "platform", "primary-key"), path)
}

func TestConfigValidate(t *testing.T) {
	conf := Config{CloseTimeout: -time.Second}.withDefaults()
	assert.ErrorIs(t, conf.validate(), ErrConfig)

	conf = Config{HeartbeatClock: -1}.withDefaults()
	assert.ErrorIs(t, conf.validate(), ErrConfig)

	_, err := Config{}.clientTransport()
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Config{}.serverTransport()
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Config{}.LockPath()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPlatformDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/u", "Library", "Application Support", "pear"), platformDirFor("darwin", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", "AppData", "Roaming", "pear"), platformDirFor("windows", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", ".config", "pear"), platformDirFor("linux", "/home/u"))
}

func TestParseFile(t *testing.T) {
	fc, err := ParseFile([]byte(`
socket-path: /tmp/pear.sock
platform-dir: /tmp/pear
connect-timeout: 5s
heartbeat-interval: 500ms
heartbeat-clock: 3
methods:
  - ping
  - name: notify
    kind: send
  - name: tail
    kind: stream
    id: 200
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pear.sock", fc.SocketPath)
	assert.Equal(t, 5*time.Second, fc.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, fc.HeartbeatInterval)
	assert.Equal(t, 3, fc.HeartbeatClock)
	require.Len(t, fc.Methods, 3)

	conf := Config{HeartbeatClock: 9, CloseTimeout: time.Second}
	require.NoError(t, fc.Apply(&conf))

	assert.Equal(t, "/tmp/pear.sock", conf.SocketPath)
	assert.Equal(t, "/tmp/pear", conf.PlatformDir)
	assert.Equal(t, 3, conf.HeartbeatClock)
	assert.Equal(t, time.Second, conf.CloseTimeout)
	assert.Equal(t, []MethodDescriptor{
		{Name: "ping", Kind: KindRequest},
		{Name: "notify", Kind: KindSend},
		{Name: "tail", Kind: KindStream, ID: 200},
	}, conf.Methods)
}

func TestParseFileBadKind(t *testing.T) {
	fc, err := ParseFile([]byte("methods:\n  - name: x\n    kind: broadcast\n"))
	require.NoError(t, err)

	var conf Config
	assert.ErrorIs(t, fc.Apply(&conf), ErrConfig)

	_, err = ParseFile([]byte("connect-timeout: [1"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("close-timeout: 250ms\n"), 0o644))

	fc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, fc.CloseTimeout)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindRequest, "request": KindRequest, "Send": KindSend, "stream": KindStream} {
		k, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, k)
	}
	_, err := ParseKind("other")
	assert.Error(t, err)
}
