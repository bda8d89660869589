package scanserver_test

import (
	"bytes"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicdb/hashdb"
	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/scanserver"
	"github.com/forensicdb/hashdb/internal/settings"
)

func startTestServer(t *testing.T) (*scanserver.Server, net.Addr) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "db")
	db, err := hashdb.Create(dir, settings.Default(), nil)
	require.NoError(t, err)

	var c changes.ChangeRecord
	h := bytes.Repeat([]byte{0xaa}, 16)
	f := bytes.Repeat([]byte{0xf1}, 16)
	require.NoError(t, db.InsertHash(h, f, 4096, 0, "", &c))

	config := scanserver.DefaultConfig()
	config.ReadTimeoutSeconds = 2
	server := scanserver.New(db, config, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(l)

	t.Cleanup(func() {
		server.Close()
		db.Close()
	})
	return server, l.Addr()
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestScanHit(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)

	payload, err := scanserver.Query(conn, bytes.Repeat([]byte{0xaa}, 16))
	require.NoError(t, err)
	assert.Contains(t, payload, `"source_id":1`)
	assert.Contains(t, payload, `"file_offset":4096`)
}

func TestScanMissSentinel(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)

	payload, err := scanserver.Query(conn, bytes.Repeat([]byte{0xbb}, 16))
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestMultipleQueriesPerConnection(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)

	for i := 0; i < 3; i++ {
		payload, err := scanserver.Query(conn, bytes.Repeat([]byte{0xaa}, 16))
		require.NoError(t, err)
		assert.NotEmpty(t, payload)
	}
}

func TestUnknownCommandDropsConnection(t *testing.T) {
	_, addr := startTestServer(t)
	conn := dial(t, addr)

	request := append([]byte{'x'}, bytes.Repeat([]byte{0xaa}, 16)...)
	_, err := conn.Write(request)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "server drops the connection without a reply")
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := scanserver.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 14500, config.Port)
	assert.Equal(t, 30, config.ReadTimeoutSeconds)
}
