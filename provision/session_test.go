package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidestore/anisette"
	"github.com/sidestore/anisette/gsa"
	"github.com/sidestore/anisette/store"
)

// fakeApple is a canned GSA client for session tests.
type fakeApple struct {
	lookupErr error
}

func (f *fakeApple) Lookup(ctx context.Context) (gsa.ProvisioningURLs, error) {
	if f.lookupErr != nil {
		return gsa.ProvisioningURLs{}, f.lookupErr
	}
	return testURLs, nil
}

func (f *fakeApple) StartProvisioning(ctx context.Context, url string) (string, error) {
	return "c3BpbQ==", nil
}

func (f *fakeApple) EndProvisioning(ctx context.Context, url, cpim string) (string, string, error) {
	return "cHRt", "dGs=", nil
}

// newSessionServer serves the provisioning websocket endpoint with the given
// server-side script.
func newSessionServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := chi.NewRouter()
	mux.Get("/v3/provisioning_session", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		script(conn)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	if !assert.NoError(t, err) {
		return nil
	}
	var decoded map[string]string
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func newSessionService(t *testing.T, st store.IdentityStore, apple appleClient) *Service {
	t.Helper()
	svc := NewService(st, testLogger())
	svc.newApple = func(env gsa.Envelope) appleClient {
		assert.NotEmpty(t, env.LocalUserID)
		assert.NotEmpty(t, env.DeviceID)
		return apple
	}
	return svc
}

func provisionedIdentifier(t *testing.T, st store.IdentityStore) string {
	t.Helper()
	identifier, err := anisette.NewIdentifier()
	require.NoError(t, err)
	require.NoError(t, st.SetIdentifier(context.Background(), identifier))
	return identifier
}

func TestProvisionFullSession(t *testing.T) {
	st := store.NewMemoryStore()
	identifier := provisionedIdentifier(t, st)

	srv := newSessionServer(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "GiveIdentifier"}))
		reply := readFrame(t, conn)
		assert.Equal(t, identifier, reply["identifier"])

		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "GiveStartProvisioningData"}))
		reply = readFrame(t, conn)
		assert.Equal(t, "c3BpbQ==", reply["spim"])

		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "GiveEndProvisioningData", "cpim": "Y3BpbQ=="}))
		reply = readFrame(t, conn)
		assert.Equal(t, "cHRt", reply["ptm"])
		assert.Equal(t, "dGs=", reply["tk"])

		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "ProvisioningSuccess", "adi_pb": "YWRp"}))
	})

	svc := newSessionService(t, st, &fakeApple{})
	require.NoError(t, svc.Provision(context.Background(), srv.URL, anisette.ClientInfo{
		ClientInfo: "ci",
		UserAgent:  "ua",
	}))

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "YWRp", state.ADIBlob)
}

func TestProvisionServerAborts(t *testing.T) {
	st := store.NewMemoryStore()
	provisionedIdentifier(t, st)

	srv := newSessionServer(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "GiveIdentifier"}))
		readFrame(t, conn)
		assert.NoError(t, conn.WriteJSON(map[string]string{"result": "ProvisioningError", "message": "server side failure"}))
	})

	svc := newSessionService(t, st, &fakeApple{})
	err := svc.Provision(context.Background(), srv.URL, anisette.ClientInfo{})

	var provErr *anisette.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "ProvisioningError", provErr.Result)
	assert.Equal(t, "server side failure", provErr.Message)

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.ADIBlob, "a failed handshake leaves no partial blob")
}

func TestProvisionNoIdentifier(t *testing.T) {
	svc := newSessionService(t, store.NewMemoryStore(), &fakeApple{})

	err := svc.Provision(context.Background(), "https://ani.example.com", anisette.ClientInfo{})
	var provErr *anisette.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "no device identifier", provErr.Result)
}

func TestProvisionLookupFailure(t *testing.T) {
	st := store.NewMemoryStore()
	provisionedIdentifier(t, st)

	svc := newSessionService(t, st, &fakeApple{lookupErr: errors.New("gsa unreachable")})
	err := svc.Provision(context.Background(), "https://ani.example.com", anisette.ClientInfo{})

	var provErr *anisette.ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "invalid lookup urls", provErr.Result)
}

func TestProvisionCancellation(t *testing.T) {
	st := store.NewMemoryStore()
	provisionedIdentifier(t, st)

	holdOpen := make(chan struct{})
	t.Cleanup(func() { close(holdOpen) })
	srv := newSessionServer(t, func(conn *websocket.Conn) {
		// Never send a frame; the client must not hang once cancelled.
		<-holdOpen
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	svc := newSessionService(t, st, &fakeApple{})
	err := svc.Provision(ctx, srv.URL, anisette.ClientInfo{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.ADIBlob)
}

func TestSessionURL(t *testing.T) {
	cases := []struct {
		server string
		want   string
	}{
		{"http://ani.example.com", "ws://ani.example.com/v3/provisioning_session"},
		{"https://ani.example.com", "wss://ani.example.com/v3/provisioning_session"},
		{"https://ani.example.com/", "wss://ani.example.com/v3/provisioning_session"},
		{"https://ani.example.com:6969/base", "wss://ani.example.com:6969/base/v3/provisioning_session"},
		{"wss://ani.example.com", "wss://ani.example.com/v3/provisioning_session"},
	}
	for _, tc := range cases {
		got, err := sessionURL(tc.server)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := sessionURL("ftp://ani.example.com")
	assert.Error(t, err)
}
