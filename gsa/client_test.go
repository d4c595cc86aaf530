package gsa

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope() Envelope {
	return Envelope{
		ClientInfo:  "<MacBookPro13,2> <macOS;13.1;22C65> <com.apple.AuthKit/1 (com.apple.dt.Xcode/3594.4.19)>",
		UserAgent:   "Xcode",
		LocalUserID: "ABCDEF",
		DeviceID:    "6F3B42B2-22A1-4E80-B2A5-9F5B6E1C0001",
	}
}

func plistBody(t *testing.T, doc any) []byte {
	t.Helper()
	body, err := plist.Marshal(doc, plist.XMLFormat)
	require.NoError(t, err)
	return body
}

func TestLookup(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.Write(plistBody(t, map[string]any{
			"urls": map[string]string{
				"midStartProvisioning":  "https://gsa.apple.com/grandslam/MidService/startMachineProvisioning",
				"midFinishProvisioning": "https://gsa.apple.com/grandslam/MidService/finishMachineProvisioning",
			},
		}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	client.SetLookupURL(srv.URL)

	urls, err := client.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://gsa.apple.com/grandslam/MidService/startMachineProvisioning", urls.Start)
	assert.Equal(t, "https://gsa.apple.com/grandslam/MidService/finishMachineProvisioning", urls.End)

	// Every request carries the full Apple envelope.
	assert.Equal(t, testEnvelope().ClientInfo, headers.Get("X-Mme-Client-Info"))
	assert.Equal(t, "Xcode", headers.Get("User-Agent"))
	assert.Equal(t, "text/x-xml-plist", headers.Get("Content-Type"))
	assert.Equal(t, "*/*", headers.Get("Accept"))
	assert.Equal(t, "ABCDEF", headers.Get("X-Apple-I-MD-LU"))
	assert.Equal(t, testEnvelope().DeviceID, headers.Get("X-Mme-Device-Id"))
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`), headers.Get("X-Apple-I-Client-Time"))
	assert.NotEmpty(t, headers.Get("X-Apple-Locale"))
	assert.NotEmpty(t, headers.Get("X-Apple-I-TimeZone"))
}

func TestLookupMissingURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(plistBody(t, map[string]any{"urls": map[string]string{}}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	client.SetLookupURL(srv.URL)

	_, err := client.Lookup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing provisioning urls")
}

func TestLookupBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	client.SetLookupURL(srv.URL)

	_, err := client.Lookup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestStartProvisioning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req plistRequest
		_, err = plist.Unmarshal(body, &req)
		require.NoError(t, err)
		assert.Empty(t, req.Header)
		assert.Empty(t, req.Request)

		w.Write(plistBody(t, map[string]any{
			"Response": map[string]string{"spim": "c3BpbQ=="},
		}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	spim, err := client.StartProvisioning(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "c3BpbQ==", spim)
}

func TestStartProvisioningNoSPIM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(plistBody(t, map[string]any{"Response": map[string]string{}}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	_, err := client.StartProvisioning(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spim")
}

func TestEndProvisioning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req plistRequest
		_, err = plist.Unmarshal(body, &req)
		require.NoError(t, err)
		assert.Equal(t, "Y3BpbQ==", req.Request["cpim"])

		w.Write(plistBody(t, map[string]any{
			"Response": map[string]string{"ptm": "cHRt", "tk": "dGs="},
		}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	ptm, tk, err := client.EndProvisioning(context.Background(), srv.URL, "Y3BpbQ==")
	require.NoError(t, err)
	assert.Equal(t, "cHRt", ptm)
	assert.Equal(t, "dGs=", tk)
}

func TestEndProvisioningIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(plistBody(t, map[string]any{
			"Response": map[string]string{"ptm": "cHRt"},
		}))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	_, _, err := client.EndProvisioning(context.Background(), srv.URL, "Y3BpbQ==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing ptm or tk")
}

func TestMalformedPlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a plist"))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(testEnvelope(), testLogger())
	client.SetLookupURL(srv.URL)

	_, err := client.Lookup(context.Background())
	assert.Error(t, err)
}
