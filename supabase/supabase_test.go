package supabase

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method         string
	path           string
	contentProfile string
	body           []map[string]interface{}
}

// fakePostgrest records requests and replies with the given status.
func fakePostgrest(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	var lock sync.Mutex
	var requests []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body []map[string]interface{}
		json.Unmarshal(data, &body)

		lock.Lock()
		requests = append(requests, recordedRequest{
			method:         r.Method,
			path:           r.URL.Path,
			contentProfile: r.Header.Get("Content-Profile"),
			body:           body,
		})
		lock.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 400 {
			w.Write([]byte(`{"code":"500","message":"boom","details":"","hint":""}`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	return server, func() []recordedRequest {
		lock.Lock()
		defer lock.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestNew(t *testing.T) {
	_, err := New("", "key", "", "")
	assert.Error(t, err)
	_, err = New("http://localhost", "", "", "")
	assert.Error(t, err)
	_, err = New("http://localhost", "key", "", "")
	assert.NoError(t, err)
}

func TestUploadReadings(t *testing.T) {

	type row struct {
		MeterID string  `json:"meter_id"`
		Reading float64 `json:"reading"`
	}

	t.Run("Success", func(t *testing.T) {
		server, requests := fakePostgrest(t, http.StatusCreated)
		client, err := New(server.URL, "anon", "user-jwt", "metering")
		require.NoError(t, err)

		err = client.UploadReadings("readings", []row{{"M1", 1000.5}, {"M2", 2000}})
		require.NoError(t, err)
		assert.False(t, client.shouldReconnect)

		recorded := requests()
		require.Len(t, recorded, 1)
		assert.Equal(t, http.MethodPost, recorded[0].method)
		assert.Equal(t, "/rest/v1/readings", recorded[0].path)
		assert.Equal(t, "metering", recorded[0].contentProfile)
		require.Len(t, recorded[0].body, 2)
		assert.Equal(t, "M1", recorded[0].body[0]["meter_id"])
		assert.Equal(t, 1000.5, recorded[0].body[0]["reading"])
	})

	t.Run("Failure marks client for reconnection", func(t *testing.T) {
		server, _ := fakePostgrest(t, http.StatusInternalServerError)
		client, err := New(server.URL, "anon", "", "")
		require.NoError(t, err)

		err = client.UploadReadings("readings", []row{{"M1", 1}})
		assert.Error(t, err)
		assert.True(t, client.shouldReconnect)
	})
}
