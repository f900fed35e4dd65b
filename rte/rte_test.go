package rte

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/auth"
	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/contract"
)

func newMock(t *testing.T, pinned map[string]string) (*ServerMock, *httptest.Server) {
	t.Helper()
	s, err := NewServerMockWithRegistry(config.RTEMockConfig{Seed: 5, Colors: pinned}, prometheus.NewRegistry())
	require.NoError(t, err)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestPublicClientAgainstMock(t *testing.T) {
	s, ts := newMock(t, map[string]string{"2025-01-15": "rouge"})
	c := NewPublicClient(ts.URL+"/api/", time.Second)

	col, err := c.Color(context.Background(), time.Date(2025, 1, 15, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Equal(t, contract.Red, col)
	require.Equal(t, 1.0, testutil.ToFloat64(s.total.WithLabelValues("jourTempo")))
}

func TestPublicClientUnknownYet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dateJour":"2025-01-16","codeJour":0,"periode":"2024-2025"}`))
	}))
	defer ts.Close()
	_, err := NewPublicClient(ts.URL, time.Second).Color(context.Background(), time.Date(2025, 1, 16, 0, 0, 0, 0, time.Local))
	require.ErrorIs(t, err, ErrColorUnavailable)
}

func TestPublicClientStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()
	_, err := NewPublicClient(ts.URL, time.Second).Color(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrColorUnavailable)
}

func TestMockPinAndTomorrow(t *testing.T) {
	s, ts := newMock(t, nil)
	s.clock = func() time.Time { return time.Date(2025, 2, 3, 12, 0, 0, 0, time.Local) }

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/jourTempo/tomorrow", strings.NewReader(`{"color":"white"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	col, err := s.Color(context.Background(), time.Date(2025, 2, 4, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Equal(t, contract.White, col)

	resp, err = http.Get(ts.URL + "/api/jourTempo/not-a-day")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 1.0, testutil.ToFloat64(s.failed))
}

func TestRTEClientRefreshesToken(t *testing.T) {
	var tokens int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokens, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	s, _ := newMock(t, map[string]string{"2025-03-02": "blanc"})
	var calls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.routes().ServeHTTP(w, r)
	}))
	defer api.Close()

	creds, err := auth.NewClientCred(auth.Conf{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL})
	require.NoError(t, err)
	c := NewRTEClient(api.URL+"/open_api/tempo_like_supply_contract/v1", creds, time.Second)

	loc := time.FixedZone("CET", 3600)
	col, err := c.Color(context.Background(), time.Date(2025, 3, 2, 9, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Equal(t, contract.White, col)
	require.EqualValues(t, 2, atomic.LoadInt32(&tokens))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.TempoConfig{})
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = NewProvider(config.TempoConfig{Mode: "Static", Static: "red"})
	require.NoError(t, err)
	col, _ := p.Color(context.Background(), time.Now())
	require.Equal(t, contract.Red, col)

	p, err = NewProvider(config.TempoConfig{Mode: "public"})
	require.NoError(t, err)
	require.IsType(t, &PublicClient{}, p)

	_, err = NewProvider(config.TempoConfig{Mode: "rte"})
	require.Error(t, err)

	_, err = NewProvider(config.TempoConfig{Mode: "carrier-pigeon"})
	require.Error(t, err)
}
