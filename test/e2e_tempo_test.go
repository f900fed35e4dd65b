package test

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/app"
	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/rte"
	"github.com/kilianp07/hems/test/util"
)

func TestTempoContractFollowsMockServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := util.FreeAddr()
	require.NoError(t, err)
	mock, err := rte.NewServerMockWithRegistry(config.RTEMockConfig{Address: addr, Seed: 7}, prometheus.NewRegistry())
	require.NoError(t, err)
	go func() { _ = mock.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, util.RTEServerTimeout)
	defer waitCancel()
	require.NoError(t, util.WaitForRTEServer(waitCtx, addr))

	cfg := &config.Config{
		Network: config.NetworkConfig{
			Driver: config.DriverFake,
			Nodes: []map[string]any{
				{"id": "grid", "class": "publicpowergrid", "current_power": 800, "max_power": 9000,
					"contract": map[string]any{"class": "rtetempo"}},
			},
		},
		Strategies: []map[string]any{{"class": "nosell"}},
		Tempo:      config.TempoConfig{Mode: "public", APIURL: "http://" + addr + "/api"},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := app.New(ctx, cfg)
	require.NoError(t, err)
	defer svc.Close()
	require.Empty(t, svc.Warnings)

	tempo, ok := svc.Network.Contract().(*contract.Tempo)
	require.True(t, ok, "grid contract is %T", svc.Network.Contract())

	now := time.Now()
	for day, color := range map[time.Time]string{
		tempo.ColorDate(now):                  "rouge",
		tempo.ColorDate(now).AddDate(0, 0, 1): "blanc",
	} {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			"http://"+addr+"/api/jourTempo/"+day.Format("2006-01-02"), bytes.NewBufferString(`{"color":"`+color+`"}`))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	current, err := tempo.CurrentColor(now)
	require.NoError(t, err)
	assert.Equal(t, contract.Red, current)
	next, err := tempo.NextColor(now)
	require.NoError(t, err)
	assert.Equal(t, contract.White, next)

	peak, err := tempo.PeakPrice(now)
	require.NoError(t, err)
	assert.InDelta(t, 0.7562, peak, 1e-9)
}
