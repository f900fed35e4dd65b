package rte

import (
	"fmt"
	"time"

	"github.com/kilianp07/hems/auth"
	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/contract"
)

// NewProvider creates the colour provider selected by cfg.Mode. It returns
// nil when no mode is set; Tempo contracts then need colour entities. In
// mock mode the provider is a *ServerMock the caller may also Start.
func NewProvider(cfg config.TempoConfig) (contract.ColorProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Mode {
	case "public":
		return NewPublicClient(cfg.APIURL, timeout), nil
	case "rte":
		creds, err := auth.NewClientCred(auth.Conf{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret, TokenURL: cfg.TokenURL})
		if err != nil {
			return nil, err
		}
		return NewRTEClient(cfg.APIURL, creds, timeout), nil
	case "static":
		c, err := contract.ParseColor(cfg.Static)
		if err != nil {
			return nil, fmt.Errorf("tempo: %w", err)
		}
		return StaticProvider(c), nil
	case "mock":
		return NewServerMock(cfg.Mock)
	}
	return nil, nil
}
