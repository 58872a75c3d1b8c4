package kite

import (
	"errors"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(domain.ExchangeKite, func(s pricefeed.Settings) ([]port.Connector, error) {
		if s.APIKey == "" || s.AccessToken == "" {
			return nil, errors.New("kite: api key and access token required")
		}
		if len(s.Instruments) == 0 {
			return nil, errors.New("kite: no instrument tokens")
		}
		return []port.Connector{New(Options{
			APIKey:      s.APIKey,
			AccessToken: s.AccessToken,
			Instruments: s.Instruments,
			Mode:        s.Mode,
		})}, nil
	})
}
