// Package instruments resolves venue-local market identifiers to instrument
// metadata: quote currency, fee rates and size precision. Metadata is loaded
// once from a YAML file at startup; the gateway treats it as immutable.
package instruments

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Instrument describes one tradable market on a venue.
type Instrument struct {
	ID             string   // canonical id, e.g. "BTC_USDT.ZB"
	Symbol         string   // venue-local symbol used on control calls
	LocalMarketIDs []string // identifiers the push feed uses for this market
	BaseCurrency   string
	QuoteCurrency  string
	MakerFee       decimal.Decimal
	TakerFee       decimal.Decimal
	SizePrecision  int32
}

// Provider is an in-memory instrument lookup.
type Provider struct {
	byID    map[string]Instrument
	byLocal map[string]Instrument
}

type fileInstrument struct {
	ID             string   `yaml:"id"`
	Symbol         string   `yaml:"symbol"`
	LocalMarketIDs []string `yaml:"local_market_ids"`
	BaseCurrency   string   `yaml:"base_currency"`
	QuoteCurrency  string   `yaml:"quote_currency"`
	MakerFee       string   `yaml:"maker_fee"`
	TakerFee       string   `yaml:"taker_fee"`
	SizePrecision  int32    `yaml:"size_precision"`
}

// LoadFile reads instrument metadata from a YAML file.
func LoadFile(path string) (*Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	var doc struct {
		Instruments []fileInstrument `yaml:"instruments"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}

	list := make([]Instrument, 0, len(doc.Instruments))
	for _, fi := range doc.Instruments {
		maker, err := decimal.NewFromString(fi.MakerFee)
		if err != nil {
			return nil, fmt.Errorf("instrument %s maker_fee: %w", fi.ID, err)
		}
		taker, err := decimal.NewFromString(fi.TakerFee)
		if err != nil {
			return nil, fmt.Errorf("instrument %s taker_fee: %w", fi.ID, err)
		}
		list = append(list, Instrument{
			ID:             fi.ID,
			Symbol:         fi.Symbol,
			LocalMarketIDs: fi.LocalMarketIDs,
			BaseCurrency:   fi.BaseCurrency,
			QuoteCurrency:  fi.QuoteCurrency,
			MakerFee:       maker,
			TakerFee:       taker,
			SizePrecision:  fi.SizePrecision,
		})
	}
	return NewProvider(list)
}

// NewProvider builds a lookup over the given instruments.
func NewProvider(list []Instrument) (*Provider, error) {
	p := &Provider{
		byID:    make(map[string]Instrument, len(list)),
		byLocal: make(map[string]Instrument),
	}
	for _, inst := range list {
		if inst.ID == "" || inst.Symbol == "" {
			return nil, fmt.Errorf("instrument missing id or symbol: %+v", inst)
		}
		if _, dup := p.byID[inst.ID]; dup {
			return nil, fmt.Errorf("duplicate instrument id %s", inst.ID)
		}
		p.byID[inst.ID] = inst
		p.byLocal[inst.Symbol] = inst
		for _, local := range inst.LocalMarketIDs {
			p.byLocal[local] = inst
		}
	}
	return p, nil
}

// Get returns the instrument for a canonical id.
func (p *Provider) Get(id string) (Instrument, bool) {
	inst, ok := p.byID[id]
	return inst, ok
}

// ResolveLocalMarketID maps a venue-local market identifier (push-feed market
// name or numeric id) to its instrument.
func (p *Provider) ResolveLocalMarketID(local string) (Instrument, bool) {
	inst, ok := p.byLocal[local]
	return inst, ok
}

// Symbols lists the venue-local symbols of every known instrument.
func (p *Provider) Symbols() []string {
	out := make([]string, 0, len(p.byID))
	for _, inst := range p.byID {
		out = append(out, inst.Symbol)
	}
	return out
}

// All returns every instrument.
func (p *Provider) All() []Instrument {
	out := make([]Instrument, 0, len(p.byID))
	for _, inst := range p.byID {
		out = append(out, inst)
	}
	return out
}
