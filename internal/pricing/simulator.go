package pricing

import "github.com/shopspring/decimal"

// Simulator owns the random stream and one Market per asset of a session.
// Assets are always stepped in their configured order, which makes the
// consumption of the stream, and so the whole price path, a function of
// the seed alone.
//
// A Simulator is not safe for concurrent use.
type Simulator struct {
	tick    float64
	assets  []string
	rng     *Stream
	markets map[string]*Market
	prices  map[string]float64 // display prices, tick-rounded
}

// NewSimulator creates the market state of every asset up front, opening
// each at initialPrice snapped to the tick.
func NewSimulator(assets []string, initialPrice, tick float64, p Params, seed int64) *Simulator {
	s := &Simulator{
		tick:    tick,
		assets:  append([]string(nil), assets...),
		rng:     NewStream(seed),
		markets: make(map[string]*Market, len(assets)),
		prices:  make(map[string]float64, len(assets)),
	}
	for _, a := range s.assets {
		p0 := RoundToTick(initialPrice, tick)
		s.prices[a] = p0
		s.markets[a] = NewMarket(p0, tick, p, s.rng)
	}
	return s
}

// Step advances every asset once and refreshes the display prices.
func (s *Simulator) Step() {
	for _, a := range s.assets {
		m := s.markets[a]
		m.Step(s.rng)
		s.prices[a] = m.DisplayPrice()
	}
}

// Seed returns the seed of the underlying stream.
func (s *Simulator) Seed() int64 { return s.rng.Seed() }

// Tick returns the market tick size.
func (s *Simulator) Tick() float64 { return s.tick }

// Assets returns the asset symbols in stepping order.
func (s *Simulator) Assets() []string {
	return append([]string(nil), s.assets...)
}

// Price returns an asset's display price.
func (s *Simulator) Price(asset string) (float64, bool) {
	p, ok := s.prices[asset]
	return p, ok
}

// Quote returns an asset's display price as an exact tick multiple.
func (s *Simulator) Quote(asset string) (decimal.Decimal, bool) {
	p, ok := s.prices[asset]
	if !ok {
		return decimal.Zero, false
	}
	return Quote(p, s.tick), true
}

// Quotes returns the quote of every asset.
func (s *Simulator) Quotes() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.prices))
	for a, p := range s.prices {
		out[a] = Quote(p, s.tick)
	}
	return out
}

// Market returns a copy of an asset's market state.
func (s *Simulator) Market(asset string) (Market, bool) {
	m, ok := s.markets[asset]
	if !ok {
		return Market{}, false
	}
	return *m, true
}
