package pricing

import "math"

// Regime is the behaviour mode of an asset's price process.
type Regime string

const (
	RegimeRange     Regime = "RANGE"
	RegimeTrendUp   Regime = "TREND_UP"
	RegimeTrendDown Regime = "TREND_DOWN"
)

// Trending reports whether r is one of the trend regimes.
func (r Regime) Trending() bool {
	return r == RegimeTrendUp || r == RegimeTrendDown
}

// Params are the tunables of the regime-switching process. They are shared
// by every asset and session unless a caller builds its own.
type Params struct {
	// Range behaviour.
	KRevert      float64 // mean reversion strength toward the range center
	Sigma0       float64 // base noise scale in RANGE
	AlphaEdge    float64 // extra noise at the range edges
	ZoneFrac     float64 // edge zone size as a fraction of range width
	ReboundPush  float64 // drift pushing price back inside from an edge
	PBreak0      float64 // breakout probability in an edge zone at t=0
	PBreakSlope  float64 // breakout probability gain per tick in RANGE
	PBreakMax    float64
	RangeTimeout int // ticks in RANGE before a forced breakout

	// Trend behaviour.
	KTarget         float64 // attraction toward the trend target
	SigmaTrend      float64
	TargetLambdaMin float64 // target distance in range widths
	TargetLambdaMax float64
	TargetZoneFrac  float64 // how close to the target ends the trend, in widths
	PTrendEnd       float64 // per-tick chance a trend ends early

	// Range rebuild after a trend.
	RebuildWidthFrac float64
	WidthJitter      float64

	// Initialization.
	PTrend0       float64 // chance an asset starts in a trend
	InitWidthMin  float64 // initial range width as a fraction of price
	InitWidthMax  float64
	MinWidthTicks int // range width floor, in ticks
}

// DefaultParams returns the calibrated parameter set.
func DefaultParams() Params {
	return Params{
		KRevert:      0.08,
		Sigma0:       0.6,
		AlphaEdge:    1.2,
		ZoneFrac:     0.12,
		ReboundPush:  1.0,
		PBreak0:      0.04,
		PBreakSlope:  0.0004,
		PBreakMax:    0.22,
		RangeTimeout: 220,

		KTarget:         0.06,
		SigmaTrend:      0.85,
		TargetLambdaMin: 0.8,
		TargetLambdaMax: 2.5,
		TargetZoneFrac:  0.10,
		PTrendEnd:       0.01,

		RebuildWidthFrac: 1.0,
		WidthJitter:      0.15,

		PTrend0:       0.35,
		InitWidthMin:  0.02,
		InitWidthMax:  0.06,
		MinWidthTicks: 10,
	}
}

// Market is the state of one asset's price process in one session.
//
// support < resistance always holds: both are derived from a width that is
// floored at MinWidthTicks ticks. The range levels are kept during a trend
// as the most recently held range.
type Market struct {
	params Params
	tick   float64

	regime     Regime
	price      float64 // unrounded level
	support    float64
	resistance float64

	// Valid only while trending. The target is directional: above the start
	// for TREND_UP, below it for TREND_DOWN.
	hasTrend    bool
	trendStart  float64
	trendTarget float64

	ticksInRange int
}

// NewMarket initializes a market around price. The draw order is fixed:
// width fraction, regime coin, then direction coin and target lambda when
// the asset starts in a trend.
func NewMarket(price, tick float64, p Params, rng *Stream) *Market {
	m := &Market{params: p, tick: tick, regime: RegimeRange, price: price}

	w0 := math.Max(m.minWidth(), price*rng.Uniform(p.InitWidthMin, p.InitWidthMax))
	m.support = price - 0.5*w0
	m.resistance = price + 0.5*w0

	if rng.Float64() < p.PTrend0 {
		m.regime = RegimeTrendDown
		if rng.Coin() {
			m.regime = RegimeTrendUp
		}
		m.initTrend(rng)
	}
	return m
}

// Regime returns the current regime.
func (m *Market) Regime() Regime { return m.regime }

// Price returns the unrounded price level.
func (m *Market) Price() float64 { return m.price }

// DisplayPrice returns the price snapped to the market tick.
func (m *Market) DisplayPrice() float64 { return RoundToTick(m.price, m.tick) }

// Support returns the lower boundary of the current or last range.
func (m *Market) Support() float64 { return m.support }

// Resistance returns the upper boundary of the current or last range.
func (m *Market) Resistance() float64 { return m.resistance }

// TicksInRange returns the number of ticks spent in the current range.
func (m *Market) TicksInRange() int { return m.ticksInRange }

// Trend returns the trend start and target levels; ok is false outside a trend.
func (m *Market) Trend() (start, target float64, ok bool) {
	return m.trendStart, m.trendTarget, m.hasTrend
}

func (m *Market) minWidth() float64 {
	return m.tick * float64(m.params.MinWidthTicks)
}

func (m *Market) width() float64 {
	return math.Max(m.minWidth(), m.resistance-m.support)
}

// initTrend derives trend levels from the last range: the trend starts at
// the broken boundary and targets lambda range widths beyond it.
func (m *Market) initTrend(rng *Stream) {
	width := m.width()
	lambda := rng.Uniform(m.params.TargetLambdaMin, m.params.TargetLambdaMax)

	switch m.regime {
	case RegimeTrendUp:
		m.trendStart = m.resistance
		m.trendTarget = m.trendStart + lambda*width
		m.hasTrend = true
	case RegimeTrendDown:
		m.trendStart = m.support
		m.trendTarget = m.trendStart - lambda*width
		m.hasTrend = true
	default:
		m.clearTrend()
	}
}

func (m *Market) clearTrend() {
	m.hasTrend = false
	m.trendStart = 0
	m.trendTarget = 0
}

// rebuildRange centers a new range on the current price once a trend ends.
func (m *Market) rebuildRange(rng *Stream) {
	jitter := 1 + rng.Uniform(-m.params.WidthJitter, m.params.WidthJitter)
	w := math.Max(m.minWidth(), m.width()*m.params.RebuildWidthFrac*jitter)

	m.support = m.price - 0.5*w
	m.resistance = m.price + 0.5*w
	m.regime = RegimeRange
	m.ticksInRange = 0
	m.clearTrend()
}

// Step advances the process by one tick.
func (m *Market) Step(rng *Stream) {
	if m.regime.Trending() {
		m.stepTrend(rng)
		return
	}
	m.stepRange(rng)
}

func (m *Market) stepTrend(rng *Stream) {
	p := m.params
	if !m.hasTrend {
		m.initTrend(rng)
	}
	width := m.width()
	target := m.trendTarget

	m.price += p.KTarget*(target-m.price) + p.SigmaTrend*rng.Gaussian()

	tz := p.TargetZoneFrac * width
	var nearTarget bool
	if m.regime == RegimeTrendUp {
		nearTarget = m.price >= target-tz
	} else {
		nearTarget = m.price <= target+tz
	}
	if nearTarget || rng.Float64() < p.PTrendEnd {
		m.rebuildRange(rng)
	}
}

func (m *Market) stepRange(rng *Stream) {
	p := m.params
	width := m.width()
	center := 0.5 * (m.support + m.resistance)

	edge := clamp(math.Abs(m.price-center)/(0.5*width), 0, 1)
	sigma := p.Sigma0 * (1 + p.AlphaEdge*edge)
	drift := -p.KRevert * (m.price - center)

	zone := p.ZoneFrac * width
	pBreak := clamp(p.PBreak0+p.PBreakSlope*float64(m.ticksInRange), 0, p.PBreakMax)

	if m.price >= m.resistance-zone {
		if rng.Float64() < pBreak {
			m.regime = RegimeTrendUp
			m.initTrend(rng)
			return
		}
		drift -= math.Abs(p.ReboundPush)
		sigma *= 1.25
	}
	if m.price <= m.support+zone {
		if rng.Float64() < pBreak {
			m.regime = RegimeTrendDown
			m.initTrend(rng)
			return
		}
		drift += math.Abs(p.ReboundPush)
		sigma *= 1.25
	}

	m.price += drift + sigma*rng.Gaussian()
	m.ticksInRange++

	if m.ticksInRange > p.RangeTimeout {
		m.regime = RegimeTrendDown
		if rng.Coin() {
			m.regime = RegimeTrendUp
		}
		m.initTrend(rng)
	}
}
