package processor

import (
	"math"
	"sort"
	"time"

	appconfig "tpoflow/config"
	"tpoflow/logger"
	"tpoflow/models"
)

// levelState is one quantized price row of the active session. Levels are
// keyed by tick index so map keys stay exact.
type levelState struct {
	tpoCount int
	volume   float64
}

// session is the active market-profile window for one symbol.
type session struct {
	start  time.Time
	end    time.Time
	levels map[int64]*levelState

	totalTPO    int
	totalVolume float64
	sumPV       float64 // Σ(level price × volume), for the volume-weighted mean

	pocKey int64
	vahKey int64
	valKey int64
}

// ProfileBuilder maintains the rolling time-price distribution for one symbol
// and derives POC / VAH / VAL plus structural events from finalized candles.
type ProfileBuilder struct {
	symbol string
	cfg    appconfig.ProfileConfig
	log    *logger.Log

	current  *session
	previous *models.ProfileSnapshot

	lastClose     float64
	haveLastClose bool
	// dip/poke flags from the previous bar, for the "same or next candle"
	// half of the bounce and rejection rules.
	prevBarDippedVAL bool
	prevBarPokedVAH  bool
}

func NewProfileBuilder(symbol string, cfg appconfig.ProfileConfig) *ProfileBuilder {
	b := &ProfileBuilder{
		symbol: symbol,
		cfg:    cfg,
		log:    logger.GetLogger(),
	}
	b.log.WithComponent("profile").WithFields(logger.Fields{
		"symbol":           symbol,
		"session_duration": cfg.SessionDuration.String(),
		"tick_size":        cfg.TickSize,
	}).Info("profile builder initialized")
	return b
}

func (b *ProfileBuilder) tickKey(price float64) int64 {
	return int64(math.Round(price / b.cfg.TickSize))
}

func (b *ProfileBuilder) keyPrice(key int64) float64 {
	return float64(key) * b.cfg.TickSize
}

// OnFinalCandle folds a finalized candle into the active session and returns
// a structural event when one fired. The candle that opens a new session
// never produces an event.
func (b *ProfileBuilder) OnFinalCandle(c models.Candle) *models.ProfileEvent {
	boundary := c.PeriodStart.Truncate(b.cfg.SessionDuration)

	rolled := false
	if b.current == nil || !boundary.Equal(b.current.start) {
		b.rollover(boundary)
		rolled = true
	}

	b.record(c)
	b.recompute()

	var event *models.ProfileEvent
	if !rolled {
		event = b.detectEvent(c)
	}

	b.prevBarDippedVAL = c.Low <= b.keyPrice(b.current.valKey)
	b.prevBarPokedVAH = c.High >= b.keyPrice(b.current.vahKey)
	b.lastClose = c.Close
	b.haveLastClose = true

	return event
}

func (b *ProfileBuilder) rollover(boundary time.Time) {
	if b.current != nil && len(b.current.levels) > 0 {
		snap := b.snapshotOf(b.current)
		b.previous = &snap
		b.log.WithComponent("profile").WithFields(logger.Fields{
			"symbol": b.symbol,
			"vah":    snap.VAH,
			"poc":    snap.POC,
			"val":    snap.VAL,
		}).Info("session closed")
	}

	b.current = &session{
		start:  boundary,
		end:    boundary.Add(b.cfg.SessionDuration),
		levels: make(map[int64]*levelState),
	}
	b.haveLastClose = false
	b.prevBarDippedVAL = false
	b.prevBarPokedVAH = false

	b.log.WithComponent("profile").WithFields(logger.Fields{
		"symbol":        b.symbol,
		"session_start": boundary,
	}).Info("new session started")
}

// record maps the candle's quantized high-low range into the level set: every
// touched level gains one TPO and an equal share of the candle's volume.
func (b *ProfileBuilder) record(c models.Candle) {
	lowKey := b.tickKey(c.Low)
	highKey := b.tickKey(c.High)
	if highKey < lowKey {
		lowKey, highKey = highKey, lowKey
	}

	n := highKey - lowKey + 1
	volPerLevel := c.Volume / float64(n)

	for key := lowKey; key <= highKey; key++ {
		lvl, ok := b.current.levels[key]
		if !ok {
			lvl = &levelState{}
			b.current.levels[key] = lvl
		}
		lvl.tpoCount++
		lvl.volume += volPerLevel
		b.current.totalTPO++
		b.current.sumPV += b.keyPrice(key) * volPerLevel
	}
	b.current.totalVolume += c.Volume
}

// vwMean is the session's volume-weighted mean price, the tie-break anchor.
func (s *session) vwMean() float64 {
	if s.totalVolume == 0 {
		return 0
	}
	return s.sumPV / s.totalVolume
}

func (b *ProfileBuilder) recompute() {
	s := b.current
	if len(s.levels) == 0 {
		return
	}

	keys := make([]int64, 0, len(s.levels))
	for k := range s.levels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	s.pocKey = b.findPOC(keys)
	s.vahKey, s.valKey = b.expandValueArea(keys, s.pocKey)
}

// findPOC picks the level with the highest TPO count; ties break by greater
// accumulated volume, then by price nearest the session volume-weighted mean.
func (b *ProfileBuilder) findPOC(keys []int64) int64 {
	s := b.current
	mean := s.vwMean()

	best := keys[0]
	for _, k := range keys[1:] {
		cur, cand := s.levels[best], s.levels[k]
		switch {
		case cand.tpoCount > cur.tpoCount:
			best = k
		case cand.tpoCount == cur.tpoCount && cand.volume > cur.volume:
			best = k
		case cand.tpoCount == cur.tpoCount && cand.volume == cur.volume:
			if math.Abs(b.keyPrice(k)-mean) < math.Abs(b.keyPrice(best)-mean) {
				best = k
			}
		}
	}
	return best
}

// expandValueArea grows the value area outward from the POC one level at a
// time, always taking the side whose next level has the larger TPO count,
// until the included levels hold the configured fraction of the session's
// total TPO count. On equal counts the side whose level price is nearer the
// session volume-weighted mean is taken; equal distances fall to the lower
// side.
func (b *ProfileBuilder) expandValueArea(keys []int64, pocKey int64) (vah, val int64) {
	s := b.current
	mean := s.vwMean()

	pocIdx := sort.Search(len(keys), func(i int) bool { return keys[i] >= pocKey })
	target := float64(s.totalTPO) * b.cfg.ValueAreaPercent / 100

	upper, lower := pocIdx, pocIdx
	included := s.levels[pocKey].tpoCount

	for float64(included) < target {
		var above, below *levelState
		if upper+1 < len(keys) {
			above = s.levels[keys[upper+1]]
		}
		if lower-1 >= 0 {
			below = s.levels[keys[lower-1]]
		}
		if above == nil && below == nil {
			break
		}

		takeAbove := false
		switch {
		case below == nil:
			takeAbove = true
		case above == nil:
			takeAbove = false
		case above.tpoCount > below.tpoCount:
			takeAbove = true
		case above.tpoCount < below.tpoCount:
			takeAbove = false
		default:
			distAbove := math.Abs(b.keyPrice(keys[upper+1]) - mean)
			distBelow := math.Abs(b.keyPrice(keys[lower-1]) - mean)
			takeAbove = distAbove < distBelow
		}

		if takeAbove {
			upper++
			included += s.levels[keys[upper]].tpoCount
		} else {
			lower--
			included += s.levels[keys[lower]].tpoCount
		}
	}

	return keys[upper], keys[lower]
}

// detectEvent classifies the bar against the freshly recomputed profile.
// Bounce and rejection allow the dip/poke to have happened on this bar or
// the one before it; POC and boundary events require a close-to-close cross.
func (b *ProfileBuilder) detectEvent(c models.Candle) *models.ProfileEvent {
	s := b.current
	if len(s.levels) == 0 {
		return nil
	}
	vah := b.keyPrice(s.vahKey)
	val := b.keyPrice(s.valKey)
	poc := b.keyPrice(s.pocKey)

	var ev models.ProfileEvent
	switch {
	case (c.Low <= val || b.prevBarDippedVAL) && c.Close > val && c.Close <= vah:
		ev = models.ProfileValBounce
	case (c.High >= vah || b.prevBarPokedVAH) && c.Close < vah && c.Close >= val:
		ev = models.ProfileVahRejection
	case c.Close > vah && b.haveLastClose && b.lastClose <= vah:
		ev = models.ProfileVahBreakout
	case c.Close < val && b.haveLastClose && b.lastClose >= val:
		ev = models.ProfileValBreak
	case b.haveLastClose && b.lastClose < poc && c.Close > poc:
		ev = models.ProfilePocReclaim
	case b.haveLastClose && b.lastClose > poc && c.Close < poc:
		ev = models.ProfilePocBreakdown
	default:
		return nil
	}

	b.log.WithComponent("profile").WithFields(logger.Fields{
		"symbol": b.symbol,
		"event":  ev,
		"close":  c.Close,
	}).Info("profile event detected")
	return &ev
}

func (b *ProfileBuilder) snapshotOf(s *session) models.ProfileSnapshot {
	return models.ProfileSnapshot{
		SessionStart: s.start,
		SessionEnd:   s.end,
		POC:          b.keyPrice(s.pocKey),
		VAH:          b.keyPrice(s.vahKey),
		VAL:          b.keyPrice(s.valKey),
		TotalTPO:     s.totalTPO,
		TotalVolume:  s.totalVolume,
		LevelCount:   len(s.levels),
	}
}

// Snapshot returns the current session profile, or false before any candle.
func (b *ProfileBuilder) Snapshot() (models.ProfileSnapshot, bool) {
	if b.current == nil || len(b.current.levels) == 0 {
		return models.ProfileSnapshot{}, false
	}
	return b.snapshotOf(b.current), true
}

// PreviousSession returns the closed previous session's final values.
func (b *ProfileBuilder) PreviousSession() (models.ProfileSnapshot, bool) {
	if b.previous == nil {
		return models.ProfileSnapshot{}, false
	}
	return *b.previous, true
}

// Levels returns the active session's levels in ascending price order,
// primarily for inspection and tests.
func (b *ProfileBuilder) Levels() []models.PriceLevel {
	if b.current == nil {
		return nil
	}
	keys := make([]int64, 0, len(b.current.levels))
	for k := range b.current.levels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.PriceLevel, 0, len(keys))
	for _, k := range keys {
		lvl := b.current.levels[k]
		out = append(out, models.PriceLevel{
			Price:    b.keyPrice(k),
			TPOCount: lvl.tpoCount,
			Volume:   lvl.volume,
		})
	}
	return out
}
