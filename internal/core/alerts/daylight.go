package alerts

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Zenith angles for sunrise calculation. Official is the sun's upper limb
// touching the horizon; civil twilight extends the window to 6 degrees below.
const (
	zenithOfficial      = 90.833
	zenithCivilTwilight = 96.0
)

// DaylightCalculator computes and caches sunrise/sunset windows per calendar
// day per location. Extreme latitudes degrade to always-day or always-night
// instead of failing.
type DaylightCalculator struct {
	logger *logrus.Logger
	mu     sync.Mutex
	cache  map[string]DaylightWindow
}

// NewDaylightCalculator creates a daylight calculator
func NewDaylightCalculator(logger *logrus.Logger) *DaylightCalculator {
	return &DaylightCalculator{
		logger: logger,
		cache:  make(map[string]DaylightWindow),
	}
}

// IsDaylight reports whether now falls inside the buffered daylight window
// for the configured location. Coordinates are validated at config-save
// time, so no coordinate errors can surface here.
func (d *DaylightCalculator) IsDaylight(now time.Time, cfg DaylightConfig) bool {
	loc := cfg.location()
	local := now.In(loc)

	w := d.Window(local, cfg)
	if w.AlwaysUp {
		return true
	}
	if w.NeverUp {
		return false
	}

	buffer := time.Duration(d.bufferMinutes(local, cfg)) * time.Minute
	return local.After(w.Sunrise.Add(buffer)) && local.Before(w.Sunset.Add(-buffer))
}

// Window returns the (memoized) daylight window for the calendar day of t
func (d *DaylightCalculator) Window(t time.Time, cfg DaylightConfig) DaylightWindow {
	loc := cfg.location()
	local := t.In(loc)

	key := cacheKey(local, cfg)
	d.mu.Lock()
	if w, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return w
	}
	d.mu.Unlock()

	w := computeWindow(local, cfg, loc)

	d.mu.Lock()
	d.cache[key] = w
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"date":      local.Format("2006-01-02"),
		"latitude":  cfg.Latitude,
		"longitude": cfg.Longitude,
		"sunrise":   w.Sunrise.Format("15:04"),
		"sunset":    w.Sunset.Format("15:04"),
		"always_up": w.AlwaysUp,
		"never_up":  w.NeverUp,
	}).Debug("Computed daylight window")

	return w
}

// PruneBefore drops cached windows older than the given day. Called from a
// scheduled job so the cache does not grow one entry per day forever.
func (d *DaylightCalculator) PruneBefore(day time.Time) {
	cutoff := day.Format("2006-01-02")
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, w := range d.cache {
		if w.Date.Format("2006-01-02") < cutoff {
			delete(d.cache, key)
		}
	}
}

// bufferMinutes picks the buffer for the date: either the flat configured
// buffer, or the seasonal one when seasonal adjustment is enabled. Seasons
// flip for Southern-Hemisphere latitudes.
func (d *DaylightCalculator) bufferMinutes(t time.Time, cfg DaylightConfig) int {
	if !cfg.SeasonalBuffers {
		return cfg.BufferMins
	}
	if isSummer(t, cfg.Latitude) {
		return cfg.SummerBufferMins
	}
	return cfg.WinterBufferMins
}

// isSummer uses meteorological half-years: May-October counts as the
// northern summer half. Below the equator the halves swap.
func isSummer(t time.Time, latitude float64) bool {
	m := t.Month()
	northernSummer := m >= time.May && m <= time.October
	if latitude < 0 {
		return !northernSummer
	}
	return northernSummer
}

func (cfg DaylightConfig) location() *time.Location {
	if cfg.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func cacheKey(local time.Time, cfg DaylightConfig) string {
	return fmt.Sprintf("%s|%.4f|%.4f|%t", local.Format("2006-01-02"), cfg.Latitude, cfg.Longitude, cfg.UseCivilTwilight)
}

// computeWindow implements the standard NOAA/almanac sunrise equation for
// the local calendar day of t.
func computeWindow(t time.Time, cfg DaylightConfig, loc *time.Location) DaylightWindow {
	zenith := zenithOfficial
	if cfg.UseCivilTwilight {
		zenith = zenithCivilTwilight
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)

	sunriseUT, riseOK := solarEventUT(day, cfg.Latitude, cfg.Longitude, zenith, true)
	sunsetUT, setOK := solarEventUT(day, cfg.Latitude, cfg.Longitude, zenith, false)

	w := DaylightWindow{Date: day}
	if !riseOK || !setOK {
		// Polar day or polar night: decide by the sun's altitude at local
		// noon rather than failing.
		if sunAboveHorizonAtNoon(day, cfg.Latitude, zenith) {
			w.AlwaysUp = true
		} else {
			w.NeverUp = true
		}
		return w
	}

	w.Sunrise = utToLocal(day, sunriseUT, loc)
	w.Sunset = utToLocal(day, sunsetUT, loc)
	return w
}

// solarEventUT returns the UT hour of sunrise (rising=true) or sunset for
// the given day and location, or ok=false when the sun never crosses the
// requested zenith at that latitude.
func solarEventUT(day time.Time, latitude, longitude, zenith float64, rising bool) (float64, bool) {
	n := float64(day.YearDay())
	lngHour := longitude / 15.0

	var approx float64
	if rising {
		approx = n + (6.0-lngHour)/24.0
	} else {
		approx = n + (18.0-lngHour)/24.0
	}

	// Sun's mean anomaly and true longitude
	m := 0.9856*approx - 3.289
	l := m + 1.916*sinDeg(m) + 0.020*sinDeg(2*m) + 282.634
	l = normalizeDeg(l)

	// Right ascension, adjusted into the same quadrant as l
	ra := normalizeDeg(atanDeg(0.91764 * tanDeg(l)))
	lQuadrant := math.Floor(l/90.0) * 90.0
	raQuadrant := math.Floor(ra/90.0) * 90.0
	ra = (ra + lQuadrant - raQuadrant) / 15.0

	// Declination
	sinDec := 0.39782 * sinDeg(l)
	cosDec := cosDeg(asinDeg(sinDec))

	// Local hour angle
	cosH := (cosDeg(zenith) - sinDec*sinDeg(latitude)) / (cosDec * cosDeg(latitude))
	if cosH > 1 || cosH < -1 {
		return 0, false
	}

	var h float64
	if rising {
		h = 360.0 - acosDeg(cosH)
	} else {
		h = acosDeg(cosH)
	}
	h /= 15.0

	localMeanTime := h + ra - 0.06571*approx - 6.622
	ut := localMeanTime - lngHour
	for ut < 0 {
		ut += 24
	}
	for ut >= 24 {
		ut -= 24
	}
	return ut, true
}

// sunAboveHorizonAtNoon approximates the polar-day/polar-night decision
// from the solar declination on the given day.
func sunAboveHorizonAtNoon(day time.Time, latitude, zenith float64) bool {
	n := float64(day.YearDay())
	m := 0.9856*(n+0.5) - 3.289
	l := normalizeDeg(m + 1.916*sinDeg(m) + 0.020*sinDeg(2*m) + 282.634)
	sinDec := 0.39782 * sinDeg(l)
	dec := asinDeg(sinDec)

	// Maximum solar altitude at local noon
	altitude := 90.0 - math.Abs(latitude-dec)
	return altitude > 90.0-zenith
}

func utToLocal(day time.Time, utHour float64, loc *time.Location) time.Time {
	h := int(utHour)
	mins := int(math.Round((utHour - float64(h)) * 60))
	utc := time.Date(day.Year(), day.Month(), day.Day(), h, mins, 0, 0, time.UTC)
	return utc.In(loc)
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func sinDeg(d float64) float64  { return math.Sin(d * math.Pi / 180) }
func cosDeg(d float64) float64  { return math.Cos(d * math.Pi / 180) }
func tanDeg(d float64) float64  { return math.Tan(d * math.Pi / 180) }
func asinDeg(x float64) float64 { return math.Asin(x) * 180 / math.Pi }
func acosDeg(x float64) float64 { return math.Acos(x) * 180 / math.Pi }
func atanDeg(x float64) float64 { return math.Atan(x) * 180 / math.Pi }
