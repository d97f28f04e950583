package alerts

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestDaylightWindowSanity(t *testing.T) {
	d := NewDaylightCalculator(testLogger())

	// London, June 21: sun rises before 06:00 UTC and sets after 20:00 UTC
	cfg := DaylightConfig{Latitude: 51.5074, Longitude: -0.1278, Timezone: "UTC"}
	day := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)

	w := d.Window(day, cfg)
	require.False(t, w.AlwaysUp)
	require.False(t, w.NeverUp)
	assert.True(t, w.Sunrise.Before(time.Date(2025, 6, 21, 6, 0, 0, 0, time.UTC)),
		"midsummer London sunrise should be before 06:00 UTC, got %s", w.Sunrise)
	assert.True(t, w.Sunset.After(time.Date(2025, 6, 21, 20, 0, 0, 0, time.UTC)),
		"midsummer London sunset should be after 20:00 UTC, got %s", w.Sunset)
}

func TestIsDaylight(t *testing.T) {
	d := NewDaylightCalculator(testLogger())
	cfg := DaylightConfig{Latitude: 51.5074, Longitude: -0.1278, Timezone: "UTC"}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"midsummer noon", time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC), true},
		{"midsummer midnight", time.Date(2025, 6, 21, 0, 30, 0, 0, time.UTC), false},
		{"midwinter noon", time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), true},
		{"midwinter evening", time.Date(2025, 12, 21, 19, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsDaylight(tt.at, cfg))
		})
	}
}

func TestIsDaylightBuffer(t *testing.T) {
	d := NewDaylightCalculator(testLogger())
	cfg := DaylightConfig{Latitude: 51.5074, Longitude: -0.1278, Timezone: "UTC", BufferMins: 60}

	day := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	w := d.Window(day, cfg)

	// 30 minutes after sunrise is inside the raw window but inside the
	// 60-minute buffer, so it does not count as daylight.
	assert.False(t, d.IsDaylight(w.Sunrise.Add(30*time.Minute), cfg))
	assert.True(t, d.IsDaylight(w.Sunrise.Add(90*time.Minute), cfg))
	assert.False(t, d.IsDaylight(w.Sunset.Add(-30*time.Minute), cfg))
}

func TestSeasonalBuffersFlipInSouthernHemisphere(t *testing.T) {
	d := NewDaylightCalculator(testLogger())

	// Sydney: June is winter, December is summer
	cfg := DaylightConfig{
		Latitude:         -33.8688,
		Longitude:        151.2093,
		Timezone:         "UTC",
		SeasonalBuffers:  true,
		SummerBufferMins: 10,
		WinterBufferMins: 120,
	}

	june := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	december := time.Date(2025, 12, 21, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 120, d.bufferMinutes(june, cfg), "June below the equator is winter")
	assert.Equal(t, 10, d.bufferMinutes(december, cfg), "December below the equator is summer")

	// Same dates in the northern hemisphere flip back
	cfg.Latitude = 51.5
	assert.Equal(t, 10, d.bufferMinutes(june, cfg))
	assert.Equal(t, 120, d.bufferMinutes(december, cfg))
}

func TestPolarLatitudesDegrade(t *testing.T) {
	d := NewDaylightCalculator(testLogger())

	// Longyearbyen, Svalbard
	cfg := DaylightConfig{Latitude: 78.2232, Longitude: 15.6267, Timezone: "UTC"}

	summer := d.Window(time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC), cfg)
	assert.True(t, summer.AlwaysUp, "polar day in June")
	assert.True(t, d.IsDaylight(time.Date(2025, 6, 21, 2, 0, 0, 0, time.UTC), cfg))

	winter := d.Window(time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), cfg)
	assert.True(t, winter.NeverUp, "polar night in December")
	assert.False(t, d.IsDaylight(time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), cfg))
}

func TestWindowMemoization(t *testing.T) {
	d := NewDaylightCalculator(testLogger())
	cfg := DaylightConfig{Latitude: 51.5074, Longitude: -0.1278, Timezone: "UTC"}

	day := time.Date(2025, 6, 21, 8, 0, 0, 0, time.UTC)
	first := d.Window(day, cfg)
	second := d.Window(day.Add(5*time.Hour), cfg)

	assert.Equal(t, first, second)
	assert.Len(t, d.cache, 1, "same day and location must share one cache entry")

	// Different day gets its own entry
	d.Window(day.AddDate(0, 0, 1), cfg)
	assert.Len(t, d.cache, 2)
}

func TestPruneBefore(t *testing.T) {
	d := NewDaylightCalculator(testLogger())
	cfg := DaylightConfig{Latitude: 51.5074, Longitude: -0.1278, Timezone: "UTC"}

	d.Window(time.Date(2025, 6, 19, 12, 0, 0, 0, time.UTC), cfg)
	d.Window(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC), cfg)
	d.Window(time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC), cfg)
	require.Len(t, d.cache, 3)

	d.PruneBefore(time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC))
	assert.Len(t, d.cache, 1)
}
