package service

import (
	"github.com/kjstillabower/weather-reporter/internal/cache"
	"github.com/kjstillabower/weather-reporter/internal/testhelpers"
)

func cacheClock(c *testhelpers.Clock) cache.Option {
	return cache.WithClock(c.Now)
}
