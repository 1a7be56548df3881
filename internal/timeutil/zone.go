package timeutil

import (
	"fmt"
	"time"
)

// LoadLocation resolves the zone schedule endpoints are written in.
// "" and "Local" give the host zone.
func LoadLocation(tz string) (*time.Location, error) {
	switch tz {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// IsTimezoneValid checks tz against the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := LoadLocation(tz)
	return err == nil
}
