// Package control classifies transits against the speed limits, feeds the
// display log and coordinates the enforcement camera.
package control

import "github.com/banshee-data/speedgate/internal/traffic"

// Classify compares speed with limit. Anything above the limit is an
// infraction; reaching warningPercent of the limit is a warning.
func Classify(speedKMH, limitKMH, warningPercent uint32) traffic.Status {
	if speedKMH > limitKMH {
		return traffic.Infraction
	}
	threshold := uint64(limitKMH) * uint64(warningPercent) / 100
	if uint64(speedKMH) >= threshold {
		return traffic.Warning
	}
	return traffic.Normal
}
