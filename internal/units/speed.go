package units

// SpeedKMH returns the speed in km/h of a vehicle that covered distanceMM
// millimetres in durationMS milliseconds. A zero duration yields 0.
//
// mm/ms is m/s, so km/h = d*3.6/t, computed as d*36/(t*10) in 64 bits so the
// product cannot overflow. The result is truncated, never rounded up.
func SpeedKMH(distanceMM, durationMS uint32) uint32 {
	if durationMS == 0 {
		return 0
	}
	return uint32((uint64(distanceMM) * 36) / (uint64(durationMS) * 10))
}
