// internal/domain/snapshot/velocity.go

package snapshot

// DefaultHoursFloor is the minimum interval, in hours, used when two
// observations were taken almost simultaneously. It keeps a near-zero
// denominator from blowing up the velocity.
const DefaultHoursFloor = 0.1

// NeutralAcceleration is the defined baseline when no prior-period
// velocity exists or the prior period did not grow: "no change", not
// "infinite growth".
const NeutralAcceleration = 1.0

// Velocity describes the growth dynamics of a content item derived
// from its snapshot history.
type Velocity struct {
	ViewsPerHour  float64
	LikesPerHour  float64
	Acceleration  float64
	GrowthRatePct float64
	// Samples is the number of observations the computation saw.
	// Samples < 2 means insufficient history: every rate is zero and
	// acceleration is neutral. That is a defined state, not an error.
	Samples int
}

// Sufficient reports whether enough history existed for a non-trivial
// result.
func (v Velocity) Sufficient() bool { return v.Samples >= 2 }

// ComputeVelocity derives views/hour, likes/hour, acceleration and
// growth percentage from a chronologically ascending history (oldest
// first). floorHours guards the divide-by-near-zero case; pass 0 to
// use DefaultHoursFloor.
//
// Negative view deltas (metric corrections, takedowns) propagate as
// negative velocity: a declining item is a valid signal.
func ComputeVelocity(ordered []VideoSnapshot, floorHours float64) Velocity {
	if floorHours <= 0 {
		floorHours = DefaultHoursFloor
	}
	if len(ordered) < 2 {
		return Velocity{Acceleration: NeutralAcceleration, Samples: len(ordered)}
	}

	latest := ordered[len(ordered)-1]
	previous := ordered[len(ordered)-2]

	hours := hoursBetween(previous, latest, floorHours)
	deltaViews := float64(latest.Views - previous.Views)
	deltaLikes := float64(latest.Likes - previous.Likes)

	v := Velocity{
		ViewsPerHour: deltaViews / hours,
		LikesPerHour: deltaLikes / hours,
		Acceleration: NeutralAcceleration,
		Samples:      len(ordered),
	}

	if previous.Views > 0 {
		v.GrowthRatePct = deltaViews / float64(previous.Views) * 100
	}

	if len(ordered) >= 3 {
		older := ordered[len(ordered)-3]
		olderHours := hoursBetween(older, previous, floorHours)
		olderVelocity := float64(previous.Views-older.Views) / olderHours
		if olderVelocity > 0 {
			v.Acceleration = v.ViewsPerHour / olderVelocity
		}
	}

	return v
}

func hoursBetween(earlier, later VideoSnapshot, floorHours float64) float64 {
	h := later.ObservedAt.Sub(earlier.ObservedAt).Hours()
	if h < floorHours {
		return floorHours
	}
	return h
}
