package protocol

// SubscriptionFormat selects the shape the server uses for updates on a
// subscribed path.
type SubscriptionFormat string

const (
	FormatDelta SubscriptionFormat = "delta"
	FormatFull  SubscriptionFormat = "full"
)

// Valid reports whether the format is one the server understands.
func (f SubscriptionFormat) Valid() bool {
	return f == FormatDelta || f == FormatFull
}

// SubscriptionPolicy selects the server side throttling strategy for a
// subscribed path.
type SubscriptionPolicy string

const (
	PolicyInstant SubscriptionPolicy = "instant"
	PolicyIdeal   SubscriptionPolicy = "ideal"
	PolicyFixed   SubscriptionPolicy = "fixed"
)

// Valid reports whether the policy is one the server understands.
func (p SubscriptionPolicy) Valid() bool {
	return p == PolicyInstant || p == PolicyIdeal || p == PolicyFixed
}

// Subscription describes one desired telemetry path. Period and
// MinPeriod are in milliseconds; zero values and invalid enum values
// are omitted from the wire form.
type Subscription struct {
	Path      string
	Period    int
	MinPeriod int
	Format    SubscriptionFormat
	Policy    SubscriptionPolicy
}

// Entry returns the wire form of the subscription, validating each
// optional field against its enum before inclusion.
func (s Subscription) Entry() map[string]interface{} {
	entry := map[string]interface{}{
		"path": s.Path,
	}

	if s.Period > 0 {
		entry["period"] = s.Period
	}

	if s.MinPeriod > 0 {
		entry["minPeriod"] = s.MinPeriod
	}

	if s.Format.Valid() {
		entry["format"] = string(s.Format)
	}

	if s.Policy.Valid() {
		entry["policy"] = string(s.Policy)
	}

	return entry
}
