package safety

import "github.com/pkg/errors"

// Engine configuration errors.
var (
	// ErrUnknownMode is returned by SelectProfile when no profile is registered for the mode.
	ErrUnknownMode = errors.New("unknown safety mode")

	// ErrClockRegression is returned by SetClock when the new tick value lies
	// behind the current one.
	ErrClockRegression = errors.New("clock regression")

	// ErrInvalidCurve is returned when rate-limit breakpoints are empty or not
	// strictly increasing in speed.
	ErrInvalidCurve = errors.New("invalid rate limit curve")
)

// Transmit rejections.
var (
	// ErrAddressNotAllowed is returned when the frame's address and bus are not
	// in the profile's transmit allow-list.
	ErrAddressNotAllowed = errors.New("address not allowed")

	// ErrRateLimitExceeded is returned when the change from the last accepted
	// command exceeds the windup or unwind bound.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrRealtimeDeltaExceeded is returned when the change within the current
	// real-time window exceeds the configured delta.
	ErrRealtimeDeltaExceeded = errors.New("real-time delta exceeded")

	// ErrMagnitudeExceeded is returned when a command is outside the absolute limits.
	ErrMagnitudeExceeded = errors.New("magnitude exceeded")

	// ErrMeasurementDeviation is returned when a command strays too far from the
	// measured actuator value.
	ErrMeasurementDeviation = errors.New("too far from measured value")

	// ErrControlsNotAllowed is returned for a non-neutral command while disarmed.
	ErrControlsNotAllowed = errors.New("controls not allowed")

	// ErrNotNeutral is returned when a command without its request bit set
	// carries a non-neutral value.
	ErrNotNeutral = errors.New("inactive command is not neutral")

	// ErrCommandBlocked is returned when a profile policy forbids the frame's
	// content, e.g. an AEB request or a resume button while disarmed.
	ErrCommandBlocked = errors.New("command blocked by policy")

	// ErrRelayMalfunction is returned for every transmit after the stock system
	// was detected actuating.
	ErrRelayMalfunction = errors.New("relay malfunction")
)

// Receive trust failures.
var (
	// ErrChecksumMismatch is returned when a frame's checksum or length is wrong.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrCounterMismatch is returned when a rolling counter repeats or skips.
	ErrCounterMismatch = errors.New("counter mismatch")

	// ErrQualityFlagLow is returned when a frame reports its own signal as unreliable.
	ErrQualityFlagLow = errors.New("quality flag low")
)
