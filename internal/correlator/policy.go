package correlator

import "github.com/pbxlink/pbxlink/internal/database/models"

// Direction and disposition decisions are pure functions of channel/call
// facts so they can be tested without storage.

// Hangup cause codes with a dedicated disposition.
const (
	causeBusy     = "17"
	causeNoAnswer = "19"
)

// stateUp is the state description of a fully connected channel.
const stateUp = "Up"

// InferDirection decides the direction of a new call from its primary
// channel. A channel owned by a PBX user is an outgoing call. Without an
// owner, a caller id no longer than the short-extension threshold still
// looks like an unmapped internal phone dialing out. Everything else is
// incoming.
func InferDirection(hasUser bool, callerIDNum string, maxExtenLength int) string {
	if hasUser {
		return models.DirectionOut
	}
	if len(callerIDNum) <= maxExtenLength {
		return models.DirectionOut
	}
	return models.DirectionIn
}

// ShouldFlipInbound reports whether a secondary channel landing on a PBX
// user must flip an outgoing call to incoming: a leg delivered to an
// internal user means the call came from outside.
func ShouldFlipInbound(secondaryHasUser bool, callDirection string) bool {
	return secondaryHasUser && callDirection == models.DirectionOut
}

// Disposition classifies a call that ended without being answered.
// wasAnswered calls keep their status; the empty return means "leave as is".
func Disposition(wasAnswered bool, cause, causeTxt, lastState string, channelCount int) string {
	if wasAnswered {
		return ""
	}
	switch {
	case cause == causeBusy:
		return models.StatusBusy
	case cause == causeNoAnswer:
		return models.StatusNoAnswer
	case channelCount > 1:
		// Rang at least one other leg but nobody picked up.
		return models.StatusNoAnswer
	case causeTxt == "Normal Clearing" && lastState == stateUp:
		return models.StatusEnded
	default:
		return models.StatusFailed
	}
}
