package engine

import "fmt"

// ErrorKind classifies every failure the engine surfaces. Raw transport
// errors never cross the engine boundary; they are wrapped into one of
// these kinds at the component that issued the call.
type ErrorKind int

const (
	// KindValidation is a recoverable, field-local failure. It blocks only
	// the owning step's advance.
	KindValidation ErrorKind = iota + 1
	// KindEnrichment is a recoverable background failure. It never blocks
	// navigation.
	KindEnrichment
	// KindGeneration is a recoverable dynamic-step fetch failure. The step
	// offers a manual retry and the flow auto-advances after a grace
	// period rather than stalling.
	KindGeneration
	// KindSubmission is the terminal generation call failing. Collected
	// values are preserved and the flow returns to its last step.
	KindSubmission
	// KindAuthorization is the distinguished token-expiry failure during
	// submission. Only the verification step is re-prompted.
	KindAuthorization
)

// FlowError carries a classified failure plus the step and field it
// belongs to, when known.
type FlowError struct {
	Kind   ErrorKind
	StepID string
	Field  string
	Err    error
}

func (e *FlowError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("engine: step %q field %q: %v", e.StepID, e.Field, e.Err)
	case e.StepID != "":
		return fmt.Sprintf("engine: step %q: %v", e.StepID, e.Err)
	default:
		return fmt.Sprintf("engine: %v", e.Err)
	}
}

func (e *FlowError) Unwrap() error { return e.Err }

// Message returns the stable user-facing text for the error's kind. The
// underlying cause is never shown to the user.
func (e *FlowError) Message() string {
	switch e.Kind {
	case KindValidation:
		return "Please complete the highlighted field before continuing."
	case KindEnrichment:
		return "We couldn't prepare suggestions in the background. You can keep going."
	case KindGeneration:
		return "We couldn't load this step's questions. Retry, or continue without them."
	case KindSubmission:
		return "Generating your document failed. Your answers are saved; please retry."
	case KindAuthorization:
		return "Your verification expired. Please verify again to submit."
	default:
		return "Something went wrong. Please try again."
	}
}
