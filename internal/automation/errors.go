package automation

import "fmt"

// Step names one stage of a run.
type Step string

const (
	StepConnect    Step = "connect"
	StepNavigate   Step = "navigate"
	StepFindInput  Step = "find_input"
	StepClear      Step = "clear_input"
	StepType       Step = "type_input"
	StepFindButton Step = "find_button"
	StepClick      Step = "click_button"
)

// StepError reports which step of a run failed.
type StepError struct {
	Step   Step
	Detail string
	Err    error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Detail
	}
	return fmt.Sprintf("%s: %v", e.Detail, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(step Step, err error, format string, args ...any) error {
	return &StepError{Step: step, Detail: fmt.Sprintf(format, args...), Err: err}
}
