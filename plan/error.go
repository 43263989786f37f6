package plan

import (
	"fmt"

	"github.com/influxdata/onboarding/kit/platform/errors"
)

var (
	// ErrPlanNotFound is returned when a plan identifier is not configured.
	ErrPlanNotFound = &errors.Error{
		Code: errors.EInvalid,
		Msg:  "plan not found",
	}

	// ErrNoPlans is returned when a catalogue defines no plans.
	ErrNoPlans = &errors.Error{
		Code: errors.EInvalid,
		Msg:  "plan catalogue is empty",
	}
)

func errInvalidPlan(id string, format string, args ...interface{}) *errors.Error {
	return &errors.Error{
		Code: errors.EInvalid,
		Op:   "plan.Validate",
		Msg:  fmt.Sprintf("plan %q: %s", id, fmt.Sprintf(format, args...)),
	}
}
