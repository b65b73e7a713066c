package leave

import (
	"fmt"
	"time"

	"github.com/warp/leave-engine/generic"
)

// OverlappingLeaveError is returned when requested dates collide with
// another pending or approved application of the same employee.
type OverlappingLeaveError struct {
	EmployeeID    string
	ConflictingID string
	Start         time.Time
	End           time.Time
}

func (e *OverlappingLeaveError) Error() string {
	return fmt.Sprintf("overlapping leave: %s already has application %s covering %s to %s",
		e.EmployeeID, e.ConflictingID,
		e.Start.Format(generic.DateLayout), e.End.Format(generic.DateLayout))
}

func (e *OverlappingLeaveError) Unwrap() error { return generic.ErrOverlappingLeave }
