package gripper

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotActive is returned for motion commands issued before activation completed.
	ErrNotActive = errors.New("gripper is not active")
	// ErrFaulted is returned for writes other than reset while the gripper reports an
	// unrecoverable fault or the command stream fell out of step.
	ErrFaulted = errors.New("gripper is faulted, reset required")
	// ErrActivationTimeout is returned when the gripper does not report active within the
	// activation poll budget.
	ErrActivationTimeout = errors.New("gripper activation did not complete")
	// ErrResetTimeout is returned when the gripper does not report reset within the poll budget.
	ErrResetTimeout = errors.New("gripper reset did not complete")
	// ErrMotionTimeout is returned by WaitForMotion when the fingers are still moving once the
	// motion poll budget is spent.
	ErrMotionTimeout = errors.New("gripper motion did not complete")
)
