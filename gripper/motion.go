package gripper

import (
	"context"

	"github.com/pkg/errors"

	"github.com/robotiqur/robotiqur/operation"
	"github.com/robotiqur/robotiqur/protocol"
)

// MotionResult is where a finished motion left the fingers.
type MotionResult struct {
	Position int
	Object   protocol.ObjectStatus
}

// WaitForMotion blocks until the last motion command has been taken up by the gripper and the
// fingers stopped, either at the target or on an object. The controller lock is only held per
// round trip so Stop and status reads can run meanwhile. A new motion command cancels the wait.
func (c *Controller) WaitForMotion(ctx context.Context) (MotionResult, error) {
	ctx = c.startOp(ctx, "WaitForMotion")

	c.mu.Lock()
	target := c.lastRequested
	err := c.requireActiveLocked()
	c.mu.Unlock()
	if err != nil {
		return MotionResult{}, err
	}
	if target < 0 {
		return MotionResult{}, errors.New("no motion has been requested")
	}

	var res MotionResult
	echoed := false
	err = c.opMgr.WaitForSuccess(ctx, c.cfg.MotionPollInterval, c.cfg.MotionAttempts,
		func(ctx context.Context) (bool, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.state != StateActive {
				return false, errors.Wrapf(ErrNotActive, "state changed to %s while waiting", c.state)
			}
			if !echoed {
				pre, err := c.readLocked(ctx, protocol.PositionRequest)
				if err != nil {
					return false, err
				}
				if pre != target {
					return false, nil
				}
				echoed = true
			}
			obj, err := c.readLocked(ctx, protocol.ObjectDetection)
			if err != nil {
				return false, err
			}
			res.Object = protocol.ObjectStatus(obj)
			if res.Object == protocol.ObjectMoving {
				return false, nil
			}
			res.Position, err = c.readLocked(ctx, protocol.Position)
			return err == nil, err
		})
	if err != nil {
		if errors.Is(err, operation.ErrAttemptsExhausted) {
			return MotionResult{}, errors.Wrapf(ErrMotionTimeout, "%v", err)
		}
		return MotionResult{}, err
	}
	c.logger.CDebugw(ctx, "motion finished", "position", res.Position, "object", res.Object.String())
	return res, nil
}
