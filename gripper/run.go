package gripper

import (
	"context"

	"go.uber.org/multierr"

	"github.com/robotiqur/robotiqur/logging"
)

// Run connects a new Controller, hands it to fn and disconnects afterwards, whatever fn
// returned. Errors from fn and from disconnecting are combined.
func Run(
	ctx context.Context,
	cfg Config,
	logger logging.Logger,
	fn func(ctx context.Context, c *Controller) error,
	opts ...Option,
) (err error) {
	c, err := New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, c.Disconnect(context.Background()))
	}()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}
