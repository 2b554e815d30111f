package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/robotiqur/robotiqur/config"
	"github.com/robotiqur/robotiqur/gripper"
	"github.com/robotiqur/robotiqur/logging"
	"github.com/robotiqur/robotiqur/protocol"
	"github.com/robotiqur/robotiqur/utils"
)

// newLogger is silent unless --debug is set, in which case the returned context also carries
// debug mode so every round trip is logged.
func newLogger(c *cli.Context) (context.Context, logging.Logger) {
	if c.Bool(flagDebug) {
		logger := logging.NewLogger("gripperctl")
		logger.SetLevel(logging.DEBUG)
		return logging.EnableDebugMode(c.Context, ""), logger
	}
	return c.Context, logging.NewBlankLogger("gripperctl")
}

// settings merges the config file, if any, with the connection flags. Flags win, but an empty
// host (such as an exported but empty GRIPPER_HOST) never replaces one from the file.
func settings(ctx context.Context, c *cli.Context, logger logging.Logger) (gripper.Config, error) {
	var cfg gripper.Config
	if path := c.String(flagConfig); path != "" {
		fromFile, err := config.Read(ctx, path, logger)
		if err != nil {
			return gripper.Config{}, err
		}
		cfg = *fromFile
	}
	if host := c.String(flagHost); host != "" {
		cfg.Host = host
	}
	if c.IsSet(flagPort) || cfg.Port == 0 {
		cfg.Port = c.Int(flagPort)
	}
	if c.IsSet(flagTimeout) {
		cfg.Timeout = c.Duration(flagTimeout)
	}
	if cfg.Host == "" {
		return gripper.Config{}, errors.Errorf("no gripper host given, use --%s or a config file", flagHost)
	}
	return cfg, nil
}

func withController(c *cli.Context, fn func(ctx context.Context, g *gripper.Controller) error) error {
	ctx, logger := newLogger(c)
	defer func() {
		goutils.UncheckedError(logger.Sync())
	}()
	cfg, err := settings(ctx, c, logger)
	if err != nil {
		return err
	}
	return gripper.Run(ctx, cfg, logger, fn)
}

// ActivateAction is the corresponding Action for 'activate'.
func ActivateAction(c *cli.Context) error {
	return withController(c, func(ctx context.Context, g *gripper.Controller) error {
		if err := g.Activate(ctx); err != nil {
			return err
		}
		printf(c.App.Writer, "gripper active")
		return nil
	})
}

// ResetAction is the corresponding Action for 'reset'.
func ResetAction(c *cli.Context) error {
	return withController(c, func(ctx context.Context, g *gripper.Controller) error {
		if err := g.Reset(ctx); err != nil {
			return err
		}
		printf(c.App.Writer, "gripper reset")
		return nil
	})
}

// OpenAction is the corresponding Action for 'open'.
func OpenAction(c *cli.Context) error {
	return move(c, func(ctx context.Context, g *gripper.Controller, speed, force int) error {
		return g.Open(ctx, speed, force)
	})
}

// CloseAction is the corresponding Action for 'close'.
func CloseAction(c *cli.Context) error {
	return move(c, func(ctx context.Context, g *gripper.Controller, speed, force int) error {
		return g.Close(ctx, speed, force)
	})
}

// MoveAction is the corresponding Action for 'move'.
func MoveAction(c *cli.Context) error {
	percentSet, rawSet := c.IsSet(flagPercent), c.IsSet(flagRaw)
	if percentSet == rawSet {
		return errors.Errorf("exactly one of --%s or --%s is required", flagPercent, flagRaw)
	}
	if percentSet {
		percent := c.Float64(flagPercent)
		if percent != utils.ClampPercent(percent) {
			warningf(c.App.ErrWriter, "%v%% is outside 0-100, clamping", percent)
		}
		return move(c, func(ctx context.Context, g *gripper.Controller, speed, force int) error {
			return g.MoveToPercent(ctx, percent, speed, force)
		})
	}
	return move(c, func(ctx context.Context, g *gripper.Controller, speed, force int) error {
		return g.MoveToRaw(ctx, c.Int(flagRaw), speed, force)
	})
}

// move activates the gripper unless it already is, issues one motion and optionally waits for
// it to finish.
func move(c *cli.Context, cmd func(ctx context.Context, g *gripper.Controller, speed, force int) error) error {
	return withController(c, func(ctx context.Context, g *gripper.Controller) error {
		status, err := g.Resync(ctx)
		if err != nil {
			return err
		}
		if status != protocol.StatusActive {
			if err := g.Activate(ctx); err != nil {
				return err
			}
		}
		if err := cmd(ctx, g, c.Int(flagSpeed), c.Int(flagForce)); err != nil {
			return err
		}
		if !c.Bool(flagWait) {
			return nil
		}
		res, err := g.WaitForMotion(ctx)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "stopped at %d (%.1f%%): %s",
			res.Position, utils.RawToPercent(res.Position), res.Object)
		return nil
	})
}

// StopAction is the corresponding Action for 'stop'.
func StopAction(c *cli.Context) error {
	return withController(c, func(ctx context.Context, g *gripper.Controller) error {
		status, err := g.Resync(ctx)
		if err != nil {
			return err
		}
		if status != protocol.StatusActive {
			warningf(c.App.ErrWriter, "gripper is %s, nothing to stop", status)
			return nil
		}
		return g.Stop(ctx)
	})
}

// StatusAction is the corresponding Action for 'status'.
func StatusAction(c *cli.Context) error {
	return withController(c, func(ctx context.Context, g *gripper.Controller) error {
		snap, err := g.Snapshot(ctx)
		if err != nil {
			return err
		}
		writeSnapshot(c.App.Writer, snap)
		return nil
	})
}

func writeSnapshot(w io.Writer, snap gripper.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Register", "Value", "Meaning"})
	t.AppendRows([]table.Row{
		{protocol.Status, int(snap.Status), snap.Status.String()},
		{protocol.ObjectDetection, int(snap.Object), snap.Object.String()},
		{protocol.Fault, fmt.Sprintf("0x%02X", int(snap.Fault.Code)), faultColor(snap.Fault).Sprint(snap.Fault.Description)},
		{protocol.Position, snap.Position, strconv.FormatFloat(utils.RawToPercent(snap.Position), 'f', 1, 64) + "%"},
		{protocol.PositionRequest, snap.RequestedPosition, strconv.FormatFloat(utils.RawToPercent(snap.RequestedPosition), 'f', 1, 64) + "%"},
		{protocol.Speed, snap.Speed, ""},
		{protocol.Force, snap.Force, ""},
	})
	t.Render()
}

func faultColor(info protocol.FaultInfo) *color.Color {
	switch info.Severity {
	case protocol.SeverityNone:
		return color.New(color.FgGreen)
	case protocol.SeverityTransient:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// printf prints a message with a newline.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a highlighted warning with a newline.
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.FgYellow).Fprintf(w, "Warning: "+format+"\n", a...)
}
