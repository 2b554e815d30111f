// Package cli contains the gripperctl command line tool.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/robotiqur/robotiqur/gripper"
	"github.com/robotiqur/robotiqur/protocol"
)

// Flags.
const (
	flagConfig  = "config"
	flagDebug   = "debug"
	flagHost    = "host"
	flagPort    = "port"
	flagTimeout = "timeout"
	flagWait    = "wait"
	flagSpeed   = "speed"
	flagForce   = "force"
	flagPercent = "percent"
	flagRaw     = "raw"
)

func motionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  flagSpeed,
			Usage: "finger speed, 0-255",
			Value: gripper.DefaultSpeed,
		},
		&cli.IntFlag{
			Name:  flagForce,
			Usage: "grip force, 0-255",
			Value: gripper.DefaultForce,
		},
		&cli.BoolFlag{
			Name:  flagWait,
			Usage: "block until the fingers stop",
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "gripperctl",
		Usage:           "drive a Robotiq gripper through a Universal Robots URCap bridge",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load connection settings from `FILE` (json or yaml)",
			},
			&cli.StringFlag{
				Name:    flagHost,
				Usage:   "address of the robot controller",
				EnvVars: []string{"GRIPPER_HOST"},
			},
			&cli.IntFlag{
				Name:  flagPort,
				Usage: "URCap bridge port",
				Value: protocol.DefaultPort,
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Usage: "dial and per command timeout",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "activate",
				Usage:  "reset and activate the gripper",
				Action: ActivateAction,
			},
			{
				Name:   "reset",
				Usage:  "clear the activation bit and any fault",
				Action: ResetAction,
			},
			{
				Name:   "open",
				Usage:  "open the fingers fully",
				Flags:  motionFlags(),
				Action: OpenAction,
			},
			{
				Name:   "close",
				Usage:  "close the fingers fully",
				Flags:  motionFlags(),
				Action: CloseAction,
			},
			{
				Name:      "move",
				Usage:     "move the fingers to a position",
				UsageText: "gripperctl move (--percent <0-100> | --raw <0-255>) [other options]",
				Flags: append([]cli.Flag{
					&cli.Float64Flag{
						Name:  flagPercent,
						Usage: "target as percent of travel, 0 open and 100 closed",
					},
					&cli.IntFlag{
						Name:  flagRaw,
						Usage: "target on the device scale, 0-255",
					},
				}, motionFlags()...),
				Action: MoveAction,
			},
			{
				Name:   "stop",
				Usage:  "halt the fingers",
				Action: StopAction,
			},
			{
				Name:   "status",
				Usage:  "print every status register",
				Action: StatusAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
