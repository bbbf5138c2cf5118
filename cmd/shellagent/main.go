package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shellbridge/shellbridge/agent"
	"github.com/shellbridge/shellbridge/shell"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "shellagent",
		Usage: "serves interactive command-interpreter sessions to remote consumers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "on-heartbeat-failure",
				Usage: "Action to take on a heartbeat failure. One of [shutdown,exit,none].",
				Value: "none",
			},
			&cli.StringFlag{
				Name:  "heartbeat-timeout",
				Usage: "Duration to wait for a heartbeat before taking the failure action.",
				Value: "1m",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: "0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:  "interpreter",
				Usage: "Path of the command interpreter to spawn. Defaults to the platform interpreter.",
			},
			&cli.StringSliceFlag{
				Name:  "interpreter-arg",
				Usage: "Argument passed to the interpreter, may be repeated.",
			},
			&cli.StringFlag{
				Name:  "workdir",
				Usage: "Working directory for spawned interpreters. Defaults to the system root.",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			onHeartbeatFailure := ctx.String("on-heartbeat-failure")
			heartbeatTimeoutStr := ctx.String("heartbeat-timeout")
			listenAddr := ctx.String("listen-addr")

			var heartbeatFailureHandler func()
			switch onHeartbeatFailure {
			case "shutdown":
				heartbeatFailureHandler = agent.HeartbeatFailureShutdown
			case "exit":
				heartbeatFailureHandler = agent.HeartbeatFailureExit
			case "none":
				// nothing
			default:
				return fmt.Errorf("unsupported on-heartbeat-failure %q", onHeartbeatFailure)
			}

			heartbeatTimeout, err := time.ParseDuration(heartbeatTimeoutStr)
			if err != nil {
				return fmt.Errorf("parsing heartbeat timeout: %w", err)
			}

			opts := []agent.Option{
				agent.WithHeartbeatTimeout(heartbeatTimeout),
				agent.WithListenAddr(listenAddr),
				agent.WithHeartbeatFailureHandler(heartbeatFailureHandler),
			}
			if ctx.Bool("debug") {
				opts = append(opts, agent.WithLogLevel(zapcore.DebugLevel))
			}
			if interp := ctx.String("interpreter"); interp != "" {
				opts = append(opts, agent.WithInterpreter(shell.Interpreter{
					Command: interp,
					Args:    ctx.StringSlice("interpreter-arg"),
					WD:      ctx.String("workdir"),
				}))
			}

			a, err := agent.NewShellAgent(opts...)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			err = a.Run()
			if err != nil {
				if err != http.ErrServerClosed {
					return err
				}
			}

			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
