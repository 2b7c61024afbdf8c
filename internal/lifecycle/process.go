package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

// ErrNoCommand is returned when an action has no configured command.
var ErrNoCommand = errors.New("no command configured")

// Runner executes an external command. The default runs it through os/exec.
type Runner func(ctx context.Context, argv []string) ([]byte, error)

// ExecRunner runs argv and returns its combined output.
func ExecRunner(ctx context.Context, argv []string) ([]byte, error) {
	// #nosec G204: commands come from operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// GameClient launches and closes the game client with configured commands.
// It implements marketplace.Client.
type GameClient struct {
	launch []string
	close  []string
	run    Runner
	log    *slog.Logger
}

// NewGameClient builds a client driver from cfg. A nil runner uses ExecRunner.
func NewGameClient(cfg config.ClientConfig, run Runner, log *slog.Logger) *GameClient {
	if run == nil {
		run = ExecRunner
	}
	if log == nil {
		log = slog.Default()
	}

	return &GameClient{
		launch: cfg.LaunchCommand,
		close:  cfg.CloseCommand,
		run:    run,
		log:    log.With("component", "game_client"),
	}
}

// Launch starts the client. Without a launch command the client is assumed
// to be started by the operator.
func (c *GameClient) Launch(ctx context.Context) error {
	if len(c.launch) == 0 {
		c.log.InfoContext(ctx, "no launch command, expecting a running client")
		return nil
	}
	return execute(ctx, c.run, c.log, "launch", c.launch)
}

// Close stops the client. It is a no-op without a close command.
func (c *GameClient) Close(ctx context.Context) error {
	if len(c.close) == 0 {
		return nil
	}
	return execute(ctx, c.run, c.log, "close", c.close)
}

// Host powers the machine off. It implements marketplace.Host.
type Host struct {
	powerOff []string
	run      Runner
	log      *slog.Logger
}

// NewHost builds a host driver from cfg.
func NewHost(cfg config.ClientConfig, run Runner, log *slog.Logger) *Host {
	if run == nil {
		run = ExecRunner
	}
	if log == nil {
		log = slog.Default()
	}

	return &Host{powerOff: cfg.PowerOffCmd, run: run, log: log.With("component", "host")}
}

// PowerOff runs the power-off command.
func (h *Host) PowerOff(ctx context.Context) error {
	if len(h.powerOff) == 0 {
		return fmt.Errorf("power off: %w", ErrNoCommand)
	}
	return execute(ctx, h.run, h.log, "power_off", h.powerOff)
}

func execute(ctx context.Context, run Runner, log *slog.Logger, action string, argv []string) error {
	log.InfoContext(ctx, "running command", slog.String("action", action), slog.String("command", strings.Join(argv, " ")))

	out, err := run(ctx, argv)
	if err != nil {
		output := strings.TrimSpace(string(out))
		log.ErrorContext(ctx, "command failed", slog.String("action", action), slog.String("output", output), slog.Any("error", err))
		if output != "" {
			return fmt.Errorf("%s: %w: %s", action, err, output)
		}
		return fmt.Errorf("%s: %w", action, err)
	}

	return nil
}
