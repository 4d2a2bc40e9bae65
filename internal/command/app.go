package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v2"

	"duet/internal/config"
	"duet/internal/dispatch"
	"duet/internal/protocol"
)

// Caller runs one dispatch request.
type Caller interface {
	Call(ctx context.Context, req dispatch.Request) (any, error)
}

type Deps struct {
	LoadConfig   func() (config.Config, error)
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	// OpenCaller returns a dispatcher bound to cfg and a func releasing it.
	OpenCaller func(context.Context, config.Config) (Caller, func() error, error)
	Out        io.Writer
}

// ErrCallFailed is returned after a failed call's envelope has been printed.
var ErrCallFailed = errors.New("call failed")

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:      "duet",
		Usage:     "planner/executor task coordination engine",
		Writer:    outWriter(deps),
		ErrWriter: os.Stderr,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(deps)
			if err != nil {
				return err
			}
			return runServe(ctx.Context, deps, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the local API and event stream",
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(deps)
					if err != nil {
						return err
					}
					return runServe(ctx.Context, deps, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg, err := loadConfig(deps)
							if err != nil {
								return err
							}
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
			{
				Name:      "call",
				Usage:     "run one operation and print the result envelope",
				ArgsUsage: "<op>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "as", Usage: "calling role: planner, executor or human", Required: true},
					&cli.StringFlag{Name: "args", Usage: "operation arguments as a JSON object", Value: "{}"},
				},
				Action: func(ctx *cli.Context) error {
					op := strings.TrimSpace(ctx.Args().First())
					if op == "" {
						return errors.New("op is required")
					}
					return runCall(ctx.Context, deps, ctx.App.Writer, dispatch.Request{
						Agent: ctx.String("as"),
						Op:    op,
						Args:  json.RawMessage(ctx.String("args")),
					})
				},
			},
			{
				Name:  "task",
				Usage: "task helpers",
				Subcommands: []*cli.Command{
					{
						Name:      "import",
						Usage:     "create every task in a YAML file as one batch",
						ArgsUsage: "<file>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "as", Usage: "calling role", Value: "planner"},
						},
						Action: func(ctx *cli.Context) error {
							path := strings.TrimSpace(ctx.Args().First())
							if path == "" {
								return errors.New("task file is required")
							}
							tasks, err := LoadTaskFile(path)
							if err != nil {
								return err
							}
							args, err := json.Marshal(map[string]any{"tasks": tasks})
							if err != nil {
								return err
							}
							return runCall(ctx.Context, deps, ctx.App.Writer, dispatch.Request{
								Agent: ctx.String("as"),
								Op:    "create_tasks",
								Args:  args,
							})
						},
					},
				},
			},
			{
				Name:  "config",
				Usage: "configuration helpers",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print the resolved configuration",
						Action: func(ctx *cli.Context) error {
							cfg, err := loadConfig(deps)
							if err != nil {
								return err
							}
							return printConfig(ctx.App.Writer, cfg)
						},
					},
				},
			},
		},
	}
}

func outWriter(deps Deps) io.Writer {
	if deps.Out != nil {
		return deps.Out
	}
	return os.Stdout
}

func loadConfig(deps Deps) (config.Config, error) {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig(), nil
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}

func runCall(ctx context.Context, deps Deps, out io.Writer, req dispatch.Request) error {
	if deps.OpenCaller == nil {
		return errors.New("caller is not configured")
	}
	cfg, err := loadConfig(deps)
	if err != nil {
		return err
	}
	caller, release, err := deps.OpenCaller(ctx, cfg)
	if err != nil {
		return err
	}
	if release != nil {
		defer func() { _ = release() }()
	}

	data, callErr := caller.Call(ctx, req)
	envelope := map[string]any{"ok": callErr == nil, "data": data}
	if callErr != nil {
		code := dispatch.Code(callErr)
		envelope = map[string]any{"ok": false, "error": protocol.ErrPayload{
			Code:      code,
			Message:   callErr.Error(),
			Retryable: dispatch.Retryable(code),
		}}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope); err != nil {
		return err
	}
	if callErr != nil {
		return fmt.Errorf("%w: %s", ErrCallFailed, dispatch.Code(callErr))
	}
	return nil
}

type configView struct {
	ProjectID       string `toml:"project_id"`
	DBPath          string `toml:"db_path"`
	ConfigDir       string `toml:"config_dir"`
	LogLevel        string `toml:"log_level"`
	LocalHost       string `toml:"local_host"`
	LocalPort       int    `toml:"local_port"`
	BusyTimeoutMS   int    `toml:"busy_timeout_ms"`
	DefaultPageSize int    `toml:"default_page_size"`
}

func printConfig(out io.Writer, cfg config.Config) error {
	b, err := toml.Marshal(configView{
		ProjectID:       cfg.ProjectID,
		DBPath:          cfg.DBPath,
		ConfigDir:       cfg.ConfigDir,
		LogLevel:        cfg.LogLevel,
		LocalHost:       cfg.LocalHost,
		LocalPort:       cfg.LocalPort,
		BusyTimeoutMS:   cfg.BusyTimeoutMS,
		DefaultPageSize: cfg.DefaultPage,
	})
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
