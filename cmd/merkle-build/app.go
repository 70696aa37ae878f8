package main

import (
	"context"
	"fmt"
	"io"

	merklebuild "github.com/mattkeenan/merklebuild/pkg"
	"github.com/urfave/cli/v3"
)

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "merkle-build",
		Usage: "Fingerprint build inputs and skip rebuilds of unchanged directories",
		Commands: []*cli.Command{
			{
				Name:      "hash",
				Usage:     "Print the Merkle hash of files or directories",
				ArgsUsage: "PATH...",
				Flags:     hashFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runHash(ctx, cmd, out)
				},
			},
			{
				Name:      "changed",
				Usage:     "Report whether a directory changed since it was last marked clean",
				ArgsUsage: "DIR",
				Flags: append(detectorFlags(), &cli.BoolFlag{
					Name:  "exit-code",
					Usage: "Exit with status 1 when the directory changed",
				}),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runChanged(ctx, cmd, out)
				},
			},
			{
				Name:      "mark-clean",
				Usage:     "Record the current hash of a directory as its marker",
				ArgsUsage: "DIR",
				Flags:     detectorFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runMarkClean(ctx, cmd, out)
				},
			},
			{
				Name:      "status",
				Usage:     "Show the marker and current hash of a directory",
				ArgsUsage: "DIR",
				Flags:     detectorFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runStatus(ctx, cmd, out)
				},
			},
			{
				Name:      "watch",
				Usage:     "Watch a directory and report every change of its hash",
				ArgsUsage: "DIR",
				Flags: append(detectorFlags(), &cli.BoolFlag{
					Name:  "mark-clean",
					Usage: "Mark the directory clean after each reported change",
				}),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runWatch(ctx, cmd, out)
				},
			},
			{
				Name:  "config",
				Usage: "Manage the merkle-build config file",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write the effective configuration to the config file",
						Flags: append(hashFlags(), &cli.BoolFlag{
							Name:  "force",
							Usage: "Overwrite an existing config file",
						}),
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runConfigInit(cmd, out)
						},
					},
					{
						Name:  "show",
						Usage: "Print the effective configuration",
						Flags: hashFlags(),
						Action: func(ctx context.Context, cmd *cli.Command) error {
							return runConfigShow(cmd, out)
						},
					},
				},
			},
		},
	}
}

// hashFlags returns the flags shared by every command
func hashFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file",
			Value:   merklebuild.DefaultConfigFile,
			Sources: cli.EnvVars(merklebuild.ConfigEnvVar),
		},
		&cli.StringFlag{
			Name:    "cache-dir",
			Usage:   "Directory for persistent directory hash records",
			Sources: cli.EnvVars(merklebuild.CacheDirEnvVar),
		},
		&cli.StringSliceFlag{
			Name:  "ignore",
			Usage: "Entry name to exclude from hashes (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "include-hidden",
			Usage: "Include entries whose name starts with '.'",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of files hashed concurrently",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: human, json, yaml",
		},
		&cli.IntFlag{
			Name:  "verbose",
			Usage: "Verbose level 0-3",
		},
		&cli.StringFlag{
			Name:  "debug",
			Usage: "Comma-separated debug flags (cache, walk, fileops, watch)",
		},
		&cli.StringSliceFlag{
			Name:  "override",
			Usage: "Config override as key:value (repeatable)",
		},
	}
}

// detectorFlags returns the flags of commands that use a marker file
func detectorFlags() []cli.Flag {
	return append(hashFlags(), &cli.StringFlag{
		Name:  "marker",
		Usage: "Marker file name inside the directory (default: " + merklebuild.DefaultMarkerFile + ")",
	})
}

// loadSettings loads the config file and layers overrides and flags on top.
// Precedence: flags, then --override, then the config file, then defaults.
func loadSettings(cmd *cli.Command) (*merklebuild.Config, error) {
	cfg, err := merklebuild.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyOverrides(cmd.StringSlice("override")); err != nil {
		return nil, err
	}

	if dir := cmd.String("cache-dir"); dir != "" {
		cfg.SetCacheDir(dir)
	}
	if names := cmd.StringSlice("ignore"); len(names) > 0 {
		cfg.SetIgnore(append(cfg.GetHashConfig().Ignore, names...))
	}
	if cmd.Bool("include-hidden") {
		cfg.SetIncludeHidden(true)
	}
	if workers := cmd.Int("workers"); workers > 0 {
		cfg.SetHashWorkers(int(workers))
	}
	if format := cmd.String("format"); format != "" {
		if err := merklebuild.ValidateOutputFormat(format); err != nil {
			return nil, err
		}
		cfg.SetOutputFormat(format)
	}
	if level := cmd.Int("verbose"); level > 0 {
		cfg.SetVerboseLevel(int(level))
	}
	if debug := cmd.String("debug"); debug != "" {
		cfg.SetDebugFlags(debug)
	}
	if cmd.IsSet("marker") {
		cfg.SetMarkerFile(cmd.String("marker"))
	}

	verboseConfig := cfg.GetVerboseConfig()
	if err := merklebuild.ValidateVerboseLevel(verboseConfig.Level); err != nil {
		return nil, err
	}
	if err := merklebuild.ValidateMarkerFile(cfg.GetMarkerConfig().File); err != nil {
		return nil, err
	}
	merklebuild.SetVerboseLevel(verboseConfig.Level)
	merklebuild.SetDebugFlags(verboseConfig.Debug)

	return cfg, nil
}

// detectorFor builds a change detector for the single DIR argument
func detectorFor(cmd *cli.Command) (*merklebuild.ChangeDetector, *merklebuild.Config, error) {
	if cmd.Args().Len() != 1 {
		return nil, nil, fmt.Errorf("%s: exactly one directory is required", cmd.Name)
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	options, err := cfg.ChangeDetectorOptions()
	if err != nil {
		return nil, nil, err
	}
	return merklebuild.NewChangeDetector(cmd.Args().First(), options), cfg, nil
}
