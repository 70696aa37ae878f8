package main

import (
	"context"
	"fmt"
	"io"

	merklebuild "github.com/mattkeenan/merklebuild/pkg"
	"github.com/urfave/cli/v3"
)

func runHash(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("hash: at least one path is required")
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	options, err := cfg.HashOptions()
	if err != nil {
		return err
	}

	hasher := merklebuild.NewHasher(options)
	results := make([]hashResult, 0, len(paths))
	for _, path := range paths {
		digest, err := hasher.Hash(ctx, path)
		if err != nil {
			return err
		}
		results = append(results, hashResult{Path: path, Digest: digest})
	}

	return writeResult(out, cfg.GetOutputConfig().Format, results, func(w io.Writer) error {
		if len(results) == 1 {
			_, err := fmt.Fprintln(w, results[0].Digest)
			return err
		}
		for _, r := range results {
			if _, err := fmt.Fprintf(w, "%s  %s\n", r.Digest, r.Path); err != nil {
				return err
			}
		}
		return nil
	})
}

func runChanged(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	cd, cfg, err := detectorFor(cmd)
	if err != nil {
		return err
	}

	changed, err := cd.IsChanged(ctx)
	if err != nil {
		return fmt.Errorf("cannot determine change status of %s: %w", cd.Directory(), err)
	}

	result := changeResult{Directory: cd.Directory(), Changed: changed}
	if err := writeResult(out, cfg.GetOutputConfig().Format, result, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, stateName(changed))
		return err
	}); err != nil {
		return err
	}

	if changed && cmd.Bool("exit-code") {
		return &exitCodeError{code: 1}
	}
	return nil
}

func runMarkClean(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	cd, cfg, err := detectorFor(cmd)
	if err != nil {
		return err
	}

	digest, err := cd.MarkClean(ctx)
	if err != nil {
		return err
	}

	result := hashResult{Path: cd.Directory(), Digest: digest}
	return writeResult(out, cfg.GetOutputConfig().Format, result, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, digest)
		return err
	})
}

func runStatus(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	cd, cfg, err := detectorFor(cmd)
	if err != nil {
		return err
	}

	marker, marked, err := cd.LastDigest()
	if err != nil {
		return err
	}
	current, err := cd.CurrentDigest(ctx)
	if err != nil {
		return err
	}

	result := statusResult{
		Directory: cd.Directory(),
		Marker:    marker,
		Current:   current,
		State:     stateName(marker != current),
	}
	if !marked {
		result.State = "unmarked"
	}

	return writeResult(out, cfg.GetOutputConfig().Format, result, func(w io.Writer) error {
		markerText := result.Marker
		if !marked {
			markerText = "(none)"
		}
		_, err := fmt.Fprintf(w, "directory: %s\nmarker:    %s\ncurrent:   %s\nstate:     %s\n",
			result.Directory, markerText, result.Current, result.State)
		return err
	})
}

func runWatch(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	cd, cfg, err := detectorFor(cmd)
	if err != nil {
		return err
	}
	format := cfg.GetOutputConfig().Format
	markClean := cmd.Bool("mark-clean")

	options := merklebuild.WatchOptions{Debounce: cfg.GetWatchConfig().Debounce}
	return merklebuild.Watch(ctx, cd, options, func(ev merklebuild.WatchEvent) {
		result := watchResult{Directory: cd.Directory(), Changed: ev.Changed, Digest: ev.Digest}
		if ev.Err != nil {
			result.Error = ev.Err.Error()
		}

		err := writeResult(out, format, result, func(w io.Writer) error {
			if ev.Err != nil {
				_, err := fmt.Fprintf(w, "error %s: %v\n", cd.Directory(), ev.Err)
				return err
			}
			_, err := fmt.Fprintf(w, "%s %s %s\n", stateName(ev.Changed), ev.Digest, cd.Directory())
			return err
		})
		if err != nil {
			merklebuild.Logger().WithError(err).Warn("failed to write watch result")
		}

		if markClean && ev.Err == nil && ev.Changed {
			if _, err := cd.MarkClean(ctx); err != nil {
				merklebuild.Logger().WithError(err).Warnf("failed to mark %s clean", cd.Directory())
			}
		}
	})
}

func runConfigInit(cmd *cli.Command, out io.Writer) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cfg.Exists() && !cmd.Bool("force") {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", cfg.Path())
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "wrote %s\n", cfg.Path())
	return err
}

func runConfigShow(cmd *cli.Command, out io.Writer) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	return writeResult(out, cfg.GetOutputConfig().Format, cfg.GetAllConfig(), func(w io.Writer) error {
		_, err := cfg.WriteTo(w)
		return err
	})
}
