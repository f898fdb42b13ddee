package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/simp-lee/epubemoji"
	"github.com/spf13/cobra"
)

// DefaultSuffix is appended to the input name when no output path is given.
const DefaultSuffix = "_emoji"

var convertCmd = &cobra.Command{
	Use:   "convert [flags] [INPUT...]",
	Short: "Replace emoji in one or more ePub books",
	Long: `Replace every emoji in the content documents of an ePub book with an inline
image and write the result to a new archive.

A single book is converted with -i/-o. Several books, or glob patterns, are
converted in one run; each output is named after its input with --suffix
inserted before the extension, next to the input or in --output-dir. A
failing book does not stop the others.

Examples:
  epubemoji convert -i book.epub -o book-emoji.epub
  epubemoji convert 'library/*.epub' --output-dir out
  epubemoji convert book.epub --local-only --cache-dir ~/.cache/emoji_img`,
	RunE: runConvert,
}

type convertFlagValues struct {
	inputs    []string
	output    string
	outputDir string
	suffix    string
	transform transformFlagValues
}

var convertFlags convertFlagValues

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringSliceVarP(&convertFlags.inputs, "input", "i", nil,
		"Input ePub file or glob pattern (can be specified multiple times)")
	convertCmd.Flags().StringVarP(&convertFlags.output, "output", "o", "",
		"Output ePub file (single input only)")
	convertCmd.Flags().StringVar(&convertFlags.outputDir, "output-dir", "",
		"Directory for outputs named <input><suffix>.epub (default: next to each input)")
	convertCmd.Flags().StringVar(&convertFlags.suffix, "suffix", DefaultSuffix,
		"Suffix inserted before the extension of derived output names")
	convertCmd.MarkFlagsMutuallyExclusive("output", "output-dir")

	addTransformFlags(convertCmd, &convertFlags.transform, true)
}

// job is one input/output pair of a convert run.
type job struct {
	input  string
	output string
}

func runConvert(cmd *cobra.Command, args []string) error {
	inputs, err := expandInputs(append(append([]string(nil), convertFlags.inputs...), args...))
	if err != nil {
		return err
	}
	jobs, err := planJobs(inputs, convertFlags.output, convertFlags.outputDir, convertFlags.suffix)
	if err != nil {
		return err
	}

	cfg, err := buildTransformConfig(cmd, &convertFlags.transform)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	t := epubemoji.New(cfg)
	out := cmd.OutOrStdout()

	var failures []error
	for _, j := range jobs {
		report, err := t.TransformFile(ctx, j.input, j.output)
		if err != nil {
			epubemoji.Logger().Error("conversion failed", "input", j.input, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", j.input, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		printReport(out, j, report)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d books failed: %w", len(failures), len(jobs), errors.Join(failures...))
	}
	return nil
}

// expandInputs expands glob patterns and drops repeated paths. A pattern
// matching nothing is an error; a plain path is passed through so a missing
// file fails at open time with a precise message.
func expandInputs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var inputs []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		matches := []string{p}
		if strings.ContainsAny(p, "*?[") {
			var err error
			matches, err = filepath.Glob(p)
			if err != nil {
				return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrUsage, p, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("%w: no files match %q", ErrUsage, p)
			}
		}
		for _, m := range matches {
			key := filepath.Clean(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			inputs = append(inputs, m)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no input files (use -i or pass paths)", ErrUsage)
	}
	return inputs, nil
}

// planJobs pairs every input with its output path.
func planJobs(inputs []string, output, outputDir, suffix string) ([]job, error) {
	if output != "" {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("%w: --output accepts exactly one input, got %d", ErrUsage, len(inputs))
		}
		if sameFile(inputs[0], output) {
			return nil, fmt.Errorf("%w: output %s would overwrite the input", ErrUsage, output)
		}
		return []job{{input: inputs[0], output: output}}, nil
	}

	jobs := make([]job, 0, len(inputs))
	targets := make(map[string]string)
	for _, in := range inputs {
		out := derivedOutputPath(in, outputDir, suffix)
		if sameFile(in, out) {
			return nil, fmt.Errorf("%w: output for %s would overwrite the input; set --suffix or --output-dir", ErrUsage, in)
		}
		if prev, ok := targets[filepath.Clean(out)]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", ErrUsage, prev, in, out)
		}
		targets[filepath.Clean(out)] = in
		jobs = append(jobs, job{input: in, output: out})
	}
	return jobs, nil
}

func printReport(w io.Writer, j job, r *epubemoji.Report) {
	fmt.Fprintf(w, "%s -> %s: %d emoji replaced in %d documents, %d images",
		j.input, j.output, r.Substitutions, r.Documents, len(r.Assets))
	if n := len(r.Unresolved); n > 0 {
		fmt.Fprintf(w, ", %d left as text", n)
	}
	fmt.Fprintln(w)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
