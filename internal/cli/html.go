package cli

import (
	"context"
	"fmt"

	"github.com/simp-lee/epubemoji"
	"github.com/spf13/cobra"
)

var htmlCmd = &cobra.Command{
	Use:   "html [flags] FILE",
	Short: "Replace emoji in a single HTML or XHTML file",
	Long: `Rewrite one loose HTML or XHTML document without any archive or manifest.

Images are referenced as <asset-dir>/<key>.png. Unless --data-uri is given
they are copied into that directory, resolved against the output file's
directory.

Examples:
  epubemoji html chapter.xhtml -o chapter-emoji.xhtml
  epubemoji html page.html --asset-dir ../img --data-uri`,
	Args: cobra.ExactArgs(1),
	RunE: runHTML,
}

type htmlFlagValues struct {
	output    string
	suffix    string
	assetDir  string
	transform transformFlagValues
}

var htmlFlags htmlFlagValues

func init() {
	rootCmd.AddCommand(htmlCmd)

	htmlCmd.Flags().StringVarP(&htmlFlags.output, "output", "o", "",
		"Output file (default: <FILE><suffix>.<ext> next to FILE)")
	htmlCmd.Flags().StringVar(&htmlFlags.suffix, "suffix", DefaultSuffix,
		"Suffix inserted before the extension of the derived output name")

	htmlCmd.Flags().StringVar(&htmlFlags.assetDir, "asset-dir", "",
		"Image directory as referenced from the document, relative or absolute\n"+
			"(default: asset_dir from the config file, or "+epubemoji.DefaultAssetDirName+")")

	addTransformFlags(htmlCmd, &htmlFlags.transform, false)
}

func runHTML(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := htmlFlags.output
	if output == "" {
		output = derivedOutputPath(input, "", htmlFlags.suffix)
	}
	if sameFile(input, output) {
		return fmt.Errorf("%w: output %s would overwrite the input", ErrUsage, output)
	}

	cfg, err := buildTransformConfig(cmd, &htmlFlags.transform)
	if err != nil {
		return err
	}
	t := epubemoji.New(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	assetDir := htmlFlags.assetDir
	if assetDir == "" {
		assetDir = t.Config().AssetDirName
	}
	report, err := t.RewriteFile(ctx, input, output, assetDir)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), job{input: input, output: output}, report)
	return nil
}
