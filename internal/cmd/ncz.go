package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/falk/switch-tools-go/pkg/ncz"
)

var nczOut string

var nczCmd = &cobra.Command{
	Use:   "ncz <file.ncz>",
	Short: "Decompress an NCZ back into a valid encrypted NCA",
	Args:  cobra.ExactArgs(1),
	RunE:  runNcz,
}

func init() {
	nczCmd.Flags().StringVarP(&nczOut, "out", "o", "", "output path (default: input with .nca extension)")
	rootCmd.AddCommand(nczCmd)
}

func runNcz(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	inPath := args[0]
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	outPath := nczOut
	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, ".ncz") + ".nca"
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	result, err := ncz.Decompress(cmd.Context(), in, info.Size(), out)
	if err != nil {
		out.Close()
		os.Remove(outPath)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	log.Info("decompressed",
		zap.String("path", outPath),
		zap.Int64("ncaSize", result.NcaSize),
		zap.Int("sections", len(result.Sections)),
		zap.Bool("blockMode", result.BlockHeader != nil))
	return nil
}
