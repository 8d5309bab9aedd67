package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/falk/switch-tools-go/pkg/fs"
	"github.com/falk/switch-tools-go/pkg/nsp"
)

var buildFlags struct {
	exefsDir     string
	controlDir   string
	romfsDir     string
	logoDir      string
	htmlDocDir   string
	legalInfoDir string
	outDir       string

	titleId       string
	titleName     string
	publisher     string
	keyGeneration int
	plaintext     bool
	noLogo        bool
	noSign        bool
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an NSP from exefs/control/romfs directories",
	RunE:  runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildFlags.exefsDir, "exefs", "exefs", "ExeFS input directory (must contain main.npdm)")
	f.StringVar(&buildFlags.controlDir, "control", "control", "control input directory (must contain control.nacp)")
	f.StringVar(&buildFlags.romfsDir, "romfs", "", "RomFS input directory")
	f.StringVar(&buildFlags.logoDir, "logo", "", "logo input directory")
	f.StringVar(&buildFlags.htmlDocDir, "htmldoc", "", "HtmlDoc manual input directory")
	f.StringVar(&buildFlags.legalInfoDir, "legalinfo", "", "LegalInfo manual input directory")
	f.StringVar(&buildFlags.outDir, "out", ".", "output directory")
	f.StringVar(&buildFlags.titleId, "title-id", "", "title id override (16 hex digits)")
	f.StringVar(&buildFlags.titleName, "title-name", "", "patch NACP title name")
	f.StringVar(&buildFlags.publisher, "publisher", "", "patch NACP publisher")
	f.IntVar(&buildFlags.keyGeneration, "keygeneration", 1, "key generation (1-32)")
	f.BoolVar(&buildFlags.plaintext, "plaintext", false, "skip section encryption")
	f.BoolVar(&buildFlags.noLogo, "nologo", false, "skip the logo section")
	f.BoolVar(&buildFlags.noSign, "no-sign", false, "skip the NCA header signature")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	keySet, err := loadKeys(buildFlags.keyGeneration)
	if err != nil {
		return err
	}

	opts := nsp.Options{
		Keys:           keySet,
		KeyGeneration:  buildFlags.keyGeneration,
		Plaintext:      buildFlags.plaintext,
		NoLogo:         buildFlags.noLogo,
		NoSignNcaSig2:  buildFlags.noSign,
		TitleName:      buildFlags.titleName,
		TitlePublisher: buildFlags.publisher,
		Logger:         log,
	}

	if buildFlags.titleId != "" {
		id, err := strconv.ParseUint(buildFlags.titleId, 16, 64)
		if err != nil {
			return fmt.Errorf("bad --title-id: %w", err)
		}
		opts.TitleId = id
	}

	if opts.ExeFs, err = readFlatDir(buildFlags.exefsDir); err != nil {
		return err
	}
	if opts.Control, err = readFlatDir(buildFlags.controlDir); err != nil {
		return err
	}
	if buildFlags.logoDir != "" {
		if opts.Logo, err = readFlatDir(buildFlags.logoDir); err != nil {
			return err
		}
	}
	if buildFlags.romfsDir != "" {
		if opts.RomFs, err = readTree(buildFlags.romfsDir); err != nil {
			return err
		}
	}
	if buildFlags.htmlDocDir != "" {
		if opts.HtmlDoc, err = readTree(buildFlags.htmlDocDir); err != nil {
			return err
		}
	}
	if buildFlags.legalInfoDir != "" {
		if opts.LegalInfo, err = readTree(buildFlags.legalInfoDir); err != nil {
			return err
		}
	}

	// Stream the container straight to disk; NCAs for big titles do not
	// need a second in-memory copy of the whole package.
	tmp, err := os.CreateTemp(buildFlags.outDir, ".nsp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	result, err := nsp.BuildTo(tmp, opts)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	outPath := filepath.Join(buildFlags.outDir, result.Filename)
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return err
	}

	log.Info("wrote package",
		zap.String("path", outPath),
		zap.String("titleId", result.TitleId),
		zap.Strings("ncaIds", result.NcaIds))
	return nil
}

// readFlatDir loads every regular file of one directory level.
func readFlatDir(dir string) (map[string][]byte, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte)
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files[e.Name()] = data
	}
	return files, nil
}

// readTree loads a directory recursively into a RomFS input tree.
func readTree(dir string) (*fs.RomFsDir, error) {
	root := fs.NewRomFs()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return root.AddFile(filepath.ToSlash(rel), data)
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}
