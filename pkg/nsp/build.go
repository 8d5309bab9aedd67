// Package nsp composes program, control, manual and meta content archives
// from raw inputs and packages them into a submission package.
package nsp

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/falk/switch-tools-go/pkg/fs"
	"github.com/falk/switch-tools-go/pkg/keys"
)

const (
	defaultSdkVersion = 0x000C1100
	defaultKeyAreaKey = 0x04

	npdmName = "main.npdm"
	nacpName = "control.nacp"
)

// Options are the inputs of one NSP build. ExeFs and Control are required;
// everything else is optional.
type Options struct {
	// Keys is the derived key set. KeysText may be given instead and is
	// parsed with the build's key generation as the target.
	Keys     *keys.KeySet
	KeysText string

	// ExeFs must contain main.npdm.
	ExeFs map[string][]byte

	// Control must contain control.nacp and at least one icon file.
	Control map[string][]byte

	RomFs     *fs.RomFsDir
	Logo      map[string][]byte
	HtmlDoc   *fs.RomFsDir
	LegalInfo *fs.RomFsDir

	// TitleId overrides the id embedded in the NPDM when nonzero.
	TitleId      uint64
	TitleVersion uint32

	KeyGeneration int    // default 1
	KeyAreaKey    []byte // default 16 bytes of 0x04
	SdkVersion    uint32 // default 0x000C1100

	Plaintext       bool
	NoLogo          bool
	NoPatchNacpLogo bool
	NoPatchAcidKey  bool
	NoSignNcaSig2   bool

	TitleName      string
	TitlePublisher string

	Logger *zap.Logger
}

// Result is a finished build.
type Result struct {
	Nsp      []byte
	TitleId  string // 16 hex digits
	NcaIds   []string
	Filename string
}

// Build runs the whole pipeline: NPDM and NACP patching, RomFS and ExeFS
// section encoding, per-NCA assembly, CNMT generation and final packaging.
func Build(opts Options) (*Result, error) {
	entries, result, err := buildPackage(opts)
	if err != nil {
		return nil, err
	}
	result.Nsp = fs.BuildPfs0(entries)
	return result, nil
}

// BuildTo runs the same pipeline but streams the package to w instead of
// materializing it, for large titles.
func BuildTo(w io.WriteSeeker, opts Options) (*Result, error) {
	entries, result, err := buildPackage(opts)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	pw, err := fs.NewPfs0Writer(w, names)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if err := pw.AddFile(i, bytes.NewReader(e.Data)); err != nil {
			return nil, err
		}
	}
	if err := pw.Finish(); err != nil {
		return nil, err
	}
	return result, nil
}

func buildPackage(opts Options) ([]fs.Pfs0Entry, *Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if opts.KeyGeneration == 0 {
		opts.KeyGeneration = 1
	}
	if opts.KeyAreaKey == nil {
		opts.KeyAreaKey = make([]byte, 16)
		for i := range opts.KeyAreaKey {
			opts.KeyAreaKey[i] = defaultKeyAreaKey
		}
	}
	if opts.SdkVersion == 0 {
		opts.SdkVersion = defaultSdkVersion
	}

	keySet := opts.Keys
	if keySet == nil {
		if opts.KeysText == "" {
			return nil, nil, fmt.Errorf("%w: keys", fs.ErrMissingInput)
		}
		var err error
		keySet, err = keys.ParseText(opts.KeysText, opts.KeyGeneration)
		if err != nil {
			return nil, nil, err
		}
	}

	// NPDM: validate, extract the title id, patch overrides in a copy.
	npdm, ok := opts.ExeFs[npdmName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: exefs %s", fs.ErrMissingInput, npdmName)
	}
	npdm = append([]byte(nil), npdm...)

	titleId, err := fs.ProcessNpdm(npdm, fs.NpdmOptions{
		TitleIdOverride: opts.TitleId,
		PatchAcidKey:    !opts.NoPatchAcidKey,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("processed npdm", zap.String("titleId", fmt.Sprintf("%016x", titleId)))

	exefs := overlay(opts.ExeFs, npdmName, npdm)

	// Control: NACP presence, icon presence, patches in a copy.
	nacp, ok := opts.Control[nacpName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: control %s", fs.ErrMissingInput, nacpName)
	}
	if !hasIcon(opts.Control) {
		return nil, nil, fmt.Errorf("%w: control icon file", fs.ErrMissingInput)
	}

	nacp = append([]byte(nil), nacp...)
	patch := fs.NacpPatch{
		Title:               opts.TitleName,
		Publisher:           opts.TitlePublisher,
		SetLogoHandlingAuto: !opts.NoPatchNacpLogo,
	}
	if err := fs.PatchNacp(nacp, patch); err != nil {
		return nil, nil, err
	}
	control := overlay(opts.Control, nacpName, nacp)

	ncaOpts := fs.NcaOptions{
		TitleId:       titleId,
		SdkVersion:    opts.SdkVersion,
		KeyGeneration: opts.KeyGeneration,
		KeyAreaKey:    opts.KeyAreaKey,
		Keys:          keySet,
		Plaintext:     opts.Plaintext,
	}

	// Program NCA: ExeFS, then the optional RomFS and logo sections.
	sections := []*fs.NcaSection{
		fs.NewPfs0Section(fs.BuildPfs0(mapEntries(exefs)), fs.ExeFsBlockSize, fs.CryptoTypeCTR),
	}
	if opts.RomFs != nil && !opts.RomFs.Empty() {
		sec, err := fs.NewRomFsSection(fs.BuildRomFs(opts.RomFs))
		if err != nil {
			return nil, nil, err
		}
		sections = append(sections, sec)
	}
	if len(opts.Logo) > 0 && !opts.NoLogo {
		sections = append(sections,
			fs.NewPfs0Section(fs.BuildPfs0(mapEntries(opts.Logo)), fs.LogoBlockSize, fs.CryptoTypeNone))
	}

	programOpts := ncaOpts
	programOpts.ContentType = fs.NcaContentProgram
	programOpts.Sign = !opts.NoSignNcaSig2
	program, err := fs.BuildNca(sections, programOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("program nca: %w", err)
	}
	log.Info("built program nca", zap.String("id", program.Id()), zap.Uint64("size", program.Size()))

	// Control NCA.
	controlOpts := ncaOpts
	controlOpts.ContentType = fs.NcaContentControl
	controlNca, err := buildRomFsNca(fs.RomFsFromMap(control), controlOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("control nca: %w", err)
	}
	log.Info("built control nca", zap.String("id", controlNca.Id()))

	ncas := []*fs.Nca{program, controlNca}
	contents := []fs.CnmtContent{
		{Hash: program.Hash, Size: program.Size(), Type: fs.CnmtContentProgram},
		{Hash: controlNca.Hash, Size: controlNca.Size(), Type: fs.CnmtContentControl},
	}

	// Optional manual NCAs.
	manualOpts := ncaOpts
	manualOpts.ContentType = fs.NcaContentManual
	if opts.HtmlDoc != nil && !opts.HtmlDoc.Empty() {
		nca, err := buildRomFsNca(opts.HtmlDoc, manualOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("htmldoc nca: %w", err)
		}
		ncas = append(ncas, nca)
		contents = append(contents, fs.CnmtContent{Hash: nca.Hash, Size: nca.Size(), Type: fs.CnmtContentHtmlDocument})
	}
	if opts.LegalInfo != nil && !opts.LegalInfo.Empty() {
		nca, err := buildRomFsNca(opts.LegalInfo, manualOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("legalinfo nca: %w", err)
		}
		ncas = append(ncas, nca)
		contents = append(contents, fs.CnmtContent{Hash: nca.Hash, Size: nca.Size(), Type: fs.CnmtContentLegalInformation})
	}

	// Meta NCA wraps the CNMT.
	cnmt, err := fs.BuildCnmt(titleId, opts.TitleVersion, contents)
	if err != nil {
		return nil, nil, err
	}
	cnmtPfs0 := fs.BuildPfs0([]fs.Pfs0Entry{
		{Name: fmt.Sprintf("Application_%016x.cnmt", titleId), Data: cnmt},
	})

	metaOpts := ncaOpts
	metaOpts.ContentType = fs.NcaContentMeta
	meta, err := fs.BuildNca(
		[]*fs.NcaSection{fs.NewPfs0Section(cnmtPfs0, fs.MetaBlockSize, fs.CryptoTypeCTR)},
		metaOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("meta nca: %w", err)
	}
	log.Info("built meta nca", zap.String("id", meta.Id()))

	// Package: content NCAs in build order, meta last.
	var entries []fs.Pfs0Entry
	var ncaIds []string
	for _, nca := range ncas {
		entries = append(entries, fs.Pfs0Entry{Name: nca.Id() + ".nca", Data: nca.Data})
		ncaIds = append(ncaIds, nca.Id())
	}
	entries = append(entries, fs.Pfs0Entry{Name: meta.Id() + ".cnmt.nca", Data: meta.Data})
	ncaIds = append(ncaIds, meta.Id())

	hexTitleId := fmt.Sprintf("%016x", titleId)
	return entries, &Result{
		TitleId:  hexTitleId,
		NcaIds:   ncaIds,
		Filename: hexTitleId + ".nsp",
	}, nil
}

func buildRomFsNca(root *fs.RomFsDir, opts fs.NcaOptions) (*fs.Nca, error) {
	sec, err := fs.NewRomFsSection(fs.BuildRomFs(root))
	if err != nil {
		return nil, err
	}
	return fs.BuildNca([]*fs.NcaSection{sec}, opts)
}

// overlay returns files with one entry replaced, leaving the input map
// untouched.
func overlay(files map[string][]byte, name string, data []byte) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for k, v := range files {
		out[k] = v
	}
	out[name] = data
	return out
}

func hasIcon(control map[string][]byte) bool {
	for name := range control {
		if strings.HasPrefix(name, "icon_") && strings.HasSuffix(name, ".dat") {
			return true
		}
	}
	return false
}

// mapEntries flattens a name->data map into sorted PFS0 entries. PFS0
// preserves insertion order, so sort for a deterministic container.
func mapEntries(files map[string][]byte) []fs.Pfs0Entry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]fs.Pfs0Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fs.Pfs0Entry{Name: name, Data: files[name]})
	}
	return entries
}
