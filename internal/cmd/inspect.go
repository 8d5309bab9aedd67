package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/falk/switch-tools-go/pkg/fs"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "List the contents of an NSP, XCI, NCA, CNMT or NACP",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

type inspectEntry struct {
	Name string
	Size uint64
}

type cnmtContentInfo struct {
	Id   string
	Size uint64
	Type string
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	output := json.NewEncoder(os.Stdout)
	output.SetIndent("", "  ")
	output.SetEscapeHTML(false)

	switch strings.ToLower(filepath.Ext(args[0])) {
	case ".xci":
		xci, err := fs.OpenXci(f)
		if err != nil {
			return err
		}
		entries := make([]inspectEntry, 0, len(xci.Secure))
		for _, file := range xci.Secure {
			entries = append(entries, inspectEntry{Name: file.Name, Size: file.Size})
		}
		return output.Encode(struct {
			Format string
			Secure []inspectEntry
		}{"XCI", entries})

	case ".nca":
		keySet, err := loadKeys(0)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		info, err := fs.InspectNcaHeader(data, keySet)
		if err != nil {
			return err
		}
		return output.Encode(info)

	case ".cnmt":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return encodeCnmt(output, data)

	case ".nacp":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return encodeNacp(output, data)

	default:
		// NSP and other PFS0 containers. A Meta partition holding a
		// single content meta record table is decoded in place.
		files, dataStart, err := fs.OpenPfs0(f)
		if err != nil {
			return err
		}
		if len(files) == 1 && strings.HasSuffix(files[0].Name, ".cnmt") {
			data := make([]byte, files[0].Entry.DataSize)
			if _, err := f.ReadAt(data, dataStart+int64(files[0].Entry.DataOffset)); err != nil {
				return err
			}
			return encodeCnmt(output, data)
		}

		entries := make([]inspectEntry, 0, len(files))
		for _, file := range files {
			entries = append(entries, inspectEntry{Name: file.Name, Size: file.Entry.DataSize})
		}
		return output.Encode(struct {
			Format string
			Files  []inspectEntry
		}{"PFS0", entries})
	}
}

func encodeCnmt(output *json.Encoder, data []byte) error {
	titleId, version, contents, err := fs.ParseCnmt(data)
	if err != nil {
		return err
	}

	infos := make([]cnmtContentInfo, 0, len(contents))
	for _, c := range contents {
		infos = append(infos, cnmtContentInfo{
			Id:   hex.EncodeToString(c.Hash[:16]),
			Size: c.Size,
			Type: cnmtTypeName(c.Type),
		})
	}
	return output.Encode(struct {
		Format   string
		TitleId  string
		Version  uint32
		Contents []cnmtContentInfo
	}{"CNMT", fmt.Sprintf("%016x", titleId), version, infos})
}

func encodeNacp(output *json.Encoder, data []byte) error {
	type nacpSlot struct {
		Slot      int
		Title     string
		Publisher string
	}

	var slots []nacpSlot
	for i := 0; i < 12; i++ {
		title, publisher, err := fs.NacpTitle(data, i)
		if err != nil {
			return err
		}
		if title == "" && publisher == "" {
			continue
		}
		slots = append(slots, nacpSlot{Slot: i, Title: title, Publisher: publisher})
	}
	return output.Encode(struct {
		Format string
		Titles []nacpSlot
	}{"NACP", slots})
}

func cnmtTypeName(t byte) string {
	switch t {
	case fs.CnmtContentMeta:
		return "Meta"
	case fs.CnmtContentProgram:
		return "Program"
	case fs.CnmtContentData:
		return "Data"
	case fs.CnmtContentControl:
		return "Control"
	case fs.CnmtContentHtmlDocument:
		return "HtmlDocument"
	case fs.CnmtContentLegalInformation:
		return "LegalInformation"
	}
	return fmt.Sprintf("Unknown(%d)", t)
}
