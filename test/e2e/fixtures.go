package e2e

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions lists the extensions for which fixtures can be generated.
// PDF is not generated here; building a PDF with extractable text needs a writer
// the module does not otherwise depend on.
var SupportedFileExtensions = []string{".txt", ".md", ".markdown", ".xlsx"}

// WriteMinimalFile returns the bytes of a minimal file of the given extension
// containing text.
func WriteMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".txt", ".md", ".markdown":
		return []byte(text), nil
	case ".xlsx":
		return minimalXlsx(text)
	default:
		return nil, fmt.Errorf("no fixture for %q", ext)
	}
}

func minimalXlsx(text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", text); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
