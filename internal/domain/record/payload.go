package record

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/healthlock/healthlock/internal/platform/apperr"
)

const (
	pdfType          = "application/pdf"
	pdfDataURLPrefix = "data:application/pdf;base64,"
	defaultFileName  = "report.pdf"
)

var pdfMagic = []byte("%PDF-")

// decodeUpload validates an uploaded data URL and returns the PDF bytes.
func decodeUpload(md MedicalData, maxBytes int64) ([]byte, error) {
	if strings.TrimSpace(md.File) == "" {
		return nil, apperr.WithCode(apperr.KindValidation, "INVALID_UPLOAD_PAYLOAD",
			"medicalData and its file property are required")
	}
	notPDF := apperr.WithCode(apperr.KindValidation, "INVALID_FILE_TYPE", "Only PDF files are allowed")
	if strings.ToLower(strings.TrimSpace(md.FileType)) != pdfType || !strings.HasPrefix(md.File, pdfDataURLPrefix) {
		return nil, notPDF
	}

	tooLarge := apperr.WithCode(apperr.KindValidation, "FILE_TOO_LARGE",
		fmt.Sprintf("PDF is too large. Max size is %s", formatBytes(maxBytes)))
	encoded := md.File[len(pdfDataURLPrefix):]
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes+2 {
		return nil, tooLarge
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.WithCode(apperr.KindValidation, "INVALID_UPLOAD_PAYLOAD", "File is not valid base64")
	}
	if int64(len(data)) > maxBytes {
		return nil, tooLarge
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, notPDF
	}
	return data, nil
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == "/" {
		return defaultFileName
	}
	return name
}

func encodeDataURL(fileType string, data []byte) string {
	return "data:" + fileType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// formatTTL renders d the way clients expect it, e.g. "10m".
func formatTTL(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

func formatBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
