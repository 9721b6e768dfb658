package textpipe

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Magic prefixes checked before any declared metadata. A lying MIME type or
// extension never overrides what the bytes say.
var (
	magicPDF = []byte("%PDF")
	magicZip = []byte("PK\x03\x04") // docx is a zip container
)

var imageMagics = [][]byte{
	{0x89, 'P', 'N', 'G'},       // png
	{0xFF, 0xD8, 0xFF},          // jpeg
	{'G', 'I', 'F', '8'},        // gif
	{'B', 'M'},                  // bmp
	{'I', 'I', 0x2A, 0x00},      // tiff LE
	{'M', 'M', 0x00, 0x2A},      // tiff BE
}

// DetectKind classifies raw bytes as pdf, docx, text, image or binary.
// Priority: magic bytes, then declared MIME, then filename extension.
// It always returns a kind; there is no error condition.
func DetectKind(data []byte, name, mime string) Kind {
	// (a) magic bytes
	if bytes.HasPrefix(data, magicPDF) {
		return KindPDF
	}
	if bytes.HasPrefix(data, magicZip) {
		return KindDocx
	}
	for _, m := range imageMagics {
		if bytes.HasPrefix(data, m) {
			return KindImage
		}
	}

	// (b) declared MIME
	lower := strings.ToLower(mime)
	switch {
	case strings.Contains(lower, "pdf"):
		return KindPDF
	case strings.Contains(lower, "officedocument.wordprocessingml"),
		strings.Contains(lower, "msword"):
		return KindDocx
	}

	// (c) filename extension
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".docx", ".doc":
		return KindDocx
	case ".txt", ".text", ".md", ".markdown", ".csv", ".log":
		return KindText
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return KindImage
	}

	if strings.HasPrefix(lower, "text/") {
		return KindText
	}
	if strings.HasPrefix(lower, "image/") {
		return KindImage
	}
	return KindBinary
}
