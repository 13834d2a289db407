package constants

import (
	"bytes"
	"strings"
)

// ImageFormat is the canonical name for a supported intake image format.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "JPEG"
	FormatPNG  ImageFormat = "PNG"
	FormatTIFF ImageFormat = "TIFF"
)

// AllowedExtensions holds the file extensions accepted for intake form uploads.
var AllowedExtensions = map[string]ImageFormat{
	"jpg":  FormatJPEG,
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"tif":  FormatTIFF,
	"tiff": FormatTIFF,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat resolves a normalized extension to its format, or "" if unsupported.
func MapExtToFormat(ext string) ImageFormat {
	return AllowedExtensions[NormalizeExt(ext)]
}

var (
	magicJPEG   = []byte{0xFF, 0xD8, 0xFF}
	magicPNG    = []byte{0x89, 0x50, 0x4E, 0x47}
	magicTIFFLE = []byte{0x49, 0x49, 0x2A, 0x00}
	magicTIFFBE = []byte{0x4D, 0x4D, 0x00, 0x2A}
)

// SniffImageFormat detects the image format from leading magic bytes.
// Returns "" when the payload is not a supported format. Extension checks
// alone are not trusted for uploads; the bytes decide.
func SniffImageFormat(data []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicTIFFLE), bytes.HasPrefix(data, magicTIFFBE):
		return FormatTIFF
	default:
		return ""
	}
}
