package util

import "strings"

// NormalizeMIME lowercases mime and strips parameters, so
// "Application/PDF; x=y" becomes "application/pdf".
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}
