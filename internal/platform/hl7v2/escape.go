package hl7v2

import "strings"

var escaper = strings.NewReplacer(
	"\\", "\\E\\",
	"|", "\\F\\",
	"^", "\\S\\",
	"~", "\\R\\",
	"&", "\\T\\",
	"\r", "\\X0D\\",
	"\n", "\\X0A\\",
)

var unescaper = strings.NewReplacer(
	"\\E\\", "\\",
	"\\F\\", "|",
	"\\S\\", "^",
	"\\R\\", "~",
	"\\T\\", "&",
	"\\X0D\\", "\r",
	"\\X0A\\", "\n",
)

// Escape encodes free text for a single ER7 field value using the default
// delimiters.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	return unescaper.Replace(s)
}
