package prompt

import (
	"fmt"
	"io"

	fcolor "github.com/fatih/color"
)

// MessageType selects the styling of a notice.
type MessageType int

const (
	ErrorType MessageType = iota
	WarningType
	InfoType
	SuccessType
	TitleType
)

var styles = map[MessageType]struct {
	symbol string
	color  *fcolor.Color
}{
	ErrorType:   {"✗ ", fcolor.New(fcolor.FgRed)},
	WarningType: {"⚠ ", fcolor.New(fcolor.FgYellow)},
	InfoType:    {"ℹ ", fcolor.New(fcolor.FgBlue)},
	SuccessType: {"✔ ", fcolor.New(fcolor.FgGreen)},
	TitleType:   {"", fcolor.New(fcolor.Bold)},
}

// Notify writes one styled line to w.
func Notify(w io.Writer, typ MessageType, format string, args ...any) {
	style := styles[typ]
	style.color.Fprintln(w, style.symbol+fmt.Sprintf(format, args...))
}

// Errorf writes an error notice.
func Errorf(w io.Writer, format string, args ...any) {
	Notify(w, ErrorType, format, args...)
}

// Warningf writes a warning notice.
func Warningf(w io.Writer, format string, args ...any) {
	Notify(w, WarningType, format, args...)
}

// Infof writes an informational notice.
func Infof(w io.Writer, format string, args ...any) {
	Notify(w, InfoType, format, args...)
}

// Successf writes a success notice.
func Successf(w io.Writer, format string, args ...any) {
	Notify(w, SuccessType, format, args...)
}

// Titlef writes a bold title.
func Titlef(w io.Writer, format string, args ...any) {
	Notify(w, TitleType, format, args...)
}
