package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{`   __ _ _          _                 `, "#818cf8"},
	{`  / _(_) | ___  __| |_ __ ___  _ __  `, "#a78bfa"},
	{` | |_| | |/ _ \/ _` + "`" + ` | '__/ _ \| '_ \ `, "#c084fc"},
	{` |  _| | |  __/ (_| | | | (_) | |_) |`, "#e879f9"},
	{` |_| |_|_|\___|\__,_|_|  \___/| .__/ `, "#f472b6"},
	{`                              |_|    `, "#fb7185"},
}

// PrintBanner writes the filedrop banner followed by the version and listen address.
// Colors degrade to plain text when w is not a color terminal.
func PrintBanner(w io.Writer, version, addr string) {
	out := termenv.NewOutput(w)

	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, " %s %s\n", out.String("version").Faint(), version)
	fmt.Fprintf(w, " %s %s\n\n", out.String("listen ").Faint(), addr)
}
