package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	dim    = "\033[2m"
)

var logoLines = [4]string{
	`             _              `,
	`  _ __ ___  | | __ _ _   _  `,
	` | '__/ _ \ | |/ _` + "`" + ` | | | | `,
	` | | |  __/ | | (_| | |_| | `,
}

// PrintBanner prints a small ASCII banner identifying which process
// mode is starting (supervisor, run-bot, run-gateway), with version and
// listen address below it. Colors are used only when stderr is a TTY.
func PrintBanner(mode, ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	modeColor := cyan
	switch mode {
	case "supervisor":
		modeColor = green
	case "run-bot", "run-gateway":
		modeColor = yellow
	}

	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+modeColor, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %smode%s %s   %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, mode, dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  mode %s   version %s   addr %s\n\n", mode, ver, addr)
	}
}
