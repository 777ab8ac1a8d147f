package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Confirm asks a yes/no question on stderr and reads the answer from stdin.
// Anything but an explicit yes is no.
func Confirm(format string, a ...any) bool {
	fmt.Fprintf(os.Stderr, "%s %s [y/N] ", WarnStyle.Render("?"), fmt.Sprintf(format, a...))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
