package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConsoleWriter renders log lines as `<time> | LEVEL | [ message ] key=value`.
// Color is disabled so redirected output stays free of ANSI escape codes.
func ConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("[ %s ]", i)
	}
	return output
}

func SetupLogger() {
	log.Logger = zerolog.New(ConsoleWriter(os.Stderr)).With().Timestamp().Logger()
}

func GetLogger() zerolog.Logger {
	return log.Logger
}
