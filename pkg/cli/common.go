package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"

	"github.com/spf13/viper"

	"github.com/replicate/rget/pkg/metadata"
	"github.com/replicate/rget/pkg/optname"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

// EnsureDestinationNotExist refuses to overwrite an existing file unless it
// has recorded progress to resume from, or --force is set.
func EnsureDestinationNotExist(dest string) error {
	_, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) || metadata.Exists(dest) {
		return nil
	}
	if !viper.GetBool(optname.Force) {
		return fmt.Errorf("destination %s already exists, use --%s to download it again", dest, optname.Force)
	}
	return nil
}

// DestinationFromURL names the local file after the last path segment of
// rawURL.
func DestinationFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "", fmt.Errorf("cannot derive a file name from %s, use --%s", rawURL, optname.Output)
	}
	return name, nil
}

// WithPIDFile runs fn while holding the lock on the pid file at path. An empty
// path runs fn without a lock. Waiting for the lock stops when ctx is done.
func WithPIDFile(ctx context.Context, path string, fn func() error) error {
	if path == "" {
		return fn()
	}
	pidFile, err := NewPIDFile(path)
	if err != nil {
		return fmt.Errorf("error opening pid file %s: %w", path, err)
	}
	if err := pidFile.Acquire(ctx); err != nil {
		return fmt.Errorf("error locking pid file %s: %w", path, err)
	}
	err = fn()
	if releaseErr := pidFile.Release(); releaseErr != nil && err == nil {
		err = fmt.Errorf("error releasing pid file %s: %w", path, releaseErr)
	}
	return err
}
