// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Configuration layering (INI file, then environment, then flags) and the
// print-config command are modelled on go.gazette.dev/core/mainboilerplate
// (MIT License).

package mainboilerplate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// ConfigDir is the directory under ~/.config searched for INI files.
const ConfigDir = "zbroker"

// ConfigFileEnv names an INI file to use in place of the searched paths.
const ConfigFileEnv = "ZBROKER_CONFIG"

// ConfigPaths returns the INI files consulted for configName, in order of
// preference. When ConfigFileEnv is set it is the only candidate. Otherwise
// candidates are the working directory, then ~/.config/zbroker under
// $HOME or %UserProfile%.
func ConfigPaths(configName string) []string {
	if path := os.Getenv(ConfigFileEnv); path != "" {
		return []string{path}
	}
	var paths = []string{configName}
	for _, home := range []string{os.Getenv("HOME"), os.Getenv("UserProfile")} {
		if home != "" {
			paths = append(paths, filepath.Join(home, ".config", ConfigDir, configName))
		}
	}
	return paths
}

// ParseIniFiles parses the first of paths which exists into parser, and
// returns its path. Options unknown to parser are ignored. It returns ""
// if none of paths exist.
func ParseIniFiles(parser *flags.Parser, paths []string) (string, error) {
	var saved = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = saved }()

	var ini = flags.NewIniParser(parser)
	for _, path := range paths {
		var err = ini.ParseFile(path)
		switch {
		case err == nil:
			return path, nil
		case os.IsNotExist(err):
			continue
		default:
			return "", errors.WithMessagef(err, "parsing %s", path)
		}
	}
	return "", nil
}

// MustParseConfig parses parser from an optional INI file found through
// ConfigPaths, then from environment bindings and flags, which take
// precedence. It exits the process on a configuration error.
func MustParseConfig(parser *flags.Parser, configName string) {
	if _, err := ParseIniFiles(parser, ConfigPaths(configName)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// The configuration struct itself is broken.
		panic(err)
	case flags.ErrCommandRequired:
		fmt.Fprintln(os.Stderr)
		writeUsage(os.Stderr, parser)
	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			writeUsage(os.Stderr, parser)
		}
	}
	// Otherwise go-flags has already printed the problem.
	os.Exit(1)
}

func writeUsage(w io.Writer, parser *flags.Parser) {
	parser.WriteHelp(w)
	fmt.Fprintf(w, "\nVersion %s, built at %s.\n", Version, BuildDate)
}

// AddPrintConfigCmd adds a "print-config" command to parser, which writes
// the effective configuration in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
Write the configuration assembled from `+configName+`, environment variables
and flags to stdout, in INI format. The output is itself a valid `+configName+`.
`, &printConfig{parser: parser, out: os.Stdout})
}

type printConfig struct {
	parser *flags.Parser
	out    io.Writer
}

func (p *printConfig) Execute([]string) error {
	flags.NewIniParser(p.parser).Write(p.out,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
