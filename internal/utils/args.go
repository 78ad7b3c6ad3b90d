package utils

import "strings"

// Args holds the flags xbuild reads out of the forwarded cargo arguments.
// Nothing is removed from the original slice; cargo still sees every flag.
type Args struct {
	// Target as given with --target, empty if absent
	Target string

	// ManifestPath as given with --manifest-path
	ManifestPath string

	// Verbosity counts -v / --verbose occurrences (-vv counts twice)
	Verbosity int

	// Help is set when -h or --help appears before "--"
	Help bool
}

// Verbose reports whether at least one -v was passed
func (a Args) Verbose() bool {
	return a.Verbosity > 0
}

// ParseArgs scans cargo arguments for the flags xbuild cares about.
// Scanning stops at "--", everything after belongs to the compiled program.
func ParseArgs(args []string) Args {
	var parsed Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "--":
			return parsed

		case arg == "--target" || arg == "--manifest-path":
			if i+1 < len(args) {
				setValue(&parsed, arg, args[i+1])
				i++
			}

		case strings.HasPrefix(arg, "--target="), strings.HasPrefix(arg, "--manifest-path="):
			name, value, _ := strings.Cut(arg, "=")
			setValue(&parsed, name, value)

		case arg == "--verbose":
			parsed.Verbosity++

		case arg == "-h" || arg == "--help":
			parsed.Help = true

		case isShortVerbose(arg):
			parsed.Verbosity += len(arg) - 1
		}
	}

	return parsed
}

// HasTarget reports whether a --target flag is present before "--"
func HasTarget(args []string) bool {
	return ParseArgs(args).Target != ""
}

func setValue(parsed *Args, name, value string) {
	switch name {
	case "--target":
		parsed.Target = value
	case "--manifest-path":
		parsed.ManifestPath = value
	}
}

// isShortVerbose matches -v, -vv, -vvv ...
func isShortVerbose(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' || arg[1] == '-' {
		return false
	}

	for _, r := range arg[1:] {
		if r != 'v' {
			return false
		}
	}

	return true
}
