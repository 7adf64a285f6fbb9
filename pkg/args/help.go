package args

import (
	"fmt"
	"strings"
)

// Usage renders the one-line usage synopsis: skipped prefixes first, then
// options and named arguments, then positionals after a [--] separator.
// Prefixed parsers append an ellipsis standing for the main application's
// own arguments.
func (a *Args) Usage() string {
	var out strings.Builder
	out.WriteString("Usage:\n  ")
	if a.command == "" {
		out.WriteString("./app")
	} else {
		out.WriteString(a.command)
	}

	for _, sp := range a.skipped {
		out.WriteString(" [--" + sp.prefix + "...]")
	}

	hasArguments := false
	for _, e := range a.entries {
		if e.kind == kindArgument {
			hasArguments = true
			continue
		}

		out.WriteByte(' ')
		optional := e.kind == kindOption || e.kind == kindBooleanOption
		if optional {
			out.WriteByte('[')
		}
		if e.shortKey != 0 {
			fmt.Fprintf(&out, "-%c|", e.shortKey)
		}
		out.WriteString("--" + e.helpKey)
		if optional {
			out.WriteByte(']')
		}
	}

	if hasArguments {
		out.WriteString(" [--]")
	}
	for _, e := range a.entries {
		if e.kind != kindArgument {
			continue
		}
		out.WriteString(" " + e.helpKey)
	}

	if a.prefix != "" {
		out.WriteString(" ...")
	}
	out.WriteByte('\n')
	return out.String()
}

// Help renders the usage synopsis followed by the argument list. The key
// column is at least 11 characters wide and capped at 27; overlong keys
// get a single separating space instead of two. Positionals without help
// are omitted, as are options without help and without a default.
func (a *Args) Help() string {
	var out strings.Builder
	out.WriteString(a.Usage())

	if a.help != "" {
		out.WriteString("\n" + a.help + "\n")
	}

	// Compute the key column width. The minimum fits "-h, --help".
	const maxKeyColumnWidth = 27
	keyColumnWidth := 11
	for _, sp := range a.skipped {
		// Room for "--" at the beginning and "..." at the end.
		if w := len(sp.prefix) + 5; w > keyColumnWidth {
			keyColumnWidth = w
		}
		if keyColumnWidth >= maxKeyColumnWidth {
			keyColumnWidth = maxKeyColumnWidth
			break
		}
	}
	for _, e := range a.entries {
		if keyColumnWidth >= maxKeyColumnWidth {
			keyColumnWidth = maxKeyColumnWidth
			break
		}

		// Entries which will not be printed don't count.
		if e.help == "" && (e.kind == kindArgument || e.defaultValue == "") {
			continue
		}

		w := 1 + len(e.helpKey)
		if e.kind != kindArgument {
			w += 2
			if e.shortKey != 0 {
				w += 4
			}
		}
		if w > keyColumnWidth {
			keyColumnWidth = w
		}
	}
	if keyColumnWidth > maxKeyColumnWidth {
		keyColumnWidth = maxKeyColumnWidth
	}

	pad := func(s string, w int) string { return fmt.Sprintf("%-*s", w, s) }
	indent := strings.Repeat(" ", keyColumnWidth+3)

	out.WriteString("\nArguments:\n")

	// A prefixed parser points at the main application's arguments.
	if a.prefix != "" {
		out.WriteString("  " + pad("...", keyColumnWidth) + " main application arguments\n")
		out.WriteString(indent + "(see -h or --help for details)\n")
	}

	// Positional arguments first.
	for _, e := range a.entries {
		if e.kind != kindArgument || e.help == "" {
			continue
		}
		out.WriteString("  " + pad(e.helpKey, keyColumnWidth) + " " + e.help + "\n")
	}

	// Named arguments and options second.
	for _, e := range a.entries {
		if e.kind == kindArgument || (e.defaultValue == "" && e.help == "") {
			continue
		}

		out.WriteString("  ")
		w := keyColumnWidth - 2
		if e.shortKey != 0 {
			fmt.Fprintf(&out, "-%c, ", e.shortKey)
			w = keyColumnWidth - 6
		}
		out.WriteString("--" + pad(e.helpKey, w) + " ")

		if e.help != "" {
			out.WriteString(e.help + "\n")
		}

		// The default goes on its own indented line when help text is
		// present, inline otherwise.
		if e.defaultValue != "" {
			if e.help != "" {
				out.WriteString(indent)
			}
			out.WriteString("(default: " + e.defaultValue + ")\n")
		}
	}

	// References to skipped prefixes last.
	for _, sp := range a.skipped {
		out.WriteString("  --" + pad(sp.prefix+"... ", keyColumnWidth-1))
		if sp.help != "" {
			out.WriteString(sp.help + "\n" + indent)
		}
		out.WriteString("(see --" + sp.prefix + "help for details)\n")
	}

	return out.String()
}
