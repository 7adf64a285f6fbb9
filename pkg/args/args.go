// Package args provides a declarative command-line argument schema and a
// one-pass parser: positional arguments, named arguments, value options
// with defaults, boolean flags, short and long keys, prefixed option
// namespaces and help rendering. A prefixed parser consumes only its own
// --prefix-key long options, so one command line can feed several
// cooperating parsers.
package args

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type kind uint8

const (
	kindArgument kind = iota
	kindNamedArgument
	kindOption
	kindBooleanOption
)

// entry is one declared argument. Value entries index into values, boolean
// options into booleans.
type entry struct {
	kind         kind
	shortKey     rune
	key          string
	help         string
	helpKey      string
	defaultValue string
	id           int
}

type skippedPrefix struct {
	// prefix is stored with a trailing dash so comparisons always see
	// "prefix-" and never a bare "prefix".
	prefix string
	help   string
}

// Args holds a declarative argument schema and, after a parse, the values
// extracted from the command line.
//
// A parser constructed with NewPrefixed acts as a namespace: it recognizes
// only --prefix-key long options and ignores everything else, so several
// cooperating parsers can consume a single command line.
type Args struct {
	prefix   string
	command  string
	help     string
	entries  []entry
	skipped  []skippedPrefix
	values   []string
	booleans []bool

	// stderr receives parse diagnostics; tests redirect it.
	stderr io.Writer
}

// New creates an unprefixed parser. The -h / --help boolean option is
// preregistered.
func New() *Args {
	a := &Args{stderr: os.Stderr}
	a.AddBooleanOption('h', "help")
	a.SetHelp("help", "display this help message and exit")
	return a
}

// NewPrefixed creates a parser recognizing only --prefix-key long options.
// Positionals, named arguments and short keys are not allowed in prefixed
// parsers; --prefix-help is the single permitted boolean option and is
// preregistered.
func NewPrefixed(prefix string) *Args {
	a := &Args{prefix: prefix + "-", stderr: os.Stderr}
	a.AddBooleanOption(0, "help")
	a.SetHelp("help", "display this help message and exit")
	return a
}

// SetErrorOutput redirects parse diagnostics, which go to os.Stderr by
// default.
func (a *Args) SetErrorOutput(w io.Writer) *Args {
	a.stderr = w
	return a
}

// AddArgument declares a required positional argument. Positionals are
// filled in declaration order.
func (a *Args) AddArgument(key string) *Args {
	if a.prefix != "" {
		panic(fmt.Sprintf("args: argument %s not allowed in prefixed version", key))
	}
	if key == "" {
		panic("args: key must not be empty")
	}
	if a.find(key) != nil {
		panic(fmt.Sprintf("args: the key %s is already used", key))
	}

	a.entries = append(a.entries, entry{
		kind:    kindArgument,
		key:     key,
		helpKey: key,
		id:      len(a.values),
	})
	a.values = append(a.values, "")
	return a
}

// AddNamedArgument declares a required --key VALUE argument with an
// optional single-character short key (pass 0 for none).
func (a *Args) AddNamedArgument(shortKey rune, key string) *Args {
	if !verifyShortKey(shortKey) || !verifyKey(key) {
		panic(fmt.Sprintf("args: invalid key %s or its short variant", key))
	}
	if (shortKey != 0 && a.findShort(shortKey) != nil) || a.find(a.prefix+key) != nil {
		panic(fmt.Sprintf("args: the key %s or its short version is already used", key))
	}
	if a.prefix != "" {
		panic(fmt.Sprintf("args: argument %s not allowed in prefixed version", key))
	}

	a.entries = append(a.entries, entry{
		kind:     kindNamedArgument,
		shortKey: shortKey,
		key:      key,
		helpKey:  key + " " + strings.ToUpper(key),
		id:       len(a.values),
	})
	a.values = append(a.values, "")
	return a
}

// AddOption declares an optional --key VALUE option with a default. The
// short key may be 0; in prefixed parsers it must be.
func (a *Args) AddOption(shortKey rune, key, defaultValue string) *Args {
	if !verifyShortKey(shortKey) || !verifyKey(key) {
		panic(fmt.Sprintf("args: invalid key %s or its short variant", key))
	}
	if (shortKey != 0 && a.findShort(shortKey) != nil) || a.find(a.prefix+key) != nil {
		panic(fmt.Sprintf("args: the key %s or its short version is already used", key))
	}
	if a.prefix != "" && shortKey != 0 {
		panic(fmt.Sprintf("args: short option %c not allowed in prefixed version", shortKey))
	}
	if a.isSkippedPrefix(key) {
		panic(fmt.Sprintf("args: key %s conflicts with skipped prefixes", key))
	}

	fullKey := key
	if a.prefix != "" {
		fullKey = a.prefix + key
	}
	a.entries = append(a.entries, entry{
		kind:         kindOption,
		shortKey:     shortKey,
		key:          fullKey,
		helpKey:      fullKey + " " + strings.ToUpper(key),
		defaultValue: defaultValue,
		id:           len(a.values),
	})
	a.values = append(a.values, "")
	return a
}

// AddBooleanOption declares a boolean flag, false unless present. In
// prefixed parsers only the preregistered help flag is allowed.
func (a *Args) AddBooleanOption(shortKey rune, key string) *Args {
	if !verifyShortKey(shortKey) || !verifyKey(key) {
		panic(fmt.Sprintf("args: invalid key %s or its short variant", key))
	}
	if (shortKey != 0 && a.findShort(shortKey) != nil) || a.find(key) != nil {
		panic(fmt.Sprintf("args: the key %s or its short version is already used", key))
	}
	if a.prefix != "" && key != "help" {
		panic(fmt.Sprintf("args: boolean option %s not allowed in prefixed version", key))
	}
	if a.isSkippedPrefix(key) {
		panic(fmt.Sprintf("args: key %s conflicts with skipped prefixes", key))
	}

	// The prefix is applied here only for --prefix-help, the single
	// boolean option a prefixed parser has.
	fullKey := key
	if a.prefix != "" {
		fullKey = a.prefix + key
	}
	a.entries = append(a.entries, entry{
		kind:     kindBooleanOption,
		shortKey: shortKey,
		key:      fullKey,
		helpKey:  fullKey,
		id:       len(a.booleans),
	})
	a.booleans = append(a.booleans, false)
	return a
}

// AddSkippedPrefix declares a long-option namespace this parser ignores so
// a sibling prefixed parser can consume it. A skipped --prefix-key option
// swallows its value token too, except for --prefix-help.
func (a *Args) AddSkippedPrefix(prefix, help string) *Args {
	if a.isSkippedPrefix(prefix + "-") {
		panic(fmt.Sprintf("args: prefix %s already added", prefix))
	}
	for _, e := range a.entries {
		if keyHasPrefix(e.key, prefix) {
			panic(fmt.Sprintf("args: skipped prefix %s conflicts with existing keys", prefix))
		}
	}

	// Store with a trailing dash so comparisons are always against
	// "prefix-" and never a bare "prefix".
	a.skipped = append(a.skipped, skippedPrefix{prefix: prefix + "-", help: help})
	return a
}

// SetCommand overrides the command name rendered in usage output; by
// default the first parsed argv element is used.
func (a *Args) SetCommand(name string) *Args {
	a.command = name
	return a
}

// SetGlobalHelp sets the descriptive text printed between the usage line
// and the argument list. Only allowed on unprefixed parsers.
func (a *Args) SetGlobalHelp(help string) *Args {
	if a.prefix != "" {
		panic("args: global help text only allowed in unprefixed version")
	}
	a.help = help
	return a
}

// SetHelp sets the help text of a declared key.
func (a *Args) SetHelp(key, help string) *Args {
	e := a.find(a.prefix + key)
	if e == nil {
		panic(fmt.Sprintf("args: key %s doesn't exist", key))
	}
	e.help = help
	return a
}

// SetHelpKey overrides the rendered value placeholder of a non-boolean key,
// e.g. "file.conf" instead of the uppercased key name.
func (a *Args) SetHelpKey(key, helpKey string) *Args {
	e := a.find(a.prefix + key)
	if e == nil {
		panic(fmt.Sprintf("args: key %s doesn't exist", key))
	}
	if e.kind == kindBooleanOption {
		panic("args: help key can't be set for boolean option")
	}

	if e.kind == kindNamedArgument || e.kind == kindOption {
		e.helpKey = a.prefix + key + " " + helpKey
	} else {
		e.helpKey = helpKey
	}
	return a
}

// Parse parses the command line, printing help and exiting 0 when --help
// was given and printing usage to stderr and exiting 1 when parsing failed.
// Control returns to the caller only on success.
func (a *Args) Parse(argv []string) {
	status := a.TryParse(argv)

	if a.IsSet("help") {
		fmt.Print(a.Help())
		os.Exit(0)
	}

	if !status {
		fmt.Fprint(a.stderr, a.Usage())
		os.Exit(1)
	}
}

// TryParse parses the command line and reports success, printing a
// diagnostic for the first offending token. Booleans are reset and option
// defaults reapplied on every call, so a parser can be reused.
func (a *Args) TryParse(argv []string) bool {
	if a.command == "" && len(argv) >= 1 {
		a.command = argv[0]
	}

	// Reset state from any previous parse.
	for i := range a.booleans {
		a.booleans[i] = false
	}
	for _, e := range a.entries {
		if e.kind == kindBooleanOption {
			continue
		}
		a.values[e.id] = e.defaultValue
	}

	valueFor := -1
	optionsAllowed := true
	nextArgument := 0
	parsed := make([]bool, len(a.entries))

	for i := 1; i < len(argv); i++ {
		token := argv[i]

		// Value for the previously seen option.
		if valueFor != -1 {
			a.values[a.entries[valueFor].id] = token
			parsed[valueFor] = true
			valueFor = -1
			continue
		}

		switch {
		// Option or named argument.
		case optionsAllowed && len(token) != 0 && token[0] == '-':
			found := -1

			switch {
			// Short option.
			case len(token) == 2:
				// Ignored entirely in prefixed parsers.
				if a.prefix != "" {
					continue
				}

				key := rune(token[1])

				// Option / argument separator.
				if key == '-' {
					optionsAllowed = false
					continue
				}

				if !verifyShortKey(key) {
					fmt.Fprintf(a.stderr, "Invalid command-line argument -%c\n", key)
					return false
				}

				if found = a.findShortIndex(key); found == -1 {
					fmt.Fprintf(a.stderr, "Unknown command-line argument -%c\n", key)
					return false
				}

			// Long option.
			case len(token) > 2 && strings.HasPrefix(token, "--"):
				key := token[2:]
				if !verifyKey(key) {
					fmt.Fprintf(a.stderr, "Invalid command-line argument --%s\n", key)
					return false
				}

				// A prefixed parser sees only its own namespace.
				if a.prefix != "" && !keyHasPrefix(key, a.prefix) {
					continue
				}

				// A skipped prefix swallows the option and its value,
				// except for the prefix's help flag.
				ignore := false
				for _, sp := range a.skipped {
					if !keyHasPrefix(key, sp.prefix) {
						continue
					}
					ignore = true
					if key != sp.prefix+"help" {
						i++
					}
					break
				}
				if ignore {
					continue
				}

				if found = a.findIndex(key); found == -1 {
					fmt.Fprintf(a.stderr, "Unknown command-line argument --%s\n", key)
					return false
				}

			// Long option with a single leading dash.
			default:
				fmt.Fprintf(a.stderr, "Invalid command-line argument %s (did you mean -%s?)\n", token, token)
				return false
			}

			if a.entries[found].kind == kindBooleanOption {
				a.booleans[a.entries[found].id] = true
				parsed[found] = true
			} else {
				valueFor = found
			}

		// Positional argument.
		default:
			// Ignored entirely in prefixed parsers.
			if a.prefix != "" {
				continue
			}

			found := a.findNextArgument(nextArgument)
			if found == -1 {
				fmt.Fprintf(a.stderr, "Superfluous command-line argument %s\n", token)
				return false
			}

			a.values[a.entries[found].id] = token
			parsed[found] = true
			nextArgument = found + 1
		}
	}

	// Expected a value, but the command line ended.
	if valueFor != -1 {
		fmt.Fprintf(a.stderr, "Missing value for command-line argument %s\n", a.keyName(a.entries[valueFor]))
		return false
	}

	success := true

	// Every positional and named argument must have been filled.
	for i, e := range a.entries {
		if e.kind == kindBooleanOption || e.kind == kindOption {
			continue
		}
		if !parsed[i] {
			fmt.Fprintf(a.stderr, "Missing command-line argument %s\n", a.keyName(e))
			success = false
		}
	}

	return success
}

// Value returns the parsed (or default) value of a non-boolean key.
// Querying an unknown key or a boolean option is a programmer error and
// panics.
func (a *Args) Value(key string) string {
	e := a.find(a.prefix + key)
	if e == nil {
		panic(fmt.Sprintf("args: key %s not found", key))
	}
	if e.kind == kindBooleanOption {
		panic(fmt.Sprintf("args: cannot use Value for boolean option %s", key))
	}
	return a.values[e.id]
}

// IsSet reports whether a boolean option was present on the command line.
// Querying an unknown or non-boolean key is a programmer error and panics.
func (a *Args) IsSet(key string) bool {
	e := a.find(a.prefix + key)
	if e == nil {
		panic(fmt.Sprintf("args: key %s not found", key))
	}
	if e.kind != kindBooleanOption {
		panic(fmt.Sprintf("args: cannot use IsSet for non-boolean value %s", key))
	}
	return a.booleans[e.id]
}

func (a *Args) isSkippedPrefix(key string) bool {
	for _, sp := range a.skipped {
		if keyHasPrefix(key, sp.prefix) {
			return true
		}
	}
	return false
}

const allowedKeyChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-"

func verifyKey(key string) bool {
	if len(key) <= 1 {
		return false
	}
	for _, c := range key {
		if !strings.ContainsRune(allowedKeyChars, c) {
			return false
		}
	}
	return true
}

func verifyShortKey(shortKey rune) bool {
	if shortKey == 0 {
		return true
	}
	return (shortKey >= 'a' && shortKey <= 'z') ||
		(shortKey >= 'A' && shortKey <= 'Z') ||
		(shortKey >= '0' && shortKey <= '9')
}

func keyHasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}

func (a *Args) find(key string) *entry {
	for i := range a.entries {
		if a.entries[i].key == key {
			return &a.entries[i]
		}
	}
	return nil
}

func (a *Args) findIndex(key string) int {
	for i := range a.entries {
		if a.entries[i].key == key {
			return i
		}
	}
	return -1
}

func (a *Args) findShort(shortKey rune) *entry {
	if i := a.findShortIndex(shortKey); i != -1 {
		return &a.entries[i]
	}
	return nil
}

func (a *Args) findShortIndex(shortKey rune) int {
	for i := range a.entries {
		if a.entries[i].shortKey == shortKey {
			return i
		}
	}
	return -1
}

func (a *Args) findNextArgument(start int) int {
	for i := start; i < len(a.entries); i++ {
		if a.entries[i].kind == kindArgument {
			return i
		}
	}
	return -1
}

func (a *Args) keyName(e entry) string {
	if e.kind == kindArgument {
		return e.helpKey
	}
	return "--" + e.key
}
