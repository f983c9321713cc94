package sandbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Flags are the launch switches the sandbox understands. Unknown switches
// are ignored so the same arg list can be handed to any engine.
type Flags struct {
	WebSecurity     bool
	IgnoreSSLErrors bool
	LoadImages      bool
	ScriptTimeout   time.Duration
}

// DefaultFlags mirrors a stock headless browser: web security on, TLS
// verified, images skipped.
func DefaultFlags() Flags {
	return Flags{
		WebSecurity:   true,
		ScriptTimeout: 10 * time.Second,
	}
}

// ParseFlags reads phantom-style launch args such as "--web-security=no".
func ParseFlags(args []string) (Flags, error) {
	f := DefaultFlags()

	fs := pflag.NewFlagSet("sandbox", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)

	boolFlag(fs, &f.WebSecurity, "web-security", "enforce same-origin for XMLHttpRequest")
	boolFlag(fs, &f.IgnoreSSLErrors, "ignore-ssl-errors", "skip TLS certificate verification")
	boolFlag(fs, &f.LoadImages, "load-images", "fetch <img> sources during page load")
	fs.DurationVar(&f.ScriptTimeout, "script-timeout", f.ScriptTimeout, "limit for a single script run")

	if err := fs.Parse(args); err != nil {
		return Flags{}, fmt.Errorf("sandbox: parse args: %w", err)
	}
	if f.ScriptTimeout <= 0 {
		f.ScriptTimeout = DefaultFlags().ScriptTimeout
	}
	return f, nil
}

func boolFlag(fs *pflag.FlagSet, p *bool, name, usage string) {
	fl := fs.VarPF((*yesNo)(p), name, "", usage)
	fl.NoOptDefVal = "yes"
}

// yesNo is a bool flag that also accepts yes/no and on/off.
type yesNo bool

func (b *yesNo) Set(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1", "on":
		*b = true
	case "no", "false", "0", "off":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

func (b *yesNo) String() string {
	if *b {
		return "yes"
	}
	return "no"
}

func (b *yesNo) Type() string { return "bool" }
