package chrome

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/launcher/flags"
)

// setting is one Chrome command line switch.
type setting struct {
	name   flags.Flag
	values []string
}

// translateArgs maps headless-browser style switches onto Chrome flags.
// Switches with no Chrome equivalent are dropped; anything unrecognised is
// passed through verbatim.
func translateArgs(args []string) ([]setting, error) {
	var out []setting
	for _, raw := range args {
		if !strings.HasPrefix(raw, "--") {
			continue
		}
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}

		switch name {
		case "web-security":
			on, err := parseYesNo(name, val, hasVal)
			if err != nil {
				return nil, err
			}
			if !on {
				out = append(out, setting{name: "disable-web-security"})
			}
		case "ignore-ssl-errors":
			on, err := parseYesNo(name, val, hasVal)
			if err != nil {
				return nil, err
			}
			if on {
				out = append(out, setting{name: "ignore-certificate-errors"})
			}
		case "load-images":
			on, err := parseYesNo(name, val, hasVal)
			if err != nil {
				return nil, err
			}
			if !on {
				out = append(out, setting{name: "blink-settings", values: []string{"imagesEnabled=false"}})
			}
		case "proxy":
			if val != "" {
				out = append(out, setting{name: flags.ProxyServer, values: []string{val}})
			}
		case "script-timeout", "proxy-type", "disk-cache", "local-storage-path", "output-encoding", "ssl-protocol":
			// no Chrome equivalent
		default:
			s := setting{name: flags.Flag(name)}
			if hasVal {
				s.values = []string{val}
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func parseYesNo(name, val string, hasVal bool) (bool, error) {
	if !hasVal {
		return true, nil
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "yes", "true", "1", "on":
		return true, nil
	case "no", "false", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("chrome: invalid value %q for --%s", val, name)
}
