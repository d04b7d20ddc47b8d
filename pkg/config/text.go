// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	mrerrors "github.com/absmach/mrelay/pkg/errors"
)

const maxLine = 16384

// ParseText reads the classic line-oriented format. Lines that cannot be
// parsed are reported as warnings; only a read error fails.
func ParseText(r io.Reader) (*File, []Warning, error) {
	var (
		f        File
		warnings []Warning
		// skipping is set after a malformed rule line so that the patterns
		// following it are not attached to an earlier rule.
		skipping bool
	)
	warn := func(line int, format string, args ...any) {
		warnings = append(warnings, Warning{Line: line, Msg: fmt.Sprintf(format, args...)})
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	for lnum := 1; scanner.Scan(); lnum++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch directive := fields[0]; directive {
		case "allow", "deny":
			if len(fields) < 2 {
				warn(lnum, "nothing to %s specified", directive)
				continue
			}
			if skipping {
				warn(lnum, "%s %s ignored: the preceding rule was skipped", directive, fields[1])
				continue
			}
			allow, deny := &f.Allow, &f.Deny
			if n := len(f.Rules); n > 0 {
				allow, deny = &f.Rules[n-1].Allow, &f.Rules[n-1].Deny
			}
			if directive == "allow" {
				*allow = append(*allow, fields[1])
			} else {
				*deny = append(*deny, fields[1])
			}
		case "logfile":
			if len(fields) < 2 {
				warn(lnum, "no log file name specified")
				continue
			}
			f.LogFile = fields[1]
		case "pidlogfile":
			if len(fields) < 2 {
				warn(lnum, "no PID log file name specified")
				continue
			}
			f.PIDFile = fields[1]
		case "logcommon":
			f.LogCommon = true
		default:
			if len(fields) < 4 {
				warn(lnum, "forwarding rule needs bind address, bind port, connect address and connect port")
				skipping = true
				continue
			}
			skipping = false
			f.Rules = append(f.Rules, RuleConfig{
				Bind:        fields[0],
				BindPort:    Port(fields[1]),
				Connect:     fields[2],
				ConnectPort: Port(fields[3]),
				Line:        lnum,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, err
	}

	return &f, warnings, nil
}

// ValidatePattern checks that every character of an allow or deny pattern
// is a digit, '.', '?' or '*'. Host names are not supported.
func ValidatePattern(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty", mrerrors.ErrInvalidPattern)
	}
	for _, c := range p {
		switch {
		case c >= '0' && c <= '9', c == '.', c == '?', c == '*':
		default:
			return fmt.Errorf("%w %q: only digits, '.', '?' and '*' are allowed", mrerrors.ErrInvalidPattern, p)
		}
	}
	return nil
}
