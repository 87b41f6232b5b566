package cli

import (
	"fmt"
	"strconv"
)

// argScanner is a hand-rolled flag scanner in the teacher's manual os.Args
// style (cmd/aegis/main.go scans for literal "--stopped"/"--running"
// tokens itself rather than using a flag-parsing library). It walks a
// positional-then-flags argument list, consuming `--flag value` pairs and
// bare boolean flags, and leaves remaining positional arguments available
// via Positionals().
type argScanner struct {
	positionals []string
	flags       map[string]string
	bools       map[string]bool
}

// valueFlags names the flags (without leading dashes) that consume the
// following token as a value; everything else starting with "--" or "-"
// is treated as a boolean flag.
func scanArgs(args []string, valueFlags map[string]bool) (*argScanner, error) {
	s := &argScanner{flags: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if len(a) >= 1 && a[0] == '-' {
			name := trimDashes(a)
			if valueFlags[name] {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("flag %q requires a value", a)
				}
				s.flags[name] = args[i+1]
				i++
				continue
			}
			s.bools[name] = true
			continue
		}
		s.positionals = append(s.positionals, a)
	}
	return s, nil
}

func trimDashes(s string) string {
	for len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	return s
}

func (s *argScanner) Positionals() []string { return s.positionals }

func (s *argScanner) String(name, def string) string {
	if v, ok := s.flags[name]; ok {
		return v
	}
	return def
}

func (s *argScanner) Bool(name string) bool { return s.bools[name] }

func (s *argScanner) Int(name string, def int) (int, error) {
	v, ok := s.flags[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("flag --%s: %w", name, err)
	}
	return n, nil
}
