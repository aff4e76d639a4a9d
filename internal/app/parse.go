package app

import "strings"

// tokenize splits a console line into tokens. Single and double quotes group
// words; a backslash escapes the next byte.
//
//	create "tea break" --target 3m
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out    []string
		buf    strings.Builder
		inQ    bool
		qChar  byte
		esc    bool
		quoted bool
	)
	flush := func() {
		if buf.Len() > 0 || quoted {
			out = append(out, buf.String())
			buf.Reset()
		}
		quoted = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ, qChar, quoted = true, ch, true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

type args struct {
	pos   []string
	flags map[string]string
	bools map[string]bool
}

func (a args) flag(names ...string) string {
	for _, n := range names {
		if v, ok := a.flags[n]; ok {
			return v
		}
	}
	return ""
}

func (a args) has(names ...string) bool {
	for _, n := range names {
		if a.bools[n] {
			return true
		}
		if _, ok := a.flags[n]; ok {
			return true
		}
	}
	return false
}

// parseArgs splits tokens into positionals and flags.
//
// Supported:
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v
//
// A flag listed in boolFlags never consumes the next token.
func parseArgs(tokens []string, boolFlags ...string) args {
	a := args{flags: map[string]string{}, bools: map[string]bool{}}
	isBool := func(k string) bool {
		for _, b := range boolFlags {
			if b == k {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if !strings.HasPrefix(t, "-") || t == "-" || t == "--" || isNumber(t) {
			a.pos = append(a.pos, t)
			continue
		}
		key := strings.TrimLeft(t, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			a.flags[key[:eq]] = key[eq+1:]
			continue
		}
		if !isBool(key) && i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
			a.flags[key] = tokens[i+1]
			i++
			continue
		}
		a.bools[key] = true
	}
	return a
}

func isNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			return false
		}
	}
	return true
}
