// Package cmdline implements line-oriented command framing: splitting
// a shell-like command line into words, and the inverse, packing words
// back into a line with the minimal quoting that preserves the split
// round-trip. It exists only to serve the demonstration control
// server; nothing in the core acquisition/distribution path depends
// on it.
package cmdline

import "github.com/taoshm/camerafabric/pkg/ipcerr"

func isSeparator(c byte) bool { return c == ' ' || c == '\t' }

func isIllegalRaw(c byte) bool { return c == 0 || c == '\r' || c == '\n' }

// stripEOL removes exactly one trailing line terminator: "\r\n", "\n",
// or "\r".
func stripEOL(line []byte) []byte {
	n := len(line)
	if n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
		return line[:n-2]
	}
	if n >= 1 && (line[n-1] == '\n' || line[n-1] == '\r') {
		return line[:n-1]
	}
	return line
}

// Split parses one command line into words. A single trailing "\n",
// "\r", or "\r\n" is stripped first; any NUL, CR, or LF remaining
// after that is an illegal character, since those only have meaning
// as end-of-line markers.
func Split(line []byte) ([]string, *ipcerr.Stack) {
	line = stripEOL(line)

	var words []string
	i := 0
	n := len(line)

	for i < n && isSeparator(line[i]) {
		i++
	}

	for i < n {
		word, next, err := splitWord(line, i)
		if err != nil {
			return nil, err
		}
		words = append(words, word)
		i = next

		if i >= n {
			break
		}
		if !isSeparator(line[i]) {
			return nil, ipcerr.NewStack().Push("cmdline.Split", ipcerr.MissingSeparator)
		}
		for i < n && isSeparator(line[i]) {
			i++
		}
	}

	return words, nil
}

// splitWord parses exactly one word starting at i (which is not a
// separator), returning the decoded word and the index just past it.
func splitWord(line []byte, i int) (string, int, *ipcerr.Stack) {
	switch line[i] {
	case '\'':
		return splitSingleQuoted(line, i)
	case '"':
		return splitDoubleQuoted(line, i)
	default:
		return splitPlain(line, i)
	}
}

// splitPlain consumes a maximal run of characters that are none of
// space, tab, a quote, or an illegal raw control character.
func splitPlain(line []byte, i int) (string, int, *ipcerr.Stack) {
	start := i
	n := len(line)
	for i < n {
		c := line[i]
		if isSeparator(c) || c == '\'' || c == '"' {
			break
		}
		if isIllegalRaw(c) {
			return "", 0, ipcerr.NewStack().Push("cmdline.splitPlain", ipcerr.BadCharacter)
		}
		i++
	}
	return string(line[start:i]), i, nil
}

// splitSingleQuoted consumes 'literal' with no escapes: the first
// unescaped single quote closes it, and interior CR/LF/NUL are
// illegal.
func splitSingleQuoted(line []byte, i int) (string, int, *ipcerr.Stack) {
	n := len(line)
	i++ // skip opening quote
	start := i
	for i < n {
		c := line[i]
		if c == '\'' {
			return string(line[start:i]), i + 1, nil
		}
		if isIllegalRaw(c) {
			return "", 0, ipcerr.NewStack().Push("cmdline.splitSingleQuoted", ipcerr.BadCharacter)
		}
		i++
	}
	return "", 0, ipcerr.NewStack().Push("cmdline.splitSingleQuoted", ipcerr.UnclosedString)
}

// splitDoubleQuoted consumes "literal" honoring the escape set
// \n, \r, \t, \", \\; any other backslash escape is an error.
func splitDoubleQuoted(line []byte, i int) (string, int, *ipcerr.Stack) {
	n := len(line)
	i++ // skip opening quote
	var out []byte
	for i < n {
		c := line[i]
		switch {
		case c == '"':
			return string(out), i + 1, nil
		case c == '\\':
			i++
			if i >= n {
				return "", 0, ipcerr.NewStack().Push("cmdline.splitDoubleQuoted", ipcerr.UnclosedString)
			}
			switch line[i] {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			default:
				return "", 0, ipcerr.NewStack().Push("cmdline.splitDoubleQuoted", ipcerr.BadEscape)
			}
			i++
		case isIllegalRaw(c):
			return "", 0, ipcerr.NewStack().Push("cmdline.splitDoubleQuoted", ipcerr.BadCharacter)
		default:
			out = append(out, c)
			i++
		}
	}
	return "", 0, ipcerr.NewStack().Push("cmdline.splitDoubleQuoted", ipcerr.UnclosedString)
}

// Pack is the inverse of Split: it renders words back into a single
// line, choosing per word whichever of no/single/double quoting is
// shortest while still round-tripping through Split, joins them with
// single spaces, and appends a trailing newline.
func Pack(words []string) string {
	buf := make([]byte, 0, 16*len(words))
	for i, w := range words {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, packWord(w)...)
	}
	buf = append(buf, '\n')
	return string(buf)
}

func packWord(w string) string {
	if w == "" {
		return "''"
	}
	if bareEligible(w) {
		return w
	}
	if singleEligible(w) {
		return "'" + w + "'"
	}
	return packDoubleQuoted(w)
}

func bareEligible(w string) bool {
	for i := 0; i < len(w); i++ {
		c := w[i]
		if isSeparator(c) || c == '\'' || c == '"' || isIllegalRaw(c) {
			return false
		}
	}
	return true
}

func singleEligible(w string) bool {
	for i := 0; i < len(w); i++ {
		c := w[i]
		if c == '\'' || isIllegalRaw(c) {
			return false
		}
	}
	return true
}

func packDoubleQuoted(w string) string {
	out := make([]byte, 0, len(w)+2)
	out = append(out, '"')
	for i := 0; i < len(w); i++ {
		c := w[i]
		switch c {
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, c)
		}
	}
	out = append(out, '"')
	return string(out)
}
