package pathtmpl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPattern is returned when a date/time pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid date/time pattern")

// Pattern is a compiled date/time pattern using the DateTimeFormatter
// pattern-letter syntax (yyyy, MM, dd, HH, mm, ss, SSS, 'literal', ...).
// Text fields always render in English and values are always taken in UTC.
type Pattern struct {
	elems []element
}

type element struct {
	lit    string
	letter byte
	count  int
}

var (
	monthNames = [...]string{"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December"}
	dayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	quarters = [...]string{"1st quarter", "2nd quarter", "3rd quarter", "4th quarter"}
)

// maxCount is the longest run accepted for each supported pattern letter.
var maxCount = map[byte]int{
	'G': 5, 'u': 19, 'y': 19, 'D': 3, 'M': 5, 'L': 5, 'd': 2, 'Q': 5, 'q': 5,
	'E': 5, 'a': 1, 'h': 2, 'K': 2, 'k': 2, 'H': 2, 'm': 2, 's': 2, 'S': 9,
	'A': 19, 'n': 19, 'N': 19, 'V': 2, 'z': 4, 'O': 4, 'X': 5, 'x': 5, 'Z': 5,
}

// Compile parses a pattern. Unknown pattern letters, week-based (locale
// dependent) letters, reserved characters and malformed quoting are rejected.
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			p.elems = append(p.elems, element{lit: lit.String()})
			lit.Reset()
		}
	}

	optional := 0
	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch {
		case isLetter(c):
			j := i
			for j < len(pattern) && pattern[j] == c {
				j++
			}
			count := j - i
			max, ok := maxCount[c]
			if !ok {
				return nil, fmt.Errorf("%w: unknown pattern letter %q", ErrInvalidPattern, c)
			}
			if count > max || !validCount(c, count) {
				return nil, fmt.Errorf("%w: too many pattern letters %q", ErrInvalidPattern, c)
			}
			flush()
			p.elems = append(p.elems, element{letter: c, count: count})
			i = j
		case c == '\'':
			end := i + 1
			var quoted strings.Builder
			closed := false
			for end < len(pattern) {
				if pattern[end] == '\'' {
					if end+1 < len(pattern) && pattern[end+1] == '\'' {
						quoted.WriteByte('\'')
						end += 2
						continue
					}
					closed = true
					break
				}
				quoted.WriteByte(pattern[end])
				end++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidPattern)
			}
			if quoted.Len() == 0 {
				lit.WriteByte('\'')
			} else {
				lit.WriteString(quoted.String())
			}
			i = end + 1
		case c == '[':
			optional++
			i++
		case c == ']':
			if optional == 0 {
				return nil, fmt.Errorf("%w: unmatched ']'", ErrInvalidPattern)
			}
			optional--
			i++
		case c == '{' || c == '}' || c == '#':
			return nil, fmt.Errorf("%w: reserved character %q", ErrInvalidPattern, c)
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return p, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func validCount(c byte, count int) bool {
	switch c {
	case 'V':
		return count == 2
	case 'O':
		return count == 1 || count == 4
	}
	return true
}

// Format renders t (converted to UTC) with the pattern.
func (p *Pattern) Format(t time.Time) string {
	t = t.UTC()
	var b strings.Builder
	for _, e := range p.elems {
		if e.letter == 0 {
			b.WriteString(e.lit)
			continue
		}
		b.WriteString(formatField(e.letter, e.count, t))
	}
	return b.String()
}

func formatField(c byte, n int, t time.Time) string {
	switch c {
	case 'G':
		switch {
		case n == 4:
			return "Anno Domini"
		case n == 5:
			return "A"
		default:
			return "AD"
		}
	case 'u', 'y':
		if n == 2 {
			return pad(t.Year()%100, 2)
		}
		return pad(t.Year(), n)
	case 'D':
		return pad(t.YearDay(), n)
	case 'M', 'L':
		m := int(t.Month())
		return text(m, n, monthNames[m-1])
	case 'd':
		return pad(t.Day(), n)
	case 'Q', 'q':
		q := (int(t.Month())-1)/3 + 1
		switch n {
		case 3:
			return "Q" + strconv.Itoa(q)
		case 4:
			return quarters[q-1]
		case 5:
			return strconv.Itoa(q)
		}
		return pad(q, n)
	case 'E':
		name := dayNames[t.Weekday()]
		switch n {
		case 4:
			return name
		case 5:
			return name[:1]
		}
		return name[:3]
	case 'a':
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case 'h':
		h := t.Hour() % 12
		if h == 0 {
			h = 12
		}
		return pad(h, n)
	case 'K':
		return pad(t.Hour()%12, n)
	case 'k':
		h := t.Hour()
		if h == 0 {
			h = 24
		}
		return pad(h, n)
	case 'H':
		return pad(t.Hour(), n)
	case 'm':
		return pad(t.Minute(), n)
	case 's':
		return pad(t.Second(), n)
	case 'S':
		return fmt.Sprintf("%09d", t.Nanosecond())[:n]
	case 'A':
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return pad(int(t.Sub(midnight)/time.Millisecond), n)
	case 'n':
		return pad(t.Nanosecond(), n)
	case 'N':
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return pad(int(t.Sub(midnight)), n)
	case 'V', 'z':
		return "Z"
	case 'O':
		return "GMT"
	case 'X':
		return "Z"
	case 'x':
		switch n {
		case 1:
			return "+00"
		case 2, 4:
			return "+0000"
		}
		return "+00:00"
	case 'Z':
		switch n {
		case 4:
			return "GMT"
		case 5:
			return "Z"
		}
		return "+0000"
	}
	return ""
}

func text(v, n int, name string) string {
	switch n {
	case 3:
		return name[:3]
	case 4:
		return name
	case 5:
		return name[:1]
	}
	return pad(v, n)
}

func pad(v, width int) string {
	s := strconv.Itoa(v)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
