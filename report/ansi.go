package report

import (
	"fmt"
	"html"
	"html/template"
	"strconv"
	"strings"
)

// EscapeForHTML escapes content for a data attribute. ANSI control
// characters are kept as they are; newlines become literal \n and \r.
func EscapeForHTML(content string) string {
	content = strings.ReplaceAll(content, "&", "&amp;") // first
	content = strings.ReplaceAll(content, `"`, "&#34;")
	content = strings.ReplaceAll(content, "'", "&#39;")
	content = strings.ReplaceAll(content, "<", "&lt;")
	content = strings.ReplaceAll(content, ">", "&gt;")
	content = strings.ReplaceAll(content, "\n", `\n`)
	content = strings.ReplaceAll(content, "\r", `\r`)
	return content
}

// sgr is the text style selected by SGR escape sequences.
type sgr struct {
	bold, italic, underline bool
	fg, bg                  string
}

func (s sgr) zero() bool { return s == sgr{} }

func (s sgr) css() string {
	var parts []string
	if s.fg != "" {
		parts = append(parts, "color: "+s.fg)
	}
	if s.bg != "" {
		parts = append(parts, "background: "+s.bg)
	}
	if s.bold {
		parts = append(parts, "font-weight: bold")
	}
	if s.italic {
		parts = append(parts, "font-style: italic")
	}
	if s.underline {
		parts = append(parts, "text-decoration: underline")
	}
	return strings.Join(parts, "; ")
}

// ANSIToHTML renders terminal output as HTML. Colour and weight sequences
// become styled spans; cursor movement and other sequences are dropped.
func ANSIToHTML(text string) template.HTML {
	var (
		out   strings.Builder
		style sgr
		open  bool
	)
	closeSpan := func() {
		if open {
			out.WriteString("</span>")
			open = false
		}
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\r':
			i++
		case c == '\n':
			closeSpan()
			out.WriteString("<br>")
			if !style.zero() {
				fmt.Fprintf(&out, `<span style="%s">`, style.css())
				open = true
			}
			i++
		case c == '\x1b' && i+1 < len(text) && text[i+1] == '[':
			j := i + 2
			for j < len(text) && !isFinal(text[j]) {
				j++
			}
			if j >= len(text) {
				i = len(text)
				break
			}
			if text[j] == 'm' {
				style = style.apply(text[i+2 : j])
				closeSpan()
				if !style.zero() {
					fmt.Fprintf(&out, `<span style="%s">`, style.css())
					open = true
				}
			}
			i = j + 1
		case c == '\x1b':
			i++
		default:
			j := i
			for j < len(text) && text[j] != '\x1b' && text[j] != '\n' && text[j] != '\r' {
				j++
			}
			out.WriteString(html.EscapeString(text[i:j]))
			i = j
		}
	}
	closeSpan()
	return template.HTML(out.String())
}

func isFinal(b byte) bool { return b >= 0x40 && b <= 0x7e }

func (s sgr) apply(params string) sgr {
	if params == "" {
		return sgr{}
	}
	codes := strings.Split(params, ";")
	for k := 0; k < len(codes); k++ {
		n, err := strconv.Atoi(codes[k])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			s = sgr{}
		case n == 1:
			s.bold = true
		case n == 3:
			s.italic = true
		case n == 4:
			s.underline = true
		case n == 22:
			s.bold = false
		case n == 23:
			s.italic = false
		case n == 24:
			s.underline = false
		case n >= 30 && n <= 37:
			s.fg = basic[n-30]
		case n >= 90 && n <= 97:
			s.fg = bright[n-90]
		case n == 39:
			s.fg = ""
		case n >= 40 && n <= 47:
			s.bg = basic[n-40]
		case n >= 100 && n <= 107:
			s.bg = bright[n-100]
		case n == 49:
			s.bg = ""
		case n == 38 || n == 48:
			col, used := extended(codes[k+1:])
			k += used
			if n == 38 {
				s.fg = col
			} else {
				s.bg = col
			}
		}
	}
	return s
}

var (
	basic  = [8]string{"#000000", "#cd3131", "#0dbc79", "#e5e510", "#2472c8", "#bc3fbc", "#11a8cd", "#e5e5e5"}
	bright = [8]string{"#666666", "#f14c4c", "#23d18b", "#f5f543", "#3b8eea", "#d670d6", "#29b8db", "#ffffff"}
)

// extended parses the tail of a 38/48 sequence: "5;n" or "2;r;g;b".
// It returns the colour and how many parameters it consumed.
func extended(rest []string) (string, int) {
	if len(rest) == 0 {
		return "", 0
	}
	switch rest[0] {
	case "5":
		if len(rest) < 2 {
			return "", len(rest)
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 || n > 255 {
			return "", 2
		}
		return xterm256(n), 2
	case "2":
		if len(rest) < 4 {
			return "", len(rest)
		}
		var rgb [3]int
		for i := range rgb {
			rgb[i], _ = strconv.Atoi(rest[i+1])
		}
		return fmt.Sprintf("#%02x%02x%02x", rgb[0]&0xff, rgb[1]&0xff, rgb[2]&0xff), 4
	}
	return "", 1
}

func xterm256(n int) string {
	switch {
	case n < 8:
		return basic[n]
	case n < 16:
		return bright[n-8]
	case n < 232:
		n -= 16
		level := func(v int) int {
			if v == 0 {
				return 0
			}
			return 55 + v*40
		}
		return fmt.Sprintf("#%02x%02x%02x", level(n/36), level(n/6%6), level(n%6))
	default:
		g := 8 + (n-232)*10
		return fmt.Sprintf("#%02x%02x%02x", g, g, g)
	}
}
