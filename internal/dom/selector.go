package dom

import (
	"fmt"
	"strings"
)

// The fake tree supports the selector subset the engine actually uses:
// comma-separated compound selectors made of a tag name, #id, .class and
// [attr], [attr=v], [attr^=v], [attr*=v] parts. Combinators are not
// supported; scoped lookups go through Node.Query instead.

type attrMatch struct {
	name  string
	op    byte // 0 = presence, '=' exact, '^' prefix, '*' substring
	value string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type selector struct {
	alternatives []compound
}

func (s selector) matches(n *FakeNode) bool {
	for _, c := range s.alternatives {
		if c.matches(n) {
			return true
		}
	}
	return false
}

func (c compound) matches(n *FakeNode) bool {
	if c.tag != "" && c.tag != n.Tag {
		return false
	}
	if c.id != "" && n.Attrs["id"] != c.id {
		return false
	}
	for _, cls := range c.classes {
		if !hasClass(n.Attrs["class"], cls) {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok {
			return false
		}
		switch a.op {
		case 0:
		case '=':
			if v != a.value {
				return false
			}
		case '^':
			if !strings.HasPrefix(v, a.value) {
				return false
			}
		case '*':
			if !strings.Contains(v, a.value) {
				return false
			}
		}
	}
	return true
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}

func parseSelector(raw string) (selector, error) {
	var sel selector
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseCompound(part)
		if err != nil {
			return selector{}, err
		}
		sel.alternatives = append(sel.alternatives, c)
	}
	if len(sel.alternatives) == 0 {
		return selector{}, fmt.Errorf("dom: empty selector %q", raw)
	}
	return sel, nil
}

func parseCompound(part string) (compound, error) {
	var c compound
	i := 0
	for i < len(part) {
		switch part[i] {
		case '#':
			j := nextBoundary(part, i+1)
			c.id = part[i+1 : j]
			i = j
		case '.':
			j := nextBoundary(part, i+1)
			c.classes = append(c.classes, part[i+1:j])
			i = j
		case '[':
			j := strings.IndexByte(part[i:], ']')
			if j < 0 {
				return compound{}, fmt.Errorf("dom: unterminated attribute in selector %q", part)
			}
			c.attrs = append(c.attrs, parseAttrMatch(part[i+1:i+j]))
			i += j + 1
		case ' ', '>', '+', '~':
			return compound{}, fmt.Errorf("dom: combinators not supported in fake selector %q", part)
		default:
			j := nextBoundary(part, i)
			c.tag = strings.ToLower(part[i:j])
			i = j
		}
	}
	return c, nil
}

func nextBoundary(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '#', '.', '[', ' ', '>', '+', '~':
			return i
		}
	}
	return len(s)
}

func parseAttrMatch(body string) attrMatch {
	for _, op := range []string{"^=", "*=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			val := strings.Trim(body[idx+len(op):], `"'`)
			m := attrMatch{name: body[:idx], value: val}
			if op == "=" {
				m.op = '='
			} else {
				m.op = op[0]
			}
			return m
		}
	}
	return attrMatch{name: body}
}
