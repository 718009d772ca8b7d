package sandbox

import "strings"

// Resolve turns a path token into an absolute path.
//
// "." and "" stay in cwd, ".." never climbs above root, "~" is root, absolute
// tokens are used verbatim and anything else is appended to cwd. Segments
// inside multi-part relative tokens are not collapsed.
func Resolve(token, cwd, root string) string {
	switch {
	case token == "" || token == "." || token == cwd:
		return cwd
	case token == "..":
		if cwd == root {
			return root
		}
		i := strings.LastIndex(cwd, "/")
		if i <= 0 {
			return "/"
		}
		return cwd[:i]
	case token == "~":
		return root
	case strings.HasPrefix(token, "/"):
		return token
	default:
		return strings.TrimRight(cwd, "/") + "/" + token
	}
}
