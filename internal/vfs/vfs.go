// Package vfs provides the in-memory filesystem shown by the lab terminal.
package vfs

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a path is not part of the simulated tree.
var ErrNotFound = errors.New("no such file or directory")

// Node is either a directory (Children set) or a file (Content set).
type Node struct {
	Name     string
	IsDir    bool
	Content  string
	Children map[string]*Node
}

// List returns child names sorted, directories suffixed with "/".
// Returns nil for files.
func (n *Node) List() []string {
	if !n.IsDir {
		return nil
	}
	names := make([]string, 0, len(n.Children))
	for name, child := range n.Children {
		if child.IsDir {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FS is a read-only tree rooted at the sandbox root.
type FS struct {
	root string
	tree *Node
}

// New creates a filesystem seeded with the lab starter content under root.
func New(root string) *FS {
	root = cleanRoot(root)
	return &FS{
		root: root,
		tree: seed(root),
	}
}

// Root returns the absolute path of the tree root.
func (f *FS) Root() string {
	return f.root
}

// Get looks up an absolute path. Trailing slashes are ignored.
func (f *FS) Get(path string) (*Node, error) {
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	if path == f.root {
		return f.tree, nil
	}

	prefix := f.root + "/"
	if f.root == "/" {
		prefix = "/"
	}
	if !strings.HasPrefix(path, prefix) {
		return nil, ErrNotFound
	}

	node := f.tree
	for _, part := range strings.Split(strings.TrimPrefix(path, prefix), "/") {
		if part == "" || !node.IsDir {
			return nil, ErrNotFound
		}
		child, ok := node.Children[part]
		if !ok {
			return nil, ErrNotFound
		}
		node = child
	}
	return node, nil
}

func cleanRoot(root string) string {
	if root == "" {
		return "/"
	}
	if root != "/" {
		root = strings.TrimRight(root, "/")
	}
	return root
}

func dir(name string, children ...*Node) *Node {
	n := &Node{Name: name, IsDir: true, Children: make(map[string]*Node, len(children))}
	for _, c := range children {
		n.Children[c.Name] = c
	}
	return n
}

func file(name, content string) *Node {
	return &Node{Name: name, Content: content}
}

func seed(root string) *Node {
	name := root
	if i := strings.LastIndex(root, "/"); i >= 0 && root != "/" {
		name = root[i+1:]
	}
	return dir(name,
		file("README.md", readme),
		dir("examples",
			file("hello.py", helloPy),
			file("hello.js", helloJS),
			file("fibonacci.py", fibonacciPy),
		),
	)
}

const readme = `# Welcome to the lab

This terminal is a practice sandbox. Try:
  ls             list files
  cd examples    enter the examples folder
  cat hello.py   show a file
  help           list every command

Write your solution in the editor panel and press Run.
`

const helloPy = `# Print a greeting
def greet(name):
    return "Hello, " + name + "!"

print(greet("student"))
`

const helloJS = `// Print a greeting
function greet(name) {
  return "Hello, " + name + "!";
}

console.log(greet("student"));
`

const fibonacciPy = `def fibonacci(n):
    a, b = 0, 1
    for _ in range(n):
        a, b = b, a + b
    return a

for i in range(10):
    print(fibonacci(i))
`
