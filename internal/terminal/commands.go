package terminal

import (
	"fmt"
	"strings"
)

// ClearScreen is the ANSI sequence emitted by clear.
const ClearScreen = "\x1b[2J\x1b[H"

const dateLayout = "Mon Jan _2 15:04:05 MST 2006"

func builtins() []Command {
	return []Command{
		helpCmd{},
		lsCmd{},
		cdCmd{},
		pwdCmd{},
		catCmd{},
		echoCmd{},
		mkdirCmd{},
		touchCmd{},
		whoamiCmd{},
		dateCmd{},
		clearCmd{},
	}
}

type helpCmd struct{}

func (helpCmd) Name() string        { return "help" }
func (helpCmd) Description() string { return "show available commands" }

func (helpCmd) Execute(_ []string, s *Session) string {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, cmd := range s.interp.visibleCommands() {
		fmt.Fprintf(&b, "\n  %-7s %s", cmd.Name(), cmd.Description())
	}
	return b.String()
}

type lsCmd struct{}

func (lsCmd) Name() string        { return "ls" }
func (lsCmd) Description() string { return "list directory contents" }

func (lsCmd) Execute(args []string, s *Session) string {
	token := firstOperand(args)
	path, ok := s.interp.resolve(token, s.cwd)
	if token == "" {
		token = "."
	}
	if !ok {
		return fmt.Sprintf("ls: cannot access '%s': Permission denied", token)
	}
	node, err := s.interp.fs.Get(path)
	if err != nil {
		return fmt.Sprintf("ls: cannot access '%s': No such file or directory", token)
	}
	if !node.IsDir {
		return node.Name
	}
	return strings.Join(node.List(), "  ")
}

type cdCmd struct{}

func (cdCmd) Name() string        { return "cd" }
func (cdCmd) Description() string { return "change the working directory" }

func (cdCmd) Execute(args []string, s *Session) string {
	token := firstOperand(args)
	path, ok := s.interp.resolve(token, s.cwd)
	if !ok {
		return fmt.Sprintf("cd: %s: Permission denied", token)
	}
	node, err := s.interp.fs.Get(path)
	if err != nil {
		return fmt.Sprintf("cd: %s: No such file or directory", token)
	}
	if !node.IsDir {
		return fmt.Sprintf("cd: %s: Not a directory", token)
	}
	s.cwd = path
	return ""
}

type pwdCmd struct{}

func (pwdCmd) Name() string        { return "pwd" }
func (pwdCmd) Description() string { return "print the working directory" }

func (pwdCmd) Execute(_ []string, s *Session) string {
	return s.cwd
}

type catCmd struct{}

func (catCmd) Name() string        { return "cat" }
func (catCmd) Description() string { return "print file contents" }

func (catCmd) Execute(args []string, s *Session) string {
	if len(args) == 0 {
		return "cat: missing file operand"
	}
	out := make([]string, 0, len(args))
	for _, token := range args {
		path, ok := s.interp.resolve(token, s.cwd)
		if !ok {
			out = append(out, fmt.Sprintf("cat: %s: Permission denied", token))
			continue
		}
		node, err := s.interp.fs.Get(path)
		switch {
		case err != nil:
			out = append(out, fmt.Sprintf("cat: %s: No such file or directory", token))
		case node.IsDir:
			out = append(out, fmt.Sprintf("cat: %s: Is a directory", token))
		default:
			out = append(out, strings.TrimRight(node.Content, "\n"))
		}
	}
	return strings.Join(out, "\n")
}

type echoCmd struct{}

func (echoCmd) Name() string        { return "echo" }
func (echoCmd) Description() string { return "print arguments" }

func (echoCmd) Execute(args []string, _ *Session) string {
	return strings.Join(args, " ")
}

// mkdir and touch acknowledge the request without changing the filesystem.
type mkdirCmd struct{}

func (mkdirCmd) Name() string        { return "mkdir" }
func (mkdirCmd) Description() string { return "create a directory" }

func (mkdirCmd) Execute(args []string, s *Session) string {
	return acknowledge("mkdir", "cannot create directory", "created directory", args, s)
}

type touchCmd struct{}

func (touchCmd) Name() string        { return "touch" }
func (touchCmd) Description() string { return "create an empty file" }

func (touchCmd) Execute(args []string, s *Session) string {
	return acknowledge("touch", "cannot touch", "created file", args, s)
}

func acknowledge(name, failVerb, okVerb string, args []string, s *Session) string {
	if len(args) == 0 {
		return name + ": missing operand"
	}
	out := make([]string, 0, len(args))
	for _, token := range args {
		if _, ok := s.interp.resolve(token, s.cwd); !ok {
			out = append(out, fmt.Sprintf("%s: %s '%s': Permission denied", name, failVerb, token))
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s '%s'", name, okVerb, token))
	}
	return strings.Join(out, "\n")
}

type whoamiCmd struct{}

func (whoamiCmd) Name() string        { return "whoami" }
func (whoamiCmd) Description() string { return "print the current user" }

func (whoamiCmd) Execute(_ []string, s *Session) string {
	return s.User()
}

type dateCmd struct{}

func (dateCmd) Name() string        { return "date" }
func (dateCmd) Description() string { return "print the current date and time" }

func (dateCmd) Execute(_ []string, s *Session) string {
	return s.interp.now().Format(dateLayout)
}

type clearCmd struct{}

func (clearCmd) Name() string        { return "clear" }
func (clearCmd) Description() string { return "clear the screen" }

func (clearCmd) Execute(_ []string, _ *Session) string {
	return ClearScreen
}

// firstOperand returns the first argument that is not a flag.
func firstOperand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}
