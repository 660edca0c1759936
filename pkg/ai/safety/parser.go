// Package safety inspects shell command lines before they reach the command
// gateway, using a real shell AST rather than string matching.
package safety

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Call is one simple command inside a shell script.
type Call struct {
	Program string
	Args    []string
}

// ParsedCommand represents a parsed shell command line
type ParsedCommand struct {
	Program     string            // First program of the line (e.g. "kubectl")
	Args        []string          // Arguments of the first program
	Calls       []Call            // Every simple command, in source order
	Verb        string            // kubectl/helm verb (get, delete, apply, ...)
	Namespace   string            // kubectl/helm namespace if specified
	Resource    string            // kubectl resource type
	IsPiped     bool              // Contains pipes
	IsChained   bool              // Chained with ;, && or ||
	HasRedirect bool              // Has file redirects
	HasSubshell bool              // Uses $(...) or backticks
	Flags       map[string]string // Flags of the first program
	RawCommand  string
	ParseError  error
}

// ParseCommand parses a shell command line
func ParseCommand(cmd string) *ParsedCommand {
	result := &ParsedCommand{
		RawCommand: cmd,
		Args:       make([]string, 0),
		Flags:      make(map[string]string),
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		result.ParseError = err
		result.parseSimple(cmd)
		return result
	}

	if len(file.Stmts) > 1 {
		result.IsChained = true
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			result.addCall(n)
		case *syntax.BinaryCmd:
			switch n.Op {
			case syntax.Pipe, syntax.PipeAll:
				result.IsPiped = true
			case syntax.AndStmt, syntax.OrStmt:
				result.IsChained = true
			}
		case *syntax.Redirect:
			result.HasRedirect = true
		case *syntax.CmdSubst:
			result.HasSubshell = true
		}
		return true
	})

	if result.Program == "kubectl" || result.Program == "helm" {
		result.parseKubectlArgs()
	}

	return result
}

// Programs returns the distinct program names invoked by the line.
func (p *ParsedCommand) Programs() []string {
	seen := make(map[string]bool, len(p.Calls))
	var out []string
	for _, c := range p.Calls {
		if c.Program == "" || seen[c.Program] {
			continue
		}
		seen[c.Program] = true
		out = append(out, c.Program)
	}
	return out
}

func (p *ParsedCommand) addCall(expr *syntax.CallExpr) {
	if len(expr.Args) == 0 {
		return
	}

	call := Call{Program: wordToString(expr.Args[0])}
	for i := 1; i < len(expr.Args); i++ {
		call.Args = append(call.Args, wordToString(expr.Args[i]))
	}
	p.Calls = append(p.Calls, call)

	if p.Program != "" {
		return
	}
	p.Program = call.Program
	p.Args = append(p.Args, call.Args...)
	for _, arg := range call.Args {
		if strings.HasPrefix(arg, "--") {
			parts := strings.SplitN(arg, "=", 2)
			if len(parts) == 2 {
				p.Flags[parts[0]] = parts[1]
			} else {
				p.Flags[arg] = ""
			}
		} else if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			p.Flags[arg] = ""
		}
	}
}

// parseKubectlArgs extracts verb, namespace and resource
func (p *ParsedCommand) parseKubectlArgs() {
	nonFlag := 0
	for i, arg := range p.Args {
		switch {
		case arg == "-n" || arg == "--namespace":
			if i+1 < len(p.Args) {
				p.Namespace = p.Args[i+1]
			}
		case strings.HasPrefix(arg, "-n="):
			p.Namespace = strings.TrimPrefix(arg, "-n=")
		case strings.HasPrefix(arg, "--namespace="):
			p.Namespace = strings.TrimPrefix(arg, "--namespace=")
		}

		if strings.HasPrefix(arg, "-") {
			continue
		}
		if i > 0 && (p.Args[i-1] == "-n" || p.Args[i-1] == "--namespace") {
			continue
		}
		nonFlag++
		switch nonFlag {
		case 1:
			p.Verb = arg
		case 2:
			p.Resource = arg
		}
	}
}

// parseSimple is the fallback for lines the shell parser rejects
func (p *ParsedCommand) parseSimple(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	p.Program = parts[0]
	if len(parts) > 1 {
		p.Args = parts[1:]
	}
	p.Calls = []Call{{Program: p.Program, Args: p.Args}}

	p.IsPiped = strings.Contains(cmd, "|")
	p.IsChained = strings.Contains(cmd, "&&") || strings.Contains(cmd, "||") || strings.Contains(cmd, ";")
	p.HasRedirect = strings.Contains(cmd, ">") || strings.Contains(cmd, "<")
	p.HasSubshell = strings.Contains(cmd, "$(") || strings.Contains(cmd, "`")

	if p.Program == "kubectl" {
		for _, arg := range p.Args {
			if !strings.HasPrefix(arg, "-") {
				p.Verb = arg
				break
			}
		}
	}
}

// wordToString converts a syntax.Word to a string
func wordToString(word *syntax.Word) string {
	var result strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			result.WriteString(p.Value)
		case *syntax.SglQuoted:
			result.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					result.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			result.WriteString("$")
			result.WriteString(p.Param.Value)
		case *syntax.CmdSubst:
			result.WriteString("$(...)")
		}
	}
	return result.String()
}

// HasFlag checks if the first program has a specific flag
func (p *ParsedCommand) HasFlag(flag string) bool {
	_, ok := p.Flags[flag]
	return ok
}
