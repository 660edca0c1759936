package safety

// CommandType classification
type CommandType string

const (
	TypeReadOnly    CommandType = "read"
	TypeWrite       CommandType = "write"
	TypeDangerous   CommandType = "dangerous"
	TypeInteractive CommandType = "interactive"
	TypeUnknown     CommandType = "unknown"
)

// Report is the classification of one command line
type Report struct {
	Command       string
	Type          CommandType
	IsDangerous   bool
	IsInteractive bool
	Warnings      []string
	Parsed        *ParsedCommand
}

// Analyzer classifies kubectl, helm, trivy and docker command lines
type Analyzer struct {
	readOnlyVerbs    map[string]map[string]bool
	writeVerbs       map[string]map[string]bool
	interactiveVerbs map[string]bool
	interactiveFlags map[string][]string
	dangerousFlags   []string
	dangerousVerbs   map[string]bool
}

// NewAnalyzer creates a new safety analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		readOnlyVerbs: map[string]map[string]bool{
			"kubectl": set("get", "describe", "logs", "explain", "top", "version",
				"api-resources", "api-versions", "cluster-info", "diff", "auth", "events"),
			"helm":   set("list", "status", "get", "show", "search", "history", "template", "version"),
			"trivy":  set("image", "k8s", "fs", "config", "version"),
			"docker": set("ps", "images", "inspect", "logs", "version", "info", "history"),
		},
		writeVerbs: map[string]map[string]bool{
			"kubectl": set("create", "apply", "delete", "patch", "scale", "label", "annotate",
				"set", "rollout", "replace", "expose", "run", "cp", "uncordon"),
			"helm":   set("install", "upgrade", "uninstall", "delete", "rollback"),
			"docker": set("run", "rm", "rmi", "stop", "kill", "pull", "push", "build"),
		},
		interactiveVerbs: set("edit", "attach", "port-forward", "proxy"),
		interactiveFlags: map[string][]string{
			"exec": {"-it", "-ti", "-i", "--stdin", "-t", "--tty"},
			"run":  {"-it", "-ti", "-i", "--stdin", "-t", "--tty"},
			"logs": {"-f", "--follow"},
			"get":  {"-w", "--watch", "--watch-only"},
		},
		dangerousFlags: []string{"--all", "--all-namespaces", "-A", "--force", "--grace-period=0", "--cascade=orphan"},
		dangerousVerbs: set("drain", "cordon", "taint"),
	}
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

// Analyze classifies cmd
func (a *Analyzer) Analyze(cmd string) *Report {
	parsed := ParseCommand(cmd)
	report := &Report{Command: cmd, Type: TypeUnknown, Parsed: parsed}

	if parsed.ParseError != nil {
		report.Warnings = append(report.Warnings, "Command parsing failed, treating as unknown")
	}
	if parsed.IsPiped {
		report.Warnings = append(report.Warnings, "Piped command detected")
	}
	if parsed.IsChained {
		report.Warnings = append(report.Warnings, "Chained command detected")
	}
	if parsed.HasRedirect {
		report.Warnings = append(report.Warnings, "File redirect detected")
	}

	verb := parsed.Verb
	if verb == "" && len(parsed.Args) > 0 {
		verb = parsed.Args[0]
	}
	switch {
	case a.readOnlyVerbs[parsed.Program][verb]:
		report.Type = TypeReadOnly
	case a.writeVerbs[parsed.Program][verb]:
		report.Type = TypeWrite
	}

	if parsed.Program == "kubectl" {
		a.checkInteractive(report, parsed)
	}
	if !report.IsInteractive {
		a.checkDangerous(report, parsed)
	}
	return report
}

func (a *Analyzer) checkInteractive(report *Report, parsed *ParsedCommand) {
	if a.interactiveVerbs[parsed.Verb] {
		report.Type = TypeInteractive
		report.IsInteractive = true
		report.Warnings = append(report.Warnings, "Interactive command: "+parsed.Verb)
		return
	}
	for _, flag := range a.interactiveFlags[parsed.Verb] {
		if parsed.HasFlag(flag) {
			report.Type = TypeInteractive
			report.IsInteractive = true
			report.Warnings = append(report.Warnings, "Interactive flag: "+flag)
			return
		}
	}
}

func (a *Analyzer) checkDangerous(report *Report, parsed *ParsedCommand) {
	if a.dangerousVerbs[parsed.Verb] {
		report.Type = TypeDangerous
		report.IsDangerous = true
		report.Warnings = append(report.Warnings, "Dangerous operation: "+parsed.Verb)
	}
	if report.Type != TypeWrite && report.Type != TypeDangerous {
		return
	}
	for _, flag := range a.dangerousFlags {
		if parsed.HasFlag(flag) {
			report.Type = TypeDangerous
			report.IsDangerous = true
			report.Warnings = append(report.Warnings, "Dangerous flag: "+flag)
		}
	}
	if parsed.Verb == "delete" && (parsed.Resource == "namespace" || parsed.Resource == "ns") {
		report.Type = TypeDangerous
		report.IsDangerous = true
		report.Warnings = append(report.Warnings, "Deleting namespace removes all resources in it")
	}
}

// Default is the shared analyzer instance
var Default = NewAnalyzer()

// Analyze classifies cmd with the default analyzer
func Analyze(cmd string) *Report {
	return Default.Analyze(cmd)
}
