package prompts

import (
	"errors"
	"strings"
	"testing"
)

func TestTaskPrompt(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		contains []string
		wantErr  error
	}{
		{
			name:     "execute",
			task:     Task{Kind: KindExecute, Instructions: "list pods"},
			contains: []string{"Here are the instructions: list pods"},
		},
		{
			name:     "empty kind is execute",
			task:     Task{Instructions: "scale nginx"},
			contains: []string{"scale nginx"},
		},
		{
			name:     "diagnose defaults namespace",
			task:     Task{Kind: KindDiagnose, Pod: "web-0"},
			contains: []string{"Pod web-0 in namespace default"},
		},
		{
			name:     "audit",
			task:     Task{Kind: KindAudit, Namespace: "prod", Pod: "api"},
			contains: []string{"security audit of Pod api in namespace prod", "CIS benchmarks"},
		},
		{
			name:     "analyze",
			task:     Task{Kind: KindAnalyze, Namespace: "prod", Resource: "deployment", Name: "api"},
			contains: []string{`"kubectl get -n prod deployment api -o yaml"`},
		},
		{
			name:     "analyze defaults to pod",
			task:     Task{Kind: KindAnalyze, Name: "api"},
			contains: []string{"kubectl get -n default pod api -o yaml"},
		},
		{
			name:     "generate passes instructions",
			task:     Task{Kind: KindGenerate, Instructions: "an nginx deployment"},
			contains: []string{"an nginx deployment"},
		},
		{name: "execute without instructions", task: Task{Kind: KindExecute}, wantErr: ErrMissingArgument},
		{name: "diagnose without pod", task: Task{Kind: KindDiagnose}, wantErr: ErrMissingArgument},
		{name: "analyze without name", task: Task{Kind: KindAnalyze}, wantErr: ErrMissingArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.task.Prompt()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Prompt() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Prompt() error = %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Prompt() missing %q in %q", s, got)
				}
			}
		})
	}
}

func TestTaskPromptUnknownKind(t *testing.T) {
	if _, err := (Task{Kind: "plan"}).Prompt(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestSystem(t *testing.T) {
	got := System("- kubectl: run kubectl. Input: a command.\n", []string{"kubectl", "trivy"})
	for _, s := range []string{
		"Kubernetes and cloud native networking",
		"- kubectl: run kubectl. Input: a command.",
		`Valid "action" values: kubectl, trivy`,
		"Final Answer:",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("System() missing %q", s)
		}
	}
	if strings.Contains(got, "%!") {
		t.Error("System() has a formatting error")
	}
}
