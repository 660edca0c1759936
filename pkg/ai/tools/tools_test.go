package tools

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
	"google.golang.org/api/option"
)

type wordEncoder struct{}

func (wordEncoder) Count(text string) int { return len(strings.Fields(text)) }

func fakeBin(t *testing.T, name, body string) {
	t.Helper()
	dir := t.TempDir()
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newGateway(t *testing.T, command string, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()
	opts = append([]gateway.Option{gateway.WithEncoder(wordEncoder{})}, opts...)
	gw, err := gateway.New(command, opts...)
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	return gw
}

type stubTool struct{ name string }

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "does " + s.name + "." }
func (s stubTool) InputSchema() string { return "anything." }
func (s stubTool) Call(ctx context.Context, input string) (string, error) {
	return s.name + ":" + input, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{"zeta"})
	r.Register(stubTool{"alpha"})

	if got := strings.Join(r.Names(), ","); got != "alpha,zeta" {
		t.Errorf("Names() = %q, want alpha,zeta", got)
	}
	if _, ok := r.Get("alpha"); !ok {
		t.Error("Get(alpha) not found")
	}

	want := "- alpha: does alpha. Input: anything.\n- zeta: does zeta. Input: anything.\n"
	if got := r.Prompt(); got != want {
		t.Errorf("Prompt() = %q, want %q", got, want)
	}
}

func TestShellTool(t *testing.T) {
	fakeBin(t, "kubectl", `echo "kubectl $*"`)
	tool := NewShellTool(newGateway(t, "kubectl", gateway.WithStripNewlines(true)))

	if tool.Name() != "kubectl" {
		t.Errorf("Name() = %q, want kubectl", tool.Name())
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "prefix added", input: "get pods", want: "kubectl get pods"},
		{name: "prefix kept", input: "kubectl get ns", want: "kubectl get ns"},
		{name: "interactive exec", input: "kubectl exec -it web -- sh", wantErr: true},
		{name: "follow logs", input: "logs -f web", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tool.Call(context.Background(), tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Call() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Call() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShellToolNotPermitted(t *testing.T) {
	tool := NewShellTool(newGateway(t, "kubectl", gateway.WithStrict(true)))
	got, err := tool.Call(context.Background(), "get pods; curl example.com")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if want := NotPermitted("kubectl get pods; curl example.com"); got != want {
		t.Errorf("Call() = %q, want %q", got, want)
	}
}

func TestShellToolFailureIsObservation(t *testing.T) {
	fakeBin(t, "kubectl", "echo boom; exit 3")
	tool := NewShellTool(newGateway(t, "kubectl"))
	got, err := tool.Call(context.Background(), "get pods")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(got, "non-zero exit status 3") {
		t.Errorf("Call() = %q, want exit status text", got)
	}
}

const trivyJSON = `{"ArtifactName":"nginx:1.25","Results":[{"Target":"debian","Vulnerabilities":[
{"VulnerabilityID":"CVE-2024-0002","Severity":"HIGH","PkgName":"openssl","InstalledVersion":"3.0.1","FixedVersion":"3.0.2","Title":"overflow"},
{"VulnerabilityID":"CVE-2024-0001","Severity":"CRITICAL","PkgName":"zlib","InstalledVersion":"1.2","Title":"bad"}]}]}`

func TestTrivyTool(t *testing.T) {
	fakeBin(t, "trivy", "cat <<'EOF'\n"+trivyJSON+"\nEOF")
	gw := newGateway(t, "trivy", gateway.WithMaxTokens(0))
	tool := NewTrivyTool(gw, tokens.Budget{Encoder: wordEncoder{}, Max: 1000})

	got, err := tool.Call(context.Background(), "image nginx:1.25")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	for _, want := range []string{
		"Image: nginx:1.25",
		"Total: 2 (CRITICAL: 1, HIGH: 1)",
		"- CVE-2024-0001 [CRITICAL] zlib 1.2 (fixed in no fix): bad",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Call() = %q, missing %q", got, want)
		}
	}
	if strings.Index(got, "CVE-2024-0001") > strings.Index(got, "CVE-2024-0002") {
		t.Error("critical vulnerability not listed first")
	}
}

func TestTrivyToolRawOutputOnParseFailure(t *testing.T) {
	fakeBin(t, "trivy", "echo not json")
	tool := NewTrivyTool(newGateway(t, "trivy"), tokens.Budget{Encoder: wordEncoder{}, Max: 100})
	got, err := tool.Call(context.Background(), "alpine")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if strings.TrimSpace(got) != "not json" {
		t.Errorf("Call() = %q, want raw output", got)
	}
}

func TestImageFromInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "nginx", want: "nginx"},
		{in: "image nginx:1.25", want: "nginx:1.25"},
		{in: "trivy image registry.local:5000/app:v1 --severity HIGH", want: "registry.local:5000/app:v1"},
		{in: "  ", wantErr: true},
		{in: "nginx;rm", wantErr: true},
	}
	for _, tt := range tests {
		got, err := imageFromInput(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("imageFromInput(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("imageFromInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPythonTool(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	tool := &PythonTool{Budget: tokens.Budget{Encoder: wordEncoder{}, Max: 100}}

	got, err := tool.Call(context.Background(), "print(6 * 7)\n")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "42" {
		t.Errorf("Call() = %q, want 42", got)
	}

	got, _ = tool.Call(context.Background(), "raise SystemExit(2)")
	if !strings.Contains(got, "exit status 2") {
		t.Errorf("Call() = %q, want exit status", got)
	}
}

func TestPythonToolDenied(t *testing.T) {
	ran := false
	tool := &PythonTool{
		Binary: "/nonexistent/python",
		Approve: func(ctx context.Context, tool, input string) bool {
			ran = true
			return false
		},
	}
	got, err := tool.Call(context.Background(), "print(1)")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !ran || !strings.Contains(got, "did not approve") {
		t.Errorf("Call() = %q, approve called %v", got, ran)
	}
}

func TestSearchTool(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"title":"Pod stuck","snippet":"Check events."},{"title":"Docs","snippet":"See kubectl describe."}]}`))
	}))
	defer srv.Close()

	tool := NewSearchTool("key", "cx", tokens.Budget{Encoder: wordEncoder{}, Max: 100},
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))

	got, err := tool.Call(context.Background(), "pod pending")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if query != "pod pending" {
		t.Errorf("query = %q, want %q", query, "pod pending")
	}
	want := "Pod stuck: Check events.\nDocs: See kubectl describe.\n"
	if got != want {
		t.Errorf("Call() = %q, want %q", got, want)
	}

	if _, err := tool.Call(context.Background(), " "); err == nil {
		t.Error("empty query should fail")
	}
}

func TestHumanTool(t *testing.T) {
	var out strings.Builder
	tool := NewHumanTool(strings.NewReader("production\n"), &out)

	got, err := tool.Call(context.Background(), "Which namespace?")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "production" {
		t.Errorf("Call() = %q, want production", got)
	}
	if !strings.Contains(out.String(), "Which namespace?") {
		t.Errorf("question not written, got %q", out.String())
	}

	if _, err := tool.Call(context.Background(), "again?"); err == nil {
		t.Error("Call() at EOF should fail")
	}
}

func TestHumanToolCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out strings.Builder
	tool := NewHumanTool(pr, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := tool.Call(ctx, "Which namespace?")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Call() error = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call() still blocked after its context ended")
	}

	// The read left open by the cancelled call answers the next question.
	go func() { _, _ = io.WriteString(pw, "kube-system\n") }()
	got, err := tool.Call(context.Background(), "Which namespace?")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "kube-system" {
		t.Errorf("Call() = %q, want kube-system", got)
	}
}
