package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
)

const deployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: nginx
  namespace: web
spec:
  replicas: 2
`

const service = `apiVersion: v1
kind: Service
metadata:
  name: nginx
spec:
  ports:
  - port: 80
`

func TestExtractYAML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "yaml fence", in: "Here:\n```yaml\nkind: Pod\n```\nDone", want: "kind: Pod"},
		{name: "yaml fence preferred", in: "```sh\nkubectl apply\n```\n```yaml\nkind: Pod\n```", want: "kind: Pod"},
		{name: "yml fence", in: "```yml\nkind: Pod\n```", want: "kind: Pod"},
		{name: "plain fence", in: "```\nkind: Pod\n```", want: "kind: Pod"},
		{name: "other tag dropped", in: "```text\nkind: Pod\n```", want: "kind: Pod"},
		{name: "unterminated", in: "```yaml\nkind: Pod\n", want: "kind: Pod"},
		{name: "no fence", in: "\nkind: Pod\n", want: "kind: Pod"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractYAML(tt.in); got != tt.want {
				t.Errorf("ExtractYAML() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	objs, err := Parse(deployment + "---\n" + service + "---\n")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("got %d objects, want 2", len(objs))
	}
	if objs[0].GetKind() != "Deployment" || objs[0].GetNamespace() != "web" {
		t.Errorf("first object = %v", objs[0].Object)
	}

	want := "- Deployment/nginx (namespace web)\n- Service/nginx\n"
	if got := Summary(objs); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestParseJSON(t *testing.T) {
	objs, err := Parse(`{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"cfg"}}`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if objs[0].GetName() != "cfg" {
		t.Errorf("name = %q", objs[0].GetName())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: "---\n"},
		{name: "missing kind", in: "apiVersion: v1\nmetadata:\n  name: x\n"},
		{name: "missing name", in: "apiVersion: v1\nkind: Pod\nmetadata: {}\n"},
		{name: "invalid yaml", in: "kind: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
	if _, err := Parse(""); !errors.Is(err, ErrNoObjects) {
		t.Errorf("Parse(\"\") error = %v, want ErrNoObjects", err)
	}
}

func TestRender(t *testing.T) {
	objs, err := Parse(deployment + "---\n" + service)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Render(objs)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Count(string(out), "---\n") != 1 {
		t.Errorf("Render() = %q, want two documents", out)
	}
	again, err := Parse(string(out))
	if err != nil || len(again) != 2 {
		t.Fatalf("Parse(Render()) = %d objects, %v", len(again), err)
	}
}

func fakeKubectl(t *testing.T, body string) *gateway.Gateway {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "kubectl"), []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	gw, err := gateway.New("kubectl", gateway.WithEncoder(wordEncoder{}))
	if err != nil {
		t.Fatal(err)
	}
	return gw
}

type wordEncoder struct{}

func (wordEncoder) Count(text string) int { return len(strings.Fields(text)) }

func TestApply(t *testing.T) {
	gw := fakeKubectl(t, `echo "$1 $2"; cat "$3"`)
	objs, err := Parse(service)
	if err != nil {
		t.Fatal(err)
	}

	res, err := Apply(context.Background(), gw, objs)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !strings.HasPrefix(res.Output, "apply -f") || !strings.Contains(res.Output, "kind: Service") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestApplyFailure(t *testing.T) {
	gw := fakeKubectl(t, `echo "forbidden"; exit 1`)
	objs, _ := Parse(service)

	res, err := Apply(context.Background(), gw, objs)
	if err == nil {
		t.Fatal("Apply() expected error")
	}
	if res == nil || res.ExitCode != 1 {
		t.Errorf("result = %+v", res)
	}
}
