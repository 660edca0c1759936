// Package manifest extracts, validates and applies generated Kubernetes
// manifests.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
)

// ErrNoObjects is returned when a manifest holds no Kubernetes objects.
var ErrNoObjects = errors.New("no Kubernetes objects found")

const fence = "```"

// ExtractYAML returns the manifests in a model reply. A yaml-tagged fence
// wins over an untagged one; text without fences is returned trimmed.
func ExtractYAML(text string) string {
	for _, tag := range []string{"yaml", "yml"} {
		if body, ok := fenced(text, fence+tag+"\n"); ok {
			return body
		}
	}
	if body, ok := fenced(text, fence); ok {
		// Drop a language tag line such as "```json".
		if first, rest, found := strings.Cut(body, "\n"); found && !strings.ContainsAny(first, ": ") {
			body = rest
		}
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}

func fenced(text, open string) (string, bool) {
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	body := text[start+len(open):]
	end := strings.Index(body, fence)
	if end < 0 {
		return strings.TrimSpace(body), true
	}
	return strings.TrimSpace(body[:end]), true
}

// Parse decodes a multi-document YAML or JSON manifest. Every object must
// carry apiVersion, kind and metadata.name.
func Parse(manifests string) ([]*unstructured.Unstructured, error) {
	decoder := utilyaml.NewYAMLOrJSONDecoder(strings.NewReader(manifests), 4096)

	var objs []*unstructured.Unstructured
	for i := 1; ; i++ {
		var raw runtime.RawExtension
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		raw.Raw = bytes.TrimSpace(raw.Raw)
		if len(raw.Raw) == 0 || string(raw.Raw) == "null" {
			continue
		}

		obj := &unstructured.Unstructured{}
		if err := obj.UnmarshalJSON(raw.Raw); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if obj.GetName() == "" && obj.GetGenerateName() == "" {
			return nil, fmt.Errorf("document %d: %s has no metadata.name", i, obj.GetKind())
		}
		objs = append(objs, obj)
	}

	if len(objs) == 0 {
		return nil, ErrNoObjects
	}
	return objs, nil
}

// Summary lists the objects as Kind/name lines.
func Summary(objs []*unstructured.Unstructured) string {
	var sb strings.Builder
	for _, obj := range objs {
		name := obj.GetName()
		if name == "" {
			name = obj.GetGenerateName() + "*"
		}
		fmt.Fprintf(&sb, "- %s/%s", obj.GetKind(), name)
		if ns := obj.GetNamespace(); ns != "" {
			fmt.Fprintf(&sb, " (namespace %s)", ns)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Render encodes objects as a multi-document YAML stream.
func Render(objs []*unstructured.Unstructured) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range objs {
		if i > 0 {
			buf.WriteString("---\n")
		}
		out, err := yaml.Marshal(obj.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s/%s: %w", obj.GetKind(), obj.GetName(), err)
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

// Apply writes objects to a temporary file and runs `kubectl apply -f` on it
// through gw.
func Apply(ctx context.Context, gw *gateway.Gateway, objs []*unstructured.Unstructured) (*gateway.Result, error) {
	data, err := Render(objs)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "kube-copilot-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write manifest file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	line := "kubectl apply -f " + f.Name()
	res := gw.Run(ctx, line)
	if res == nil {
		return nil, fmt.Errorf("command %q is not permitted", line)
	}
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}
