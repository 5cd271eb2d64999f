package statusctl

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const reportJSON = `{
	"id": "sr1",
	"target": {"kind": "Deployment", "id": "d1"},
	"workspace": "default",
	"resourcesList": [
		{"name": "web", "type": "container", "stateJson": "{\"Name\":\"web\",\"Config\":{\"Image\":\"ghcr.io/acme/web:1.4.2\"}}"}
	]
}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONTROLPLANE_URL", "")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestImage_Stdin(t *testing.T) {
	out, err := execute(t, reportJSON, "image")
	if err != nil {
		t.Fatalf("image error = %v", err)
	}
	if out != "ghcr.io/acme/web 1.4.2\n" {
		t.Errorf("output = %q", out)
	}
}

func TestImage_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte(reportJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "", "image", path, "-o", "json")
	if err != nil {
		t.Fatalf("image error = %v", err)
	}

	var got imageOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	want := imageOutput{Image: "ghcr.io/acme/web", Tag: "1.4.2", Registry: "ghcr.io", Label: "ghcr.io/acme/web 1.4.2"}
	if got != want {
		t.Errorf("output = %+v, want %+v", got, want)
	}
}

func TestImage_Placeholder(t *testing.T) {
	out, err := execute(t, `{"resourcesList":[{"name":"db","type":"volume","stateJson":"{\"Image\":\"x:1\"}"}]}`, "image")
	if err != nil {
		t.Fatalf("image error = %v", err)
	}
	if out != "n/a\n" {
		t.Errorf("output = %q, want placeholder", out)
	}
}

func TestImage_InvalidInput(t *testing.T) {
	if _, err := execute(t, "not json", "image"); err == nil {
		t.Error("expected error for invalid status report")
	}
	if _, err := execute(t, "", "image", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestImage_Table(t *testing.T) {
	out, err := execute(t, reportJSON, "image", "-o", "table")
	if err != nil {
		t.Fatalf("image error = %v", err)
	}
	for _, want := range []string{"IMAGE", "deployment/d1", "ghcr.io/acme/web", "1.4.2"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestOutputFlag(t *testing.T) {
	if _, err := execute(t, reportJSON, "image", "-o", "yaml"); err == nil {
		t.Error("expected error for unsupported output format")
	}
}

// newControlPlane serves the expedite and job stream endpoints. An empty
// jobID answers without a job.
func newControlPlane(t *testing.T, jobID string, streamLines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/status-reports/expedite":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if ws, _ := body["workspace"].(map[string]any); ws["workspace"] != "prod" {
				t.Errorf("workspace = %v, want prod", body["workspace"])
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"jobId": jobID})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/"+jobID+"/stream":
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, line := range streamLines {
				_, _ = io.WriteString(w, line+"\n")
			}
			w.(http.Flusher).Flush()
			if len(streamLines) == 0 {
				<-r.Context().Done()
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestExpedite_WaitsForDone(t *testing.T) {
	server := newControlPlane(t, "j1",
		`{"open":{}}`,
		`{"state":{"previous":1,"current":3}}`,
		`{"state":{"previous":3,"current":5}}`,
	)
	defer server.Close()

	out, err := execute(t, "", "expedite", "deployment/d1", "-u", server.URL, "-w", "prod")
	if err != nil {
		t.Fatalf("expedite error = %v", err)
	}
	if !strings.Contains(out, "Health check job j1 running for deployment/d1") {
		t.Errorf("output missing running line:\n%s", out)
	}
	if !strings.Contains(out, "Health check job j1 for deployment/d1 finished") {
		t.Errorf("output missing finished line:\n%s", out)
	}
}

func TestExpedite_StreamClosedEarly(t *testing.T) {
	server := newControlPlane(t, "j1", `{"open":{}}`)
	defer server.Close()

	out, err := execute(t, "", "expedite", "release/r1", "-u", server.URL, "-w", "prod")
	if err == nil {
		t.Fatal("expected error when the stream ends before the job is done")
	}
	if !strings.Contains(out, "WATCH_FAILED") {
		t.Errorf("output = %q, want WATCH_FAILED outcome", out)
	}
}

func TestExpedite_Table(t *testing.T) {
	server := newControlPlane(t, "j1", `{"state":{"previous":3,"current":5}}`)
	defer server.Close()

	out, err := execute(t, "", "expedite", "deployment/d1", "-u", server.URL, "-w", "prod", "-o", "table")
	if err != nil {
		t.Fatalf("expedite error = %v", err)
	}
	for _, want := range []string{"Target", "deployment/d1", "Job", "j1", "DONE"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestExpedite_NoJob(t *testing.T) {
	server := newControlPlane(t, "")
	defer server.Close()

	out, err := execute(t, "", "expedite", "deployment/d1", "-u", server.URL, "-w", "prod", "-o", "json")
	if err != nil {
		t.Fatalf("expedite error = %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result["outcome"] != "NO_JOB" {
		t.Errorf("outcome = %v, want NO_JOB", result["outcome"])
	}
}

func TestExpedite_NoWait(t *testing.T) {
	server := newControlPlane(t, "j7")
	defer server.Close()

	out, err := execute(t, "", "expedite", "deployment/d1", "-u", server.URL, "-w", "prod", "--no-wait")
	if err != nil {
		t.Fatalf("expedite error = %v", err)
	}
	if !strings.Contains(out, "scheduled as job j7") {
		t.Errorf("output = %q", out)
	}
}

func TestExpedite_Validation(t *testing.T) {
	if _, err := execute(t, "", "expedite", "service/x", "-u", "http://127.0.0.1:1"); err == nil {
		t.Error("expected error for an invalid target")
	}
	if _, err := execute(t, "", "expedite", "deployment/d1"); err == nil {
		t.Error("expected error without a control plane URL")
	}
	if _, err := execute(t, "", "expedite"); err == nil {
		t.Error("expected error without a target")
	}
}
