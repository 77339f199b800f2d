package upload

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"
	"time"

	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/httputil"
	"github.com/floorsight-data/floorsight/internal/segment"
)

var base = time.Unix(1_700_000_000, 0)

func testSegment(t *testing.T, fs fsutil.FileSystem) segment.Segment {
	t.Helper()
	if err := fs.WriteFile("segments/cam1_1.clip", []byte("clip-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return segment.Segment{
		ID:              "seg-1",
		StreamID:        "cam1",
		Path:            "segments/cam1_1.clip",
		Start:           base,
		End:             base.Add(20 * time.Second),
		Frames:          200,
		TriggerEventIDs: []string{"ep1", "ep2"},
	}
}

func testUploaderConfig() Config {
	return Config{
		UploadURL:   "https://evidence.example/upload",
		IncidentURL: "https://evidence.example/incidents",
		APIKey:      "key-123",
		BranchID:    "branch-7",
		Location:    "Main St",
	}
}

func parseMultipart(t *testing.T, contentType string, body []byte) (fields map[string]string, file []byte) {
	t.Helper()
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("bad content type %q: %v", contentType, err)
	}
	mr := multipart.NewReader(strings.NewReader(string(body)), params["boundary"])
	fields = make(map[string]string)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(part)
		if part.FormName() == "file" {
			file = data
		} else {
			fields[part.FormName()] = string(data)
		}
	}
	return fields, file
}

func TestUploadPostsMultipartAndIncident(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	seg := testSegment(t, fs)
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"ref": "clip-ref-1", "url": "https://cdn/clip-ref-1"}`)
	client.AddResponse(201, `{"incident_id": "inc-42"}`)

	u := NewHTTPUploader(testUploaderConfig(), client, fs)
	comp, err := u.Upload(context.Background(), seg)
	if err != nil {
		t.Fatal(err)
	}

	if comp.UploadedRef != "clip-ref-1" {
		t.Errorf("ref = %q", comp.UploadedRef)
	}
	if comp.URL != "https://cdn/clip-ref-1" {
		t.Errorf("url = %q", comp.URL)
	}
	if comp.IncidentID != "inc-42" {
		t.Errorf("incident = %q", comp.IncidentID)
	}
	if comp.SegmentID != "seg-1" || len(comp.TriggerEventIDs) != 2 {
		t.Errorf("completion identity = %+v", comp)
	}

	if client.RequestCount() != 2 {
		t.Fatalf("requests = %d, want upload + incident", client.RequestCount())
	}

	req, body := client.Request(0)
	if req.Header.Get("X-API-Key") != "key-123" {
		t.Errorf("upload X-API-Key = %q", req.Header.Get("X-API-Key"))
	}
	fields, file := parseMultipart(t, req.Header.Get("Content-Type"), body)
	if string(file) != "clip-bytes" {
		t.Errorf("file part = %q", file)
	}
	if fields["segment_id"] != "seg-1" || fields["branch_id"] != "branch-7" {
		t.Errorf("fields = %v", fields)
	}

	incReq, incBody := client.Request(1)
	if incReq.Header.Get("X-API-Key") != "key-123" {
		t.Errorf("incident X-API-Key = %q", incReq.Header.Get("X-API-Key"))
	}
	for _, want := range []string{`"clip_ref":"clip-ref-1"`, `"segment_id":"seg-1"`, `"ep1"`} {
		if !strings.Contains(string(incBody), want) {
			t.Errorf("incident payload missing %s: %s", want, incBody)
		}
	}
}

func TestUploadSurvivesIncidentFailure(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	seg := testSegment(t, fs)
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"ref": "clip-ref-1"}`)
	client.AddResponse(500, `boom`)

	u := NewHTTPUploader(testUploaderConfig(), client, fs)
	comp, err := u.Upload(context.Background(), seg)
	if err != nil {
		t.Fatalf("upload should not fail on incident error: %v", err)
	}
	if comp.UploadedRef != "clip-ref-1" || comp.IncidentID != "" {
		t.Errorf("completion = %+v", comp)
	}
}

func TestUploadErrorOnBadStatus(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	seg := testSegment(t, fs)
	client := httputil.NewMockHTTPClient()
	client.AddResponse(413, `too large`)

	u := NewHTTPUploader(testUploaderConfig(), client, fs)
	if _, err := u.Upload(context.Background(), seg); err == nil {
		t.Fatal("want error for 413 response")
	}
}

func TestExtractRefFallbacks(t *testing.T) {
	if ref, _ := extractRef([]byte(`{"file_id": "f-9"}`)); ref != "f-9" {
		t.Errorf("file_id ref = %q", ref)
	}
	if ref, _ := extractRef([]byte("bare-ref-string\n")); ref != "bare-ref-string" {
		t.Errorf("bare ref = %q", ref)
	}
	if ref, _ := extractRef([]byte("<html>big error page</html>")); ref != "" {
		t.Errorf("html should not become a ref, got %q", ref)
	}
}

func TestUploadFallsBackToSegmentID(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	seg := testSegment(t, fs)
	client := httputil.NewMockHTTPClient()
	client.AddResponse(204, "")

	cfg := testUploaderConfig()
	cfg.IncidentURL = ""
	u := NewHTTPUploader(cfg, client, fs)
	comp, err := u.Upload(context.Background(), seg)
	if err != nil {
		t.Fatal(err)
	}
	if comp.UploadedRef != "seg-1" {
		t.Errorf("ref = %q, want segment id fallback", comp.UploadedRef)
	}
	if client.RequestCount() != 1 {
		t.Errorf("requests = %d, incident reporting should be disabled", client.RequestCount())
	}
}
