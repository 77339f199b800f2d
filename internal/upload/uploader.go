// Package upload ships finalized clips to the evidence service and
// reports completions back to the analytics linker.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/floorsight-data/floorsight/internal/fsutil"
	"github.com/floorsight-data/floorsight/internal/httputil"
	"github.com/floorsight-data/floorsight/internal/monitoring"
	"github.com/floorsight-data/floorsight/internal/segment"
)

// Completion describes one successfully uploaded clip.
type Completion struct {
	SegmentID       string
	TriggerEventIDs []string
	UploadedRef     string
	URL             string
	IncidentID      string
	UploadTime      time.Time
}

// Uploader ships one clip. Implementations must be safe for concurrent
// use; the pool calls Upload from several workers.
type Uploader interface {
	Upload(ctx context.Context, seg segment.Segment) (Completion, error)
}

// Config carries the evidence service endpoints and identity fields.
type Config struct {
	UploadURL   string
	IncidentURL string // optional; empty disables incident reports
	APIKey      string
	BranchID    string
	Location    string
}

// HTTPUploader posts clips as multipart uploads, then files an incident
// report referencing the stored clip.
type HTTPUploader struct {
	cfg    Config
	client httputil.HTTPClient
	fs     fsutil.FileSystem
}

func NewHTTPUploader(cfg Config, client httputil.HTTPClient, fsys fsutil.FileSystem) *HTTPUploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPUploader{cfg: cfg, client: client, fs: fsys}
}

func (u *HTTPUploader) Upload(ctx context.Context, seg segment.Segment) (Completion, error) {
	ref, url, err := u.postClip(ctx, seg)
	if err != nil {
		return Completion{}, err
	}

	comp := Completion{
		SegmentID:       seg.ID,
		TriggerEventIDs: seg.TriggerEventIDs,
		UploadedRef:     ref,
		URL:             url,
		UploadTime:      time.Now().UTC(),
	}

	// The clip is stored; a failed incident report must not fail the
	// upload, or retries would duplicate the stored clip.
	if u.cfg.IncidentURL != "" {
		incidentID, err := u.postIncident(ctx, seg, ref)
		if err != nil {
			monitoring.Logf("upload: incident report for segment %s failed: %v", seg.ID, err)
		} else {
			comp.IncidentID = incidentID
		}
	}
	return comp, nil
}

// postClip uploads the clip file as a multipart form and returns the
// service's reference for it.
func (u *HTTPUploader) postClip(ctx context.Context, seg segment.Segment) (ref, url string, err error) {
	f, err := u.fs.Open(seg.Path)
	if err != nil {
		return "", "", fmt.Errorf("open clip %s: %w", seg.Path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(seg.Path))
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", "", fmt.Errorf("read clip %s: %w", seg.Path, err)
	}
	fields := map[string]string{
		"segment_id": seg.ID,
		"stream_id":  seg.StreamID,
		"started_at": seg.Start.UTC().Format(time.RFC3339Nano),
		"ended_at":   seg.End.UTC().Format(time.RFC3339Nano),
		"branch_id":  u.cfg.BranchID,
		"location":   u.cfg.Location,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.UploadURL, &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", u.cfg.APIKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("upload segment %s: %w", seg.ID, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("upload segment %s: status %d: %s", seg.ID, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	ref, url = extractRef(payload)
	if ref == "" {
		// The service stored the clip but gave nothing to link with;
		// fall back to our own id so the evidence chain stays intact.
		ref = seg.ID
	}
	return ref, url, nil
}

// extractRef pulls the stored-clip reference out of an upload response.
// Services differ: try the common JSON keys, then a bare-string body.
func extractRef(payload []byte) (ref, url string) {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err == nil {
		for _, key := range []string{"ref", "file_ref", "file_id", "id"} {
			if v, ok := decoded[key].(string); ok && v != "" {
				ref = v
				break
			}
		}
		if v, ok := decoded["url"].(string); ok {
			url = v
		}
		return ref, url
	}
	if s := strings.TrimSpace(string(payload)); s != "" && len(s) < 256 && !strings.ContainsAny(s, "\n<>") {
		return s, ""
	}
	return "", ""
}

// postIncident files the incident report for an uploaded clip and
// returns the incident id the service assigned.
func (u *HTTPUploader) postIncident(ctx context.Context, seg segment.Segment, ref string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"branch_id":      u.cfg.BranchID,
		"location":       u.cfg.Location,
		"segment_id":     seg.ID,
		"clip_ref":       ref,
		"started_at":     seg.Start.UTC().Format(time.RFC3339Nano),
		"ended_at":       seg.End.UTC().Format(time.RFC3339Nano),
		"trigger_events": seg.TriggerEventIDs,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.IncidentURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", u.cfg.APIKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("incident report: status %d", resp.StatusCode)
	}

	var decoded struct {
		IncidentID string `json:"incident_id"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if decoded.IncidentID != "" {
			return decoded.IncidentID, nil
		}
		return decoded.ID, nil
	}
	return "", nil
}
