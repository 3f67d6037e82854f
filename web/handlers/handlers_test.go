// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mdhender/limsd/casestore"
	"github.com/mdhender/limsd/model"
	"github.com/mdhender/limsd/pipelines/stages"
	"github.com/mdhender/limsd/processors"
	store "github.com/mdhender/limsd/stores/sqlite"
	"github.com/mdhender/limsd/web/handlers"
	"github.com/spf13/afero"
)

type testServer struct {
	registry *store.SQLiteStore
	files    *casestore.Store
	mux      *http.ServeMux
}

func newTestServer(t *testing.T, opts ...func(*handlers.Handlers)) *testServer {
	t.Helper()

	registry, err := store.NewSQLiteStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	files := casestore.New("/uploads")
	files.SetFS(afero.NewMemMapFs())

	uploads := stages.NewUploadService(files, registry)
	uploads.SetHold(0)

	procs := stages.NewProcessService(files, registry, processors.Default())
	procs.SetLogf(func(format string, v ...any) {})

	h := handlers.New(registry, files, uploads, procs)
	for _, opt := range opts {
		opt(h)
	}
	mux := http.NewServeMux()
	h.Routes(mux)

	return &testServer{registry: registry, files: files, mux: mux}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func grayJPEG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: level, G: level, B: level, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestUploadCreatesCase(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "hello note.txt", []byte("hello"), nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		OK       bool   `json:"ok"`
		CaseID   string `json:"case_id"`
		Filename string `json:"filename"`
		URL      string `json:"url"`
	}
	decodeJSON(t, w, &resp)
	if !resp.OK || !strings.HasPrefix(resp.CaseID, "case-") {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasSuffix(resp.Filename, "-hello_note.txt") {
		t.Errorf("stored filename %q", resp.Filename)
	}

	// One file in the case, served back inline.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/cases/"+resp.CaseID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status %d", w.Code)
	}
	var listing struct {
		Files []string `json:"files"`
	}
	decodeJSON(t, w, &listing)
	if len(listing.Files) != 1 || listing.Files[0] != resp.Filename {
		t.Fatalf("listing %+v", listing)
	}

	w = ts.do(t, httptest.NewRequest(http.MethodGet, resp.URL, nil))
	if w.Code != http.StatusOK || w.Body.String() != "hello" {
		t.Fatalf("artifact fetch: %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Errorf("disposition %q", got)
	}

	// Second upload into the same case is a 200, not a 201.
	w = ts.do(t, multipartUpload(t, "more.txt", []byte("more"), map[string]string{"case_id": resp.CaseID}))
	if w.Code != http.StatusOK {
		t.Fatalf("second upload status %d", w.Code)
	}
}

func TestUploadRejectsExtension(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "malware.exe", []byte("nope"), nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	decodeJSON(t, w, &resp)
	if resp.Code != stages.ErrCodeExtension {
		t.Errorf("code %q", resp.Code)
	}
}

func TestDoublePurge(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "a.txt", []byte("a"), nil))
	var up struct {
		CaseID string `json:"case_id"`
	}
	decodeJSON(t, w, &up)

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/purge/"+up.CaseID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first purge status %d, body %s", w.Code, w.Body.String())
	}

	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/purge/"+up.CaseID, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("second purge status %d, want 404", w.Code)
	}

	// The registry rows went with the directory.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/cases", nil))
	var listing struct {
		Cases []json.RawMessage `json:"cases"`
	}
	decodeJSON(t, w, &listing)
	if len(listing.Cases) != 0 {
		t.Errorf("cases left after purge: %d", len(listing.Cases))
	}
}

func TestPurgeCleansOrphanedRegistryRows(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// Registry rows without a case directory, as after a purge that
	// removed the files but died before the registry delete.
	if _, err := ts.registry.RegisterCase(ctx, "case-orphan", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := ts.registry.RecordResult(ctx, "case-orphan", "ph", model.Number(7.2), "", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	w := ts.do(t, httptest.NewRequest(http.MethodDelete, "/purge/case-orphan", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("purge status %d, body %s", w.Code, w.Body.String())
	}

	exists, err := ts.registry.CaseExists(ctx, "case-orphan")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Error("registry rows survived purge")
	}

	// With both sides empty the purge is a 404.
	w = ts.do(t, httptest.NewRequest(http.MethodDelete, "/purge/case-orphan", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("re-purge status %d, want 404", w.Code)
	}
}

func TestProcessEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "scan.jpg", grayJPEG(t, 200), nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status %d", w.Code)
	}
	var up struct {
		CaseID   string `json:"case_id"`
		Filename string `json:"filename"`
	}
	decodeJSON(t, w, &up)

	form := url.Values{
		"case_id":   {up.CaseID},
		"filename":  {up.Filename},
		"processor": {"dark_light"},
	}
	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = ts.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("process status %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			Classification string `json:"classification"`
		} `json:"result"`
		FormattedResult struct {
			ReportVersion  string  `json:"report_version"`
			ClassifierName string  `json:"classifier_name"`
			Confidence     float64 `json:"confidence"`
			ImageID        string  `json:"image_id"`
		} `json:"formatted_result"`
		ReportURL string `json:"report_url"`
	}
	decodeJSON(t, w, &resp)
	if resp.Result.Classification != "Light" {
		t.Errorf("classification %q, want Light", resp.Result.Classification)
	}
	if resp.FormattedResult.ReportVersion != "0.1.0" || resp.FormattedResult.ClassifierName != "dark_light" {
		t.Errorf("formatted result: %+v", resp.FormattedResult)
	}
	if resp.FormattedResult.ImageID != up.Filename {
		t.Errorf("image_id %q, want %q", resp.FormattedResult.ImageID, up.Filename)
	}
	if resp.ReportURL != "/results/"+up.CaseID {
		t.Errorf("report_url %q", resp.ReportURL)
	}

	// Side effect: the result landed in the registry.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/results/"+up.CaseID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("results status %d", w.Code)
	}
	var results struct {
		Results []struct {
			TestName string `json:"test_name"`
			ImageID  string `json:"image_id"`
		} `json:"results"`
	}
	decodeJSON(t, w, &results)
	if len(results.Results) != 1 || results.Results[0].TestName != "dark_light" {
		t.Fatalf("results %+v", results)
	}
	if results.Results[0].ImageID != up.Filename {
		t.Errorf("recorded image_id %q", results.Results[0].ImageID)
	}
}

func TestProcessErrors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "a.txt", []byte("a"), nil))
	var up struct {
		CaseID   string `json:"case_id"`
		Filename string `json:"filename"`
	}
	decodeJSON(t, w, &up)

	post := func(fields url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(fields.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return ts.do(t, req)
	}

	// Traversal name rejected before lookup.
	w = post(url.Values{"case_id": {up.CaseID}, "filename": {up.Filename}, "processor": {"../etc"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal name: status %d, want 400", w.Code)
	}

	// Unknown processor.
	w = post(url.Values{"case_id": {up.CaseID}, "filename": {up.Filename}, "processor": {"mystery"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown processor: status %d, want 404", w.Code)
	}

	// Missing artifact.
	w = post(url.Values{"case_id": {up.CaseID}, "filename": {"missing.jpg"}, "processor": {"mean_pixel"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing artifact: status %d, want 404", w.Code)
	}

	// Missing fields.
	w = post(url.Values{"case_id": {up.CaseID}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status %d, want 400", w.Code)
	}
}

func TestRecordResultFlow(t *testing.T) {
	ts := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/record_result", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(t, req)
	}

	// Unknown case.
	w := post(`{"case_id":"case-nope","test_name":"ph","result":7.2}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown case: status %d, want 404", w.Code)
	}

	// Missing fields.
	w = post(`{"case_id":"case-nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: status %d, want 400", w.Code)
	}

	w = ts.do(t, multipartUpload(t, "a.txt", []byte("a"), nil))
	var up struct {
		CaseID string `json:"case_id"`
	}
	decodeJSON(t, w, &up)

	w = post(fmt.Sprintf(`{"case_id":%q,"test_name":"ph","result":7.2,"units":"pH"}`, up.CaseID))
	if w.Code != http.StatusOK {
		t.Fatalf("record: status %d, body %s", w.Code, w.Body.String())
	}

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/results/"+up.CaseID, nil))
	var results struct {
		Results []struct {
			TestName string  `json:"test_name"`
			Result   float64 `json:"result"`
			Units    string  `json:"units"`
		} `json:"results"`
	}
	decodeJSON(t, w, &results)
	if len(results.Results) != 1 || results.Results[0].Result != 7.2 || results.Results[0].Units != "pH" {
		t.Fatalf("results %+v", results)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "a.txt", []byte("a"), nil))
	var up struct {
		CaseID string `json:"case_id"`
	}
	decodeJSON(t, w, &up)

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/cases/"+up.CaseID+"/meta", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("meta get status %d", w.Code)
	}
	var meta struct {
		Domain string `json:"domain"`
		Level  string `json:"level"`
	}
	decodeJSON(t, w, &meta)
	if meta.Domain != "health" || meta.Level != "Not Analyzed" {
		t.Fatalf("default meta %+v", meta)
	}

	body := `{"level":"Analyzed","description":"routine screen"}`
	req := httptest.NewRequest(http.MethodPost, "/cases/"+up.CaseID+"/meta", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = ts.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("meta post status %d, body %s", w.Code, w.Body.String())
	}

	// Domain survives the partial update; description syncs to the registry.
	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/cases/"+up.CaseID+"/meta", nil))
	decodeJSON(t, w, &meta)
	if meta.Domain != "health" || meta.Level != "Analyzed" {
		t.Fatalf("updated meta %+v", meta)
	}

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/cases", nil))
	var cases struct {
		Cases []struct {
			CaseID      string `json:"case_id"`
			Description string `json:"description"`
		} `json:"cases"`
	}
	decodeJSON(t, w, &cases)
	if len(cases.Cases) != 1 || cases.Cases[0].Description != "routine screen" {
		t.Fatalf("cases %+v", cases)
	}
}

func TestArtifactTraversalRejected(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "a.txt", []byte("a"), nil))
	var up struct {
		CaseID string `json:"case_id"`
	}
	decodeJSON(t, w, &up)

	req := httptest.NewRequest(http.MethodGet, "/cases/"+up.CaseID+"/..%2fsecret", nil)
	w = ts.do(t, req)
	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Fatalf("traversal fetch status %d", w.Code)
	}
}

func TestRenderCasePage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, multipartUpload(t, "scan.jpg", grayJPEG(t, 200), nil))
	var up struct {
		CaseID   string `json:"case_id"`
		Filename string `json:"filename"`
	}
	decodeJSON(t, w, &up)
	w = ts.do(t, multipartUpload(t, "notes.txt", []byte("looks fine"), map[string]string{"case_id": up.CaseID}))
	if w.Code != http.StatusOK {
		t.Fatalf("note upload status %d", w.Code)
	}

	form := url.Values{
		"case_id":   {up.CaseID},
		"filename":  {up.Filename},
		"processor": {"mean_pixel"},
	}
	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w = ts.do(t, req); w.Code != http.StatusOK {
		t.Fatalf("process status %d", w.Code)
	}

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/render/"+up.CaseID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("render status %d", w.Code)
	}
	page := w.Body.String()
	if !strings.Contains(page, up.Filename) {
		t.Errorf("page missing artifact %q", up.Filename)
	}
	if !strings.Contains(page, "looks fine") {
		t.Errorf("page missing note preview")
	}
	if !strings.Contains(page, "mean_pixel") {
		t.Errorf("page missing result overlay")
	}

	w = ts.do(t, httptest.NewRequest(http.MethodGet, "/render/case-nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("render unknown case status %d, want 404", w.Code)
	}
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("index status %d", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{"POST /upload", "dark_light", "mean_pixel"} {
		if !strings.Contains(page, want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestSQLConsoleGating(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/sql", strings.NewReader("query=SELECT+1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if w := ts.do(t, req); w.Code != http.StatusNotFound {
		t.Fatalf("disabled console status %d, want 404", w.Code)
	}

	ts = newTestServer(t, func(h *handlers.Handlers) { h.EnableSQLConsole() })
	req = httptest.NewRequest(http.MethodPost, "/sql", strings.NewReader("query="+url.QueryEscape("SELECT COUNT(*) AS n FROM cases")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := ts.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("console status %d, body %s", w.Code, w.Body.String())
	}
	var result struct {
		Columns []string `json:"columns"`
	}
	decodeJSON(t, w, &result)
	if len(result.Columns) != 1 || result.Columns[0] != "n" {
		t.Errorf("columns %v", result.Columns)
	}
}
