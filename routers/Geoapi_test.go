package routers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/models"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/services"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/views"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const kmlBody = `<kml xmlns="http://www.opengis.net/kml/2.2"><Document>
<Placemark id="a"><name>A</name><Point><coordinates>-82.9,39.9</coordinates></Point></Placemark>
<Placemark id="b"><name>B</name><Point><coordinates>-83.0,40.0</coordinates></Point></Placemark>
</Document></kml>`

type apiFixture struct {
	db          *gorm.DB
	engine      *gin.Engine
	staffToken  string
	viewerToken string
	group       *models.LayerGroup
	project     *models.Project
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })

	staging, err := services.NewStagingStore(filepath.Join(t.TempDir(), "staging"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	importer := services.NewImporter(db, Transformer.NewReprojector(nil), 2, time.Minute)
	audit := services.NewAuditService(db)
	jobs := services.NewJobManager(time.Hour)
	auth := views.NewAuthenticator(db, "test-secret")

	engine := NewEngine(Handlers{
		Auth:    auth,
		Uploads: views.NewUploadHandler(services.NewUploadService(db, staging, importer, jobs, audit), jobs),
		Layers:  views.NewLayerHandler(services.NewChunkServer(db, nil), services.NewLayerService(db, importer), audit),
		Scenes:  views.NewSceneHandler(services.NewSceneService(db, audit), "https://maps.example.com/"),
	})

	f := &apiFixture{db: db, engine: engine}
	staff := &models.User{Username: "staff", IsStaff: true, IsActive: true}
	viewer := &models.User{Username: "viewer", IsActive: true}
	for _, u := range []*models.User{staff, viewer} {
		if err := db.Create(u).Error; err != nil {
			t.Fatal(err)
		}
	}
	if f.staffToken, err = auth.IssueToken(staff.ID, time.Hour); err != nil {
		t.Fatal(err)
	}
	if f.viewerToken, err = auth.IssueToken(viewer.ID, time.Hour); err != nil {
		t.Fatal(err)
	}

	f.project = &models.Project{Name: "demo", IsActive: true}
	db.Create(f.project)
	f.group = &models.LayerGroup{ProjectID: f.project.ID, Name: "uploads"}
	db.Create(f.group)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body []byte, contentType string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) postJSON(t *testing.T, path, token string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(v)
	return f.do(t, http.MethodPost, path, token, body, "application/json")
}

func multipartFile(t *testing.T, name, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

// upload 走完两步上传, 返回新图层id
func (f *apiFixture) upload(t *testing.T, layerName string, public bool) uint {
	t.Helper()
	body, ct := multipartFile(t, "sites.kml", kmlBody)
	w := f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.staffToken, body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", w.Code, w.Body)
	}
	var detected services.DetectResult
	json.Unmarshal(w.Body.Bytes(), &detected)

	w = f.postJSON(t, "/api/v1/layers/complete_upload/", f.staffToken, map[string]interface{}{
		"file_id": detected.FileID, "file_type": detected.FileType, "group_id": f.group.ID,
		"layer_name": layerName, "is_public": public,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("complete status %d: %s", w.Code, w.Body)
	}
	var done services.CompleteResult
	json.Unmarshal(w.Body.Bytes(), &done)
	return done.LayerID
}

func TestUploadFlow(t *testing.T) {
	f := newAPIFixture(t)
	body, ct := multipartFile(t, "sites.kml", kmlBody)

	w := f.do(t, http.MethodPost, "/api/v1/layers/upload/", "", body, ct)
	if w.Code != http.StatusUnauthorized || errorOf(t, w) != "Authentication required" {
		t.Fatalf("anonymous upload = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.viewerToken, body, ct)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer upload = %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/v1/layers/upload/", "not-a-jwt", body, ct)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token upload = %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.staffToken, nil, "")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "No file provided" {
		t.Fatalf("empty upload = %d %s", w.Code, w.Body)
	}
	txt, txtCT := multipartFile(t, "notes.txt", "hello")
	w = f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.staffToken, txt, txtCT)
	if w.Code != http.StatusBadRequest || errorOf(t, w) != Transformer.UnsupportedTypeMessage {
		t.Fatalf("txt upload = %d %s", w.Code, w.Body)
	}

	w = f.postJSON(t, "/api/v1/layers/complete_upload/", f.staffToken, map[string]interface{}{"layer_name": "x"})
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Missing required fields: file_id, file_type, group_id" {
		t.Fatalf("missing fields = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPost, "/api/v1/layers/complete_upload/", f.staffToken, []byte("{"), "application/json")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Invalid request body" {
		t.Fatalf("bad json = %d %s", w.Code, w.Body)
	}
	w = f.postJSON(t, "/api/v1/layers/complete_upload/", f.staffToken, map[string]interface{}{
		"file_id": "3b241101-e2bb-4255-8caf-4136c566a962", "file_type": "kml", "group_id": f.group.ID, "layer_name": "x",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expired file = %d %s", w.Code, w.Body)
	}

	layerID := f.upload(t, "Sites", false)
	var layer models.Layer
	if err := f.db.First(&layer, layerID).Error; err != nil {
		t.Fatal(err)
	}
	if layer.FeatureCount != 2 || layer.UploadStatus != models.UploadComplete {
		t.Fatalf("layer = %+v", layer)
	}
}

func TestCompleteUploadBinding(t *testing.T) {
	f := newAPIFixture(t)
	const path = "/api/v1/layers/complete_upload/"

	w := f.postJSON(t, path, f.staffToken, map[string]interface{}{
		"file_type": "kml", "group_id": "3", "layer_name": "x",
	})
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Missing required fields: file_id; Invalid fields: group_id" {
		t.Fatalf("json type mismatch = %d %s", w.Code, w.Body)
	}

	form := url.Values{"file_type": {"kml"}, "group_id": {"abc"}, "layer_name": {"x"}, "is_public": {"maybe"}}
	w = f.do(t, http.MethodPost, path, f.staffToken, []byte(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Missing required fields: file_id; Invalid fields: group_id, is_public" {
		t.Fatalf("form type mismatch = %d %s", w.Code, w.Body)
	}

	body, ct := multipartFile(t, "sites.kml", kmlBody)
	w = f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.staffToken, body, ct)
	var detected services.DetectResult
	json.Unmarshal(w.Body.Bytes(), &detected)
	form = url.Values{
		"file_id": {detected.FileID}, "file_type": {"kml"}, "group_id": {fmt.Sprint(f.group.ID)},
		"layer_name": {"From form"}, "is_public": {"true"},
	}
	w = f.do(t, http.MethodPost, path, f.staffToken, []byte(form.Encode()), "application/x-www-form-urlencoded")
	if w.Code != http.StatusOK {
		t.Fatalf("form complete = %d %s", w.Code, w.Body)
	}
	var done services.CompleteResult
	json.Unmarshal(w.Body.Bytes(), &done)
	var layer models.Layer
	if err := f.db.First(&layer, done.LayerID).Error; err != nil {
		t.Fatal(err)
	}
	if !layer.IsPublic || layer.FeatureCount != 2 || layer.Name != "From form" {
		t.Fatalf("layer from form = %+v", layer)
	}
}

func TestChunkEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	public := f.upload(t, "Public", true)
	private := f.upload(t, "Private", false)

	path := fmt.Sprintf("/api/v1/layers/data/%d/", public)
	w := f.do(t, http.MethodGet, path, "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("public chunk = %d %s", w.Code, w.Body)
	}
	etag := w.Header().Get("ETag")
	if etag == "" || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("headers = %v", w.Header())
	}
	var fc services.FeatureCollection
	json.Unmarshal(w.Body.Bytes(), &fc)
	if len(fc.Features) != 2 || fc.ChunkInfo == nil || fc.ChunkInfo.ChunkID != 1 || fc.ChunkInfo.NextChunk != nil {
		t.Fatalf("chunk = %s", w.Body)
	}

	w = f.do(t, http.MethodGet, path, "", nil, "", "If-None-Match", etag)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("conditional get = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/layers/data/%d/", private), "", nil, "")
	if w.Code != http.StatusForbidden || errorOf(t, w) != "Access denied" {
		t.Fatalf("anonymous private = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/layers/data/%d/", private), f.viewerToken, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated private = %d", w.Code)
	}

	for p, want := range map[string]int{
		path + "?chunk_id=abc":        http.StatusBadRequest,
		path + "?chunk_id=0":          http.StatusBadRequest,
		"/api/v1/layers/data/x/":      http.StatusBadRequest,
		"/api/v1/layers/data/424242/": http.StatusNotFound,
		path + "?chunk_id=5":          http.StatusOK,
	} {
		if w := f.do(t, http.MethodGet, p, f.staffToken, nil, ""); w.Code != want {
			t.Errorf("GET %s = %d, want %d", p, w.Code, want)
		}
	}
}

func TestSceneEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.upload(t, "Public", true)
	f.upload(t, "Private", false)
	client := &models.Client{Name: "acme", IsActive: true}
	f.db.Create(client)

	w := f.do(t, http.MethodGet, "/api/v1/projects/constructor/", f.staffToken, nil, "")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Either project_id or hash_code must be provided" {
		t.Fatalf("no selector = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodGet, "/api/v1/projects/constructor/?project_id=1&hash_code=abc", f.staffToken, nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("both selectors = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/api/v1/projects/constructor/abc/", f.staffToken, nil, "")
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Invalid project_id" {
		t.Fatalf("bad project id = %d %s", w.Code, w.Body)
	}
	// 按项目id访问先校验登录, 再解析参数
	w = f.do(t, http.MethodGet, "/api/v1/projects/constructor/abc/", "", nil, "")
	if w.Code != http.StatusUnauthorized || errorOf(t, w) != "Authentication required" {
		t.Fatalf("anonymous bad project id = %d %s", w.Code, w.Body)
	}

	projectPath := fmt.Sprintf("/api/v1/projects/constructor/%d/", f.project.ID)
	if w := f.do(t, http.MethodGet, projectPath, "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous project = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, projectPath, f.viewerToken, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("viewer project = %d", w.Code)
	}
	w = f.do(t, http.MethodGet, projectPath, f.staffToken, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("staff project = %d %s", w.Code, w.Body)
	}
	var scene services.SceneDescription
	json.Unmarshal(w.Body.Bytes(), &scene)
	if len(scene.LayerGroups) != 1 || len(scene.LayerGroups[0].Layers) != 2 {
		t.Fatalf("staff scene = %s", w.Body)
	}

	w = f.postJSON(t, "/api/v1/projects/share/", f.staffToken, map[string]interface{}{"client_id": client.ID, "project_id": f.project.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create share = %d %s", w.Code, w.Body)
	}
	var created struct {
		Data struct {
			UniqueLink string `json:"unique_link"`
			URL        string `json:"url"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	token := created.Data.UniqueLink
	if created.Data.URL != "https://maps.example.com/api/v1/projects/standalone/"+token+"/" {
		t.Fatalf("share url = %s", created.Data.URL)
	}

	w = f.do(t, http.MethodGet, "/api/v1/projects/standalone/"+token+"/", "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("shared scene = %d %s", w.Code, w.Body)
	}
	scene = services.SceneDescription{}
	json.Unmarshal(w.Body.Bytes(), &scene)
	if len(scene.LayerGroups) != 1 || len(scene.LayerGroups[0].Layers) != 1 || scene.LayerGroups[0].Layers[0].Name != "Public" {
		t.Fatalf("shared scene exposes private layers: %s", w.Body)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/projects/constructor/?hash_code="+token, "", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("hash_code query = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/projects/standalone/nope/", "", nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown share = %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/v1/projects/share/"+token+"/qr.png", "", nil, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("qr = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestLayerAdminEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	layerID := f.upload(t, "道路", true)
	base := fmt.Sprintf("/api/v1/layers/%d", layerID)

	var env struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}

	w := f.do(t, http.MethodGet, base, f.staffToken, nil, "")
	json.Unmarshal(w.Body.Bytes(), &env)
	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("get layer = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodGet, "/api/v1/layers/999", f.staffToken, nil, "")
	json.Unmarshal(w.Body.Bytes(), &env)
	if w.Code != http.StatusNotFound || env.Code != http.StatusNotFound || env.Message != "Layer not found" {
		t.Fatalf("missing layer = %d %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodGet, base+"/export", f.staffToken, nil, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Disposition") != `attachment; filename="daolu.geojson"` {
		t.Fatalf("export = %d %v", w.Code, w.Header())
	}
	exported := w.Body.Bytes()

	w = f.postJSON(t, base+"/features", f.staffToken, map[string]interface{}{
		"geometry":   map[string]interface{}{"type": "Point", "coordinates": []float64{-82, 41}},
		"properties": map[string]interface{}{"name": "C"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create feature = %d %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodGet, base+"/extent", f.staffToken, nil, "")
	var ext struct {
		Data struct {
			Extent services.Extent `json:"extent"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &ext)
	if ext.Data.Extent != (services.Extent{MinX: -83, MinY: 39.9, MaxX: -82, MaxY: 41}) {
		t.Fatalf("extent = %s", w.Body)
	}

	w = f.do(t, http.MethodPost, base+"/clear", f.staffToken, nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"features_removed":3`) {
		t.Fatalf("clear = %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPost, base+"/import-geojson", f.staffToken, exported, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("reimport = %d %s", w.Code, w.Body)
	}
	var count int64
	f.db.Model(&models.Feature{}).Where("layer_id = ?", layerID).Count(&count)
	if count != 2 {
		t.Fatalf("features after reimport = %d", count)
	}

	if w := f.do(t, http.MethodDelete, base, f.viewerToken, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("viewer delete = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, base, f.staffToken, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("delete = %d %s", w.Code, w.Body)
	}
	var audits int64
	f.db.Model(&models.AuditLog{}).Where("action IN ?", []string{"Layer data cleared", "Layer deleted"}).Count(&audits)
	if audits != 2 {
		t.Fatalf("admin audit entries = %d", audits)
	}
}

func TestAsyncUploadProgress(t *testing.T) {
	f := newAPIFixture(t)
	body, ct := multipartFile(t, "sites.kml", kmlBody)
	w := f.do(t, http.MethodPost, "/api/v1/layers/upload/", f.staffToken, body, ct)
	var detected services.DetectResult
	json.Unmarshal(w.Body.Bytes(), &detected)

	w = f.postJSON(t, "/api/v1/layers/complete_upload/", f.staffToken, map[string]interface{}{
		"file_id": detected.FileID, "file_type": "kml", "group_id": f.group.ID, "layer_name": "Async", "async": true,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("async complete = %d %s", w.Code, w.Body)
	}
	var res services.CompleteResult
	json.Unmarshal(w.Body.Bytes(), &res)

	srv := httptest.NewServer(f.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/layers/upload/jobs/" + res.JobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + f.staffToken}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var last services.ProgressMessage
	for last.Type != string(services.JobCompleted) && last.Type != string(services.JobFailed) {
		if err := conn.ReadJSON(&last); err != nil {
			t.Fatalf("read progress: %v", err)
		}
	}
	if last.Type != string(services.JobCompleted) || last.Percentage != 100 {
		t.Fatalf("final message = %+v", last)
	}

	w = f.do(t, http.MethodGet, "/api/v1/layers/upload/jobs/"+res.JobID, f.staffToken, nil, "")
	var state services.JobState
	json.Unmarshal(w.Body.Bytes(), &state)
	if w.Code != http.StatusOK || state.Status != services.JobCompleted || state.Result.FeatureCount != 2 {
		t.Fatalf("job status = %d %s", w.Code, w.Body)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/layers/upload/jobs/nope", f.staffToken, nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown job = %d", w.Code)
	}
}
