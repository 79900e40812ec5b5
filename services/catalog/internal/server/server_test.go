package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"vidarchive/pkg/storage"
	"vidarchive/pkg/store"
	"vidarchive/services/catalog/internal/app"
	"vidarchive/services/catalog/internal/security"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Str0ng#Password!"
)

type testEnv struct {
	t          *testing.T
	srv        *httptest.Server
	adminToken string
	userToken  string
}

type response struct {
	code int
	body map[string]any
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Sessions: sessions,
		Objects:  storage.NewMemoryStore("http://media.test"),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = core
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	env := &testEnv{t: t, srv: httptest.NewServer(s.Router())}
	t.Cleanup(env.srv.Close)
	env.adminToken = env.register("admin", "admin@example.com")
	env.userToken = env.register("viewer", "viewer@example.com")
	return env
}

func (e *testEnv) register(username, email string) string {
	e.t.Helper()
	res := e.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": testPassword,
	})
	if res.code != http.StatusCreated {
		e.t.Fatalf("register %s: %d %v", username, res.code, res.body)
	}
	token, _ := res.body["token"].(string)
	return token
}

func (e *testEnv) do(method, path, token string, payload any) response {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, token)
}

func (e *testEnv) send(req *http.Request, token string) response {
	e.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := response{code: resp.StatusCode, body: map[string]any{}}
	_ = json.NewDecoder(resp.Body).Decode(&out.body)
	return out
}

type filePart struct {
	name        string
	contentType string
	data        string
}

func (e *testEnv) multipart(method, path, token string, fields map[string]string, file *filePart) response {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			e.t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, file.name))
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			e.t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte(file.data))
	}
	if err := mw.Close(); err != nil {
		e.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.send(req, token)
}

func (e *testEnv) createPerson(name string) string {
	e.t.Helper()
	res := e.do(http.MethodPost, "/api/persons", e.adminToken, map[string]any{"name": name})
	if res.code != http.StatusCreated {
		e.t.Fatalf("create person: %d %v", res.code, res.body)
	}
	return res.body["data"].(map[string]any)["id"].(string)
}

func (e *testEnv) createVideo(title, datetime, relatedPeople string) string {
	e.t.Helper()
	res := e.multipart(http.MethodPost, "/api/videos", e.adminToken, map[string]string{
		"title":         title,
		"datetime":      datetime,
		"keywords":      `["Protest rally"]`,
		"relatedPeople": relatedPeople,
	}, &filePart{name: "clip.mp4", contentType: "video/mp4", data: "data"})
	if res.code != http.StatusCreated {
		e.t.Fatalf("create video: %d %v", res.code, res.body)
	}
	return res.body["data"].(map[string]any)["id"].(string)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, path := range []string{"/api/videos", "/api/videos/search", "/api/persons", "/api/channels", "/api/auth/me"} {
		res := env.do(http.MethodGet, path, "", nil)
		if res.code != http.StatusUnauthorized || res.body["status"] != "fail" {
			t.Fatalf("%s without token: %d %v", path, res.code, res.body)
		}
	}
	res := env.do(http.MethodGet, "/api/videos", "not-a-jwt", nil)
	if res.code != http.StatusUnauthorized {
		t.Fatalf("invalid token status = %d", res.code)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t, Config{})

	res := env.do(http.MethodGet, "/api/auth/me", env.adminToken, nil)
	if res.code != http.StatusOK {
		t.Fatalf("me: %d %v", res.code, res.body)
	}
	user := res.body["data"].(map[string]any)["user"].(map[string]any)
	if user["role"] != "admin" || user["email"] != "admin@example.com" {
		t.Fatalf("unexpected me %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatalf("password hash must not be serialized")
	}

	res = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "viewer@example.com", "password": "nope"})
	if res.code != http.StatusUnauthorized || res.body["message"] != "Incorrect email or password" {
		t.Fatalf("bad login: %d %v", res.code, res.body)
	}
	res = env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "another", "email": "viewer@example.com", "password": testPassword,
	})
	if res.code != http.StatusBadRequest || res.body["message"] != "Email already exists" {
		t.Fatalf("duplicate email: %d %v", res.code, res.body)
	}

	res = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "viewer@example.com", "password": testPassword})
	if res.code != http.StatusOK || res.body["token"] == "" {
		t.Fatalf("login: %d %v", res.code, res.body)
	}
	token := res.body["token"].(string)
	if res := env.do(http.MethodPost, "/api/auth/logout", token, nil); res.code != http.StatusOK {
		t.Fatalf("logout: %d %v", res.code, res.body)
	}
	if res := env.do(http.MethodGet, "/api/auth/me", token, nil); res.code != http.StatusUnauthorized {
		t.Fatalf("revoked token should be rejected, got %d", res.code)
	}
}

func TestListUsersIsAdminOnly(t *testing.T) {
	env := newTestEnv(t, Config{})
	if res := env.do(http.MethodGet, "/api/auth/users", env.userToken, nil); res.code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d", res.code)
	}
	res := env.do(http.MethodGet, "/api/auth/users", env.adminToken, nil)
	if res.code != http.StatusOK || res.body["results"] != float64(2) {
		t.Fatalf("list users: %d %v", res.code, res.body)
	}
}

func TestPatchVideoAuthorization(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.createVideo("Clip", "2024-05-01T10:00:00Z", "")

	fields := map[string]string{"title": "Renamed"}
	res := env.multipart(http.MethodPatch, "/api/videos/"+id, env.userToken, fields, nil)
	if res.code != http.StatusForbidden || res.body["status"] != "fail" {
		t.Fatalf("non-admin patch: %d %v", res.code, res.body)
	}
	res = env.multipart(http.MethodPatch, "/api/videos/"+id, env.adminToken, fields, nil)
	if res.code != http.StatusOK {
		t.Fatalf("admin patch: %d %v", res.code, res.body)
	}
	if title := res.body["data"].(map[string]any)["title"]; title != "Renamed" {
		t.Fatalf("title = %v", title)
	}
	res = env.multipart(http.MethodPatch, "/api/videos/does-not-exist", env.adminToken, fields, nil)
	if res.code != http.StatusNotFound || res.body["message"] != "Video not found" {
		t.Fatalf("missing video patch: %d %v", res.code, res.body)
	}
}

func TestVideoUploadValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	fields := map[string]string{"title": "Clip", "datetime": "2024-05-01"}

	res := env.multipart(http.MethodPost, "/api/videos", env.adminToken, fields, nil)
	if res.code != http.StatusBadRequest || res.body["message"] != "Video file is required" {
		t.Fatalf("missing file: %d %v", res.code, res.body)
	}
	res = env.multipart(http.MethodPost, "/api/videos", env.adminToken, fields, &filePart{name: "a.txt", contentType: "text/plain", data: "x"})
	if res.code != http.StatusBadRequest {
		t.Fatalf("wrong type: %d %v", res.code, res.body)
	}
	bad := map[string]string{"title": "Clip", "datetime": "yesterday"}
	res = env.multipart(http.MethodPost, "/api/videos", env.adminToken, bad, &filePart{name: "a.mp4", contentType: "video/mp4", data: "x"})
	if res.code != http.StatusBadRequest || res.body["errors"] == nil {
		t.Fatalf("bad datetime: %d %v", res.code, res.body)
	}
	ghost := map[string]string{"title": "Clip", "datetime": "2024-05-01", "relatedPeople": `["ghost"]`}
	res = env.multipart(http.MethodPost, "/api/videos", env.adminToken, ghost, &filePart{name: "a.mp4", contentType: "video/mp4", data: "x"})
	if res.code != http.StatusBadRequest {
		t.Fatalf("unknown person: %d %v", res.code, res.body)
	}
	res = env.do(http.MethodPost, "/api/videos", env.adminToken, map[string]string{"title": "json"})
	if res.code != http.StatusBadRequest {
		t.Fatalf("non-multipart body: %d %v", res.code, res.body)
	}
}

func TestVideoUploadRejectsRefsWithoutID(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.createPerson("Alice")
	for _, tc := range []struct{ field, value string }{
		{"relatedPeople", fmt.Sprintf(`[%q, {"name":"Bob"}]`, alice)},
		{"relatedPeople", `[{"person":{"name":"Bob"}}]`},
		{"relatedPeople", `[" "]`},
		{"channels", `[{"channel":""}]`},
	} {
		fields := map[string]string{"title": "Clip", "datetime": "2024-05-01", tc.field: tc.value}
		res := env.multipart(http.MethodPost, "/api/videos", env.adminToken, fields, &filePart{name: "a.mp4", contentType: "video/mp4", data: "x"})
		if res.code != http.StatusBadRequest || res.body["errors"] == nil {
			t.Fatalf("%s=%s: %d %v", tc.field, tc.value, res.code, res.body)
		}
		errs := res.body["errors"].([]any)
		if errs[0].(map[string]any)["field"] != tc.field {
			t.Fatalf("%s=%s: unexpected errors %v", tc.field, tc.value, errs)
		}
	}
	res := env.do(http.MethodGet, "/api/videos", env.userToken, nil)
	if res.body["total"] != float64(0) {
		t.Fatalf("rejected uploads must not be stored: %v", res.body)
	}
}

func TestVideoSearchEnvelope(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.createPerson("Alice")
	env.createVideo("First", "2024-01-10T00:00:00Z", fmt.Sprintf(`[{"person":%q,"name":"ignored"}]`, alice))
	env.createVideo("Second", "2024-02-10T00:00:00Z", fmt.Sprintf(`[%q]`, alice))
	env.createVideo("Third", "2024-03-10T00:00:00Z", "[]")

	res := env.do(http.MethodGet, "/api/videos/search?people="+alice+"&limit=1&page=2", env.userToken, nil)
	if res.code != http.StatusOK {
		t.Fatalf("search: %d %v", res.code, res.body)
	}
	for key, want := range map[string]float64{"total": 2, "totalPages": 2, "currentPage": 2, "limit": 1, "results": 1} {
		if res.body[key] != want {
			t.Fatalf("%s = %v, want %v (body %v)", key, res.body[key], want, res.body)
		}
	}
	data := res.body["data"].([]any)
	video := data[0].(map[string]any)
	if video["title"] != "First" {
		t.Fatalf("page 2 should hold the older video, got %v", video["title"])
	}
	people := video["relatedPeople"].([]any)
	link := people[0].(map[string]any)
	if link["id"] != alice || link["name"] != "Alice" || link["person"].(map[string]any)["name"] != "Alice" {
		t.Fatalf("unexpected resolved person %v", link)
	}

	res = env.do(http.MethodGet, "/api/videos/search?keywords=protest,march&query=a.b*c", env.userToken, nil)
	if res.code != http.StatusOK || res.body["total"] != float64(0) {
		t.Fatalf("literal query should match nothing: %d %v", res.code, res.body)
	}
	res = env.do(http.MethodGet, "/api/videos/search?keywords=protest,march", env.userToken, nil)
	if res.body["total"] != float64(3) {
		t.Fatalf("keyword search total = %v", res.body["total"])
	}
}

func TestHugePageNumberReturnsEmptyPage(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.createPerson("Alice")
	env.createVideo("Only", "2024-01-10T00:00:00Z", "[]")

	for _, path := range []string{
		"/api/videos/search?page=1000000000000000000",
		"/api/videos?page=1000000000000000000",
		"/api/persons?page=1000000000000000000",
	} {
		res := env.do(http.MethodGet, path, env.userToken, nil)
		if res.code != http.StatusOK {
			t.Fatalf("%s: %d %v", path, res.code, res.body)
		}
		if res.body["results"] != float64(0) || res.body["total"] != float64(1) {
			t.Fatalf("%s: expected empty page over total 1, got %v", path, res.body)
		}
	}
}

func TestVideoSearchMalformedDate(t *testing.T) {
	env := newTestEnv(t, Config{})
	res := env.do(http.MethodGet, "/api/videos/search?startDate=not-a-date", env.userToken, nil)
	if res.code != http.StatusInternalServerError {
		t.Fatalf("status = %d", res.code)
	}
	if res.body["status"] != "error" || res.body["message"] != "Error performing search" || res.body["details"] == nil {
		t.Fatalf("unexpected body %v", res.body)
	}
	res = env.do(http.MethodGet, "/api/videos/search?sort=-views", env.userToken, nil)
	if res.code != http.StatusBadRequest {
		t.Fatalf("invalid sort status = %d", res.code)
	}
}

func TestSearchAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.createPerson("Alice")
	for i := 1; i <= 3; i++ {
		env.createVideo(fmt.Sprintf("v%d", i), fmt.Sprintf("2024-0%d-15T12:00:00Z", i), fmt.Sprintf(`[%q]`, alice))
	}
	res := env.do(http.MethodGet, "/api/videos/search/analytics?scope=all&tz=Europe/Berlin", env.userToken, nil)
	if res.code != http.StatusOK {
		t.Fatalf("analytics: %d %v", res.code, res.body)
	}
	data := res.body["data"].(map[string]any)
	if data["scope"] != "all" || data["truncated"] != false {
		t.Fatalf("unexpected scope %v", data)
	}
	months := data["months"].([]any)
	if len(months) != 3 || months[0].(map[string]any)["date"] != "Jan 2024" {
		t.Fatalf("months = %v", months)
	}
	people := data["people"].([]any)
	if people[0].(map[string]any)["name"] != "Alice" || people[0].(map[string]any)["value"] != float64(3) {
		t.Fatalf("people = %v", people)
	}
	if res := env.do(http.MethodGet, "/api/videos/search/analytics?scope=everything", env.userToken, nil); res.code != http.StatusBadRequest {
		t.Fatalf("bad scope status = %d", res.code)
	}
	if res := env.do(http.MethodGet, "/api/videos/search/analytics?tz=Mars/Base", env.userToken, nil); res.code != http.StatusBadRequest {
		t.Fatalf("bad tz status = %d", res.code)
	}
}

func TestDeletePersonReferencedByVideo(t *testing.T) {
	env := newTestEnv(t, Config{})
	referenced := env.createPerson("Alice")
	free := env.createPerson("Bob")
	env.createVideo("Clip", "2024-05-01", fmt.Sprintf(`[%q]`, referenced))

	res := env.do(http.MethodDelete, "/api/persons/"+referenced, env.adminToken, nil)
	if res.code != http.StatusBadRequest || res.body["message"] != "Cannot delete person: Referenced in videos" {
		t.Fatalf("referenced delete: %d %v", res.code, res.body)
	}
	if res := env.do(http.MethodDelete, "/api/persons/"+free, env.userToken, nil); res.code != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d", res.code)
	}
	if res := env.do(http.MethodDelete, "/api/persons/"+free, env.adminToken, nil); res.code != http.StatusOK {
		t.Fatalf("unreferenced delete: %d %v", res.code, res.body)
	}
	if res := env.do(http.MethodGet, "/api/persons/"+free, env.userToken, nil); res.code != http.StatusNotFound {
		t.Fatalf("deleted person status = %d", res.code)
	}
}

func TestPersonAndChannelCRUD(t *testing.T) {
	env := newTestEnv(t, Config{})
	res := env.do(http.MethodPost, "/api/persons", env.adminToken, map[string]any{"occupation": []string{"Reporter"}})
	if res.code != http.StatusBadRequest || res.body["errors"] == nil {
		t.Fatalf("missing name: %d %v", res.code, res.body)
	}
	id := env.createPerson("Marie")
	res = env.do(http.MethodPatch, "/api/persons/"+id, env.adminToken, map[string]any{"aliases": []string{"Curie"}})
	if res.code != http.StatusOK {
		t.Fatalf("patch person: %d %v", res.code, res.body)
	}
	res = env.do(http.MethodGet, "/api/persons/search?query=curie", env.userToken, nil)
	if res.code != http.StatusOK || res.body["results"] != float64(1) {
		t.Fatalf("person search: %d %v", res.code, res.body)
	}

	res = env.do(http.MethodPost, "/api/channels", env.adminToken, map[string]any{"name": "News"})
	if res.code != http.StatusCreated {
		t.Fatalf("create channel: %d %v", res.code, res.body)
	}
	channelID := res.body["data"].(map[string]any)["id"].(string)
	res = env.do(http.MethodGet, "/api/channels?sort=-name", env.userToken, nil)
	if res.code != http.StatusOK || res.body["total"] != float64(1) {
		t.Fatalf("list channels: %d %v", res.code, res.body)
	}
	res = env.do(http.MethodGet, "/api/channels/search?query=NEW", env.userToken, nil)
	if res.code != http.StatusOK || res.body["results"] != float64(1) {
		t.Fatalf("channel search: %d %v", res.code, res.body)
	}
	if res := env.do(http.MethodDelete, "/api/channels/"+channelID, env.adminToken, nil); res.code != http.StatusOK {
		t.Fatalf("delete channel: %d", res.code)
	}
	if res := env.do(http.MethodGet, "/api/channels/"+channelID, env.userToken, nil); res.code != http.StatusNotFound {
		t.Fatalf("deleted channel status = %d", res.code)
	}
}

func TestDownloadAndDeleteVideo(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.createVideo("Clip", "2024-05-01", "")
	res := env.do(http.MethodGet, "/api/videos/"+id+"/download", env.userToken, nil)
	if res.code != http.StatusOK {
		t.Fatalf("download: %d %v", res.code, res.body)
	}
	url := res.body["data"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "http://media.test/videos/"+id+"/clip.mp4") {
		t.Fatalf("download url = %q", url)
	}
	if res := env.do(http.MethodDelete, "/api/videos/"+id, env.adminToken, nil); res.code != http.StatusOK {
		t.Fatalf("delete video: %d", res.code)
	}
	if res := env.do(http.MethodGet, "/api/videos/"+id, env.userToken, nil); res.code != http.StatusNotFound {
		t.Fatalf("deleted video status = %d", res.code)
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t, Config{})
	res := env.do(http.MethodGet, "/api/nope", "", nil)
	if res.code != http.StatusNotFound || res.body["status"] != "fail" {
		t.Fatalf("unknown route: %d %v", res.code, res.body)
	}
	if res := env.do(http.MethodGet, "/healthz", "", nil); res.code != http.StatusOK || res.body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", res.code, res.body)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env := newTestEnv(t, Config{
		Redis:                      client,
		Alerter:                    security.NewAuditAlerter(client, "test:alerts"),
		LoginRateLimitPerMinute:    1,
		RegisterRateLimitPerMinute: 10,
	})

	body := map[string]string{"email": "viewer@example.com", "password": testPassword}
	if res := env.do(http.MethodPost, "/api/auth/login", "", body); res.code != http.StatusOK {
		t.Fatalf("first login: %d %v", res.code, res.body)
	}
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/auth/login", strings.NewReader(`{"email":"viewer@example.com","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	env := newTestEnv(t, Config{MetricsEnabled: true})
	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	off := newTestEnv(t, Config{})
	if res := off.do(http.MethodGet, "/metrics", "", nil); res.code != http.StatusNotFound {
		t.Fatalf("metrics should be off by default, got %d", res.code)
	}
}
