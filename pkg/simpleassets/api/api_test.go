package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/repo/memory"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/memory"
)

type testServer struct {
	router  chi.Router
	service simpleassets.Service
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	service, err := simpleassets.New(
		simpleassets.WithRepository(memory.New()),
		simpleassets.WithChunkStore(memorystorage.New()),
		simpleassets.WithHasher(simpleassets.NewBcryptHasher(4)),
		simpleassets.WithChunkSize(8),
		simpleassets.WithTokenConfig(simpleassets.TokenConfig{
			SigningKey: []byte("api-test-signing-key-0123456789abcdef"),
			Issuer:     "api-test",
			Audience:   "api-test-clients",
		}),
	)
	require.NoError(t, err)

	if opts.LoginRatePerMinute == 0 {
		opts.LoginRatePerMinute = 1000
		opts.LoginRateBurst = 1000
	}
	return &testServer{router: NewRouter(service, opts), service: service}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withToken(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// userToken registers an account with the User role and logs it in
func (s *testServer) userToken(t *testing.T, username string) string {
	t.Helper()
	rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/register", simpleassets.RegisterRequest{
		Username: username, Email: username + "@example.com", Password: "pass-word!",
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return s.login(t, username, "pass-word!")
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	_, err := s.service.RegisterAdmin(context.Background(), simpleassets.RegisterRequest{
		Username: "admin", Email: "admin@example.com", Password: "adm1n-pass!",
	})
	require.NoError(t, err)
	return s.login(t, "admin", "adm1n-pass!")
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/login", simpleassets.LoginRequest{Username: username, Password: password}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp LoginResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.Error
}

func uploadRequest(t *testing.T, token, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/assets/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		withToken(req, token)
	}
	return req
}

func descriptiveFields() map[string]string {
	return map[string]string{
		"info":    "Open day",
		"address": "Piazza Duomo",
		"date":    "2024-05-01",
		"title":   "Open day at the shelter",
	}
}

func (s *testServer) upload(t *testing.T, token string, content []byte) string {
	t.Helper()
	rr := s.do(t, uploadRequest(t, token, "photo.png", content, descriptiveFields()))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp.ID
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")

	claims, err := s.service.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "anna", claims.Subject)
	assert.Equal(t, []string{simpleassets.RoleUser}, claims.Roles)

	t.Run("duplicate registration", func(t *testing.T) {
		rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/register", simpleassets.RegisterRequest{
			Username: "anna", Email: "other@example.com", Password: "pass-word!",
		}))
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Contains(t, rr.Body.String(), "User already exists")
	})

	t.Run("weak password", func(t *testing.T) {
		rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/register", simpleassets.RegisterRequest{
			Username: "bob", Email: "bob@example.com", Password: "short",
		}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password", decodeError(t, rr).Field)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
		rr := s.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuth_FailuresAreIndistinguishable(t *testing.T) {
	s := setupTestServer(t, Options{})
	s.userToken(t, "anna")

	attempt := func(username, password string) (int, ErrorBody) {
		rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/login", simpleassets.LoginRequest{Username: username, Password: password}))
		return rr.Code, decodeError(t, rr)
	}

	unknownStatus, unknownBody := attempt("nobody", "pass-word!")
	wrongStatus, wrongBody := attempt("anna", "wrong")
	for i := 0; i < simpleassets.DefaultLockoutThreshold; i++ {
		attempt("anna", "wrong")
	}
	lockedStatus, lockedBody := attempt("anna", "pass-word!")

	for _, status := range []int{unknownStatus, wrongStatus, lockedStatus} {
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	for _, body := range []ErrorBody{wrongBody, lockedBody} {
		assert.Equal(t, unknownBody.Code, body.Code)
		assert.Equal(t, unknownBody.Message, body.Message)
	}
}

func TestAssets_MutationsRequireAuthentication(t *testing.T) {
	s := setupTestServer(t, Options{})

	rr := s.do(t, uploadRequest(t, "", "a.txt", []byte("data"), descriptiveFields()))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, uploadRequest(t, "not-a-token", "a.txt", []byte("data"), descriptiveFields()))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, "/assets/"+"00000000-0000-0000-0000-000000000000", nil)
	rr = s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAssets_UploadDownloadRoundTrip(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")
	content := []byte("a payload that spans several eight byte chunks")

	id := s.upload(t, token, content)

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/assets/download/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, content, rr.Body.Bytes())
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=photo.png`, rr.Header().Get("Content-Disposition"))

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/assets/download/not-an-id", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/assets/download/00000000-0000-0000-0000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAssets_UploadValidation(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")

	tests := []struct {
		name      string
		filename  string
		content   []byte
		fields    map[string]string
		wantField string
	}{
		{"missing file", "", nil, descriptiveFields(), "file"},
		{"empty file", "empty.txt", []byte{}, descriptiveFields(), "file"},
		{"missing required field", "a.txt", []byte("data"), map[string]string{"info": "i", "date": "d", "title": "t"}, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, uploadRequest(t, token, tt.filename, tt.content, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantField, decodeError(t, rr).Field)
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		req := withToken(jsonRequest(t, http.MethodPost, "/assets/upload", map[string]string{}), token)
		rr := s.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAssets_ListRendersAbsentFieldsAsNull(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")
	id := s.upload(t, token, []byte("content"))

	rr := s.do(t, httptest.NewRequest(http.MethodGet, "/assets", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)

	item := list[0]
	assert.Equal(t, id, item["id"])
	assert.Equal(t, "photo.png", item["filename"])
	assert.Equal(t, "application/octet-stream", item["contentType"])
	assert.Equal(t, float64(len("content")), item["length"])
	assert.Equal(t, "Open day", item["info"])
	assert.Contains(t, item, "author")
	assert.Nil(t, item["author"])
	assert.Contains(t, item, "link")
	assert.Nil(t, item["link"])
	_, err := time.Parse(time.RFC3339, item["uploadTime"].(string))
	assert.NoError(t, err)
}

func TestAssets_UpdateMetadata(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")
	id := s.upload(t, token, []byte("content"))

	form := url.Values{"title": {"New title"}, "author": {"Luca"}, "info": {""}}
	req := httptest.NewRequest(http.MethodPut, "/assets/"+id, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := s.do(t, withToken(req, token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var item map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&item))
	assert.Equal(t, "New title", item["title"])
	assert.Equal(t, "Luca", item["author"])
	assert.Equal(t, "Open day", item["info"])
	assert.Equal(t, "Piazza Duomo", item["address"])

	t.Run("unknown field", func(t *testing.T) {
		form := url.Values{"colour": {"blue"}}
		req := httptest.NewRequest(http.MethodPut, "/assets/"+id, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := s.do(t, withToken(req, token))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "colour", decodeError(t, rr).Field)
	})

	t.Run("unknown asset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/assets/00000000-0000-0000-0000-000000000000", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := s.do(t, withToken(req, token))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAssets_Delete(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.userToken(t, "anna")
	id := s.upload(t, token, []byte("content"))

	rr := s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/assets/"+id, nil), token))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/assets/download/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/assets/"+id, nil), token))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFeedback_Roles(t *testing.T) {
	s := setupTestServer(t, Options{})
	userToken := s.userToken(t, "anna")
	adminToken := s.adminToken(t)

	rr := s.do(t, jsonRequest(t, http.MethodPost, "/feedback", simpleassets.CreateFeedbackRequest{
		Name: "Visitor", Email: "v@example.com", Message: "Lovely place",
	}))
	require.Equal(t, http.StatusCreated, rr.Code)
	var fb simpleassets.Feedback
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&fb))

	rr = s.do(t, jsonRequest(t, http.MethodPost, "/feedback", simpleassets.CreateFeedbackRequest{Name: "Visitor"}))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/feedback", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/feedback", nil), userToken))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, withToken(httptest.NewRequest(http.MethodGet, "/feedback", nil), adminToken))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []simpleassets.Feedback
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "Lovely place", list[0].Message)

	rr = s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/feedback/"+fb.ID.String(), nil), adminToken))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestServices_CRUD(t *testing.T) {
	s := setupTestServer(t, Options{})
	userToken := s.userToken(t, "anna")
	adminToken := s.adminToken(t)
	req := simpleassets.ServiceDescriptorRequest{Title: "Adoption", Description: "Find a friend", Icon: "paw"}

	rr := s.do(t, withToken(jsonRequest(t, http.MethodPost, "/services", req), userToken))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, withToken(jsonRequest(t, http.MethodPost, "/services", req), adminToken))
	require.Equal(t, http.StatusCreated, rr.Code)
	var sd simpleassets.ServiceDescriptor
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sd))

	req.Description = "Find a new friend"
	rr = s.do(t, withToken(jsonRequest(t, http.MethodPut, "/services/"+sd.ID.String(), req), adminToken))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/services/"+sd.ID.String(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&sd))
	assert.Equal(t, "Find a new friend", sd.Description)

	rr = s.do(t, withToken(httptest.NewRequest(http.MethodDelete, "/services/"+sd.ID.String(), nil), adminToken))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, httptest.NewRequest(http.MethodGet, "/services/"+sd.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimiter_ThrottlesLogin(t *testing.T) {
	s := setupTestServer(t, Options{LoginRatePerMinute: 1, LoginRateBurst: 2})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := s.do(t, jsonRequest(t, http.MethodPost, "/auth/login", simpleassets.LoginRequest{Username: "x", Password: "y"}))
		statuses = append(statuses, rr.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, statuses)

	// Another client keeps its own bucket
	req := jsonRequest(t, http.MethodPost, "/auth/login", simpleassets.LoginRequest{Username: "x", Password: "y"})
	req.RemoteAddr = "203.0.113.7:4321"
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)
}

func TestRecoverer(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Recoverer(nil))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "internal_error")
}

func TestCORSPreflight(t *testing.T) {
	s := setupTestServer(t, Options{CORSAllowedOrigins: []string{"https://shelter.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/assets", nil)
	req.Header.Set("Origin", "https://shelter.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := s.do(t, req)

	assert.Equal(t, "https://shelter.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
