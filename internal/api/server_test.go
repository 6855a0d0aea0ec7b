package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-engine/entity-core/internal/adapter"
	"github.com/cortex-engine/entity-core/internal/entity"
	"github.com/cortex-engine/entity-core/internal/registry"
	"github.com/cortex-engine/entity-core/pkg/types"
)

type apiFixture struct {
	server *Server
	mock   sqlmock.Sqlmock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	store, err := entity.NewStore(sqlx.NewDb(mockDB, "postgres"))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("note", nil, adapter.NewMarkdownAdapter(nil), nil))

	svc, err := entity.NewService(store, reg, nil)
	require.NoError(t, err)

	server, err := New(Config{Version: "test"}, svc, reg, nil)
	require.NoError(t, err)
	server.SetReady(true)
	return &apiFixture{server: server, mock: mock}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func entityRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "entity_type", "content", "content_hash",
		"metadata", "created", "updated"})
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestReadyzDrain(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.server.SetReady(false)
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListTypes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/types", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Types []string `json:"types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"note"}, resp.Types)
}

func TestCreateEntityEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(t, http.MethodPost, "/v1/entities", map[string]any{
		"id":         "note-1",
		"entityType": "note",
		"content":    "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result entity.WriteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "note-1", result.EntityID)
	assert.True(t, result.Created)
}

func TestCreateEntityValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/entities", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/entities", map[string]any{
		"entityType": "unregistered",
		"content":    "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_type")
}

func TestGetEntityEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WithArgs("note-1", "note").
		WillReturnRows(entityRows().AddRow(
			"note-1", "note", "hello", types.HashContent("hello"),
			[]byte(`{}`), int64(1), int64(2)))

	rec := f.do(t, http.MethodGet, "/v1/entities/note/note-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var e types.Entity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "note-1", e.ID)
	assert.Equal(t, "hello", e.Content)
}

func TestGetEntityNotFound(t *testing.T) {
	f := newAPIFixture(t)

	f.mock.ExpectQuery("SELECT id, entity_type, content").
		WillReturnError(sql.ErrNoRows)

	rec := f.do(t, http.MethodGet, "/v1/entities/note/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestDeleteEntityEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.mock.ExpectExec("DELETE FROM entities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rec := f.do(t, http.MethodDelete, "/v1/entities/note/note-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.mock.ExpectExec("DELETE FROM entities").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rec = f.do(t, http.MethodDelete, "/v1/entities/note/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelatedWithoutMirror(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/entities/note/note-1/related", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{types.ErrNotFound, http.StatusNotFound, "not_found"},
		{types.ErrDuplicate, http.StatusConflict, "duplicate"},
		{types.ErrUnknownType, http.StatusBadRequest, "unknown_type"},
		{types.ErrAlreadyRegistered, http.StatusConflict, "already_registered"},
		{types.ErrInvalidJobData, http.StatusBadRequest, "invalid_job_data"},
		{types.ErrSerialization, http.StatusUnprocessableEntity, "serialization_error"},
		{&types.ValidationError{Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{assert.AnError, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range tests {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, code)
	}
}

func TestListOptionsFromQuery(t *testing.T) {
	q, err := url.ParseQuery("limit=25&offset=10&publishedOnly=true&sort=created:desc,title&meta.status=draft&meta.author.name=ada")
	require.NoError(t, err)

	opts := listOptionsFromQuery(q)
	assert.Equal(t, 25, opts.Limit)
	assert.Equal(t, 10, opts.Offset)
	assert.True(t, opts.PublishedOnly)
	assert.Equal(t, []entity.SortField{
		{Field: "created", Desc: true},
		{Field: "title", Desc: false},
	}, opts.SortFields)
	assert.Equal(t, map[string]any{
		"status":      "draft",
		"author.name": "ada",
	}, opts.MetadataFilters)
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newAPIFixture(t)
	f.server.router.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	})

	rec := f.do(t, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

