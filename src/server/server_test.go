package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	app "newsthumb/src/app"
	cfg "newsthumb/src/configuration"
	"newsthumb/src/external"
	"newsthumb/src/imaging"
	db "newsthumb/src/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goodCode = "good-code"
	testHost = "news.test"
)

var testNow = time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC)

type fakeIdentity struct {
	mu        sync.Mutex
	redirects []string
}

func (f *fakeIdentity) AuthCodeURL(state, redirectURL string) string {
	f.mu.Lock()
	f.redirects = append(f.redirects, redirectURL)
	f.mu.Unlock()
	return "https://idp.test/auth?" + url.Values{"state": {state}, "redirect_uri": {redirectURL}}.Encode()
}

func (f *fakeIdentity) Exchange(_ context.Context, code, _ string) (*app.User, error) {
	if code != goodCode {
		return nil, errors.New("invalid_grant")
	}
	return &app.User{Subject: "1001", Email: "ada@example.com", Name: "Ada Lovelace", Issuer: "https://accounts.google.com"}, nil
}

type fakeCaptioner struct {
	mu      sync.Mutex
	caption string
	refs    [][]string
}

func (f *fakeCaptioner) Caption(_ context.Context, refs []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, refs)
	return f.caption
}

type testEnv struct {
	t         *testing.T
	router    *gin.Engine
	layout    *app.Layout
	captioner *fakeCaptioner
	cookies   map[string]*http.Cookie
}

func newTestEnv(t *testing.T, identity IdentityProvider) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := &cfg.Properties{
		Timezone: "Asia/Kolkata",
		Session:  cfg.SessionProperties{Name: "google-login-session", MaxAge: 3600},
		Server:   cfg.HttpServerProperties{MaxUploadMB: 8},
		Auth:     cfg.AuthProperties{ReadTimeout: time.Second},
	}
	layout, err := app.NewLayout(t.TempDir())
	require.NoError(t, err)
	store, sessions := db.NewCookieStore(config, []byte("0123456789abcdef0123456789abcdef"))
	captioner := &fakeCaptioner{caption: external.FallbackCaption}

	router := NewRouter(Dependencies{
		Config:    config,
		Store:     store,
		Sessions:  sessions,
		Layout:    layout,
		Identity:  identity,
		Captioner: captioner,
		Renderer:  imaging.NewRenderer(""),
		Now:       func() time.Time { return testNow },
	})
	router.GET("/_state", func(c *gin.Context) {
		state, err := store.Load(c)
		require.NoError(t, err)
		c.JSON(http.StatusOK, state)
	})

	return &testEnv{t: t, router: router, layout: layout, captioner: captioner, cookies: map[string]*http.Cookie{}}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	req.Host = testHost
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		e.cookies[c.Name] = c
	}
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) post(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodPost, path, nil))
}

func (e *testEnv) state() app.State {
	w := e.get("/_state")
	require.Equal(e.t, http.StatusOK, w.Code)
	var state app.State
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &state))
	return state
}

// page renders / and returns its body, consuming pending flashes.
func (e *testEnv) page() string {
	w := e.get("/")
	require.Equal(e.t, http.StatusOK, w.Code)
	return w.Body.String()
}

func (e *testEnv) signIn() {
	w := e.get("/login")
	require.Equal(e.t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(e.t, err)
	state := location.Query().Get("state")
	require.NotEmpty(e.t, state)

	w = e.get("/authorize?" + url.Values{"code": {goodCode}, "state": {state}}.Encode())
	require.Equal(e.t, http.StatusFound, w.Code)
	require.NotNil(e.t, e.state().User)
}

type upload struct {
	name string
	data []byte
}

func (e *testEnv) upload(files ...upload) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		part, err := mw.CreateFormFile(imagesFormField, f.name)
		require.NoError(e.t, err)
		_, err = part.Write(f.data)
		require.NoError(e.t, err)
	}
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func encoded(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	case "gif":
		require.NoError(t, gif.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func threeImages(t *testing.T) []upload {
	return []upload{
		{"a.png", encoded(t, "png", 256, 128)},
		{"b.jpg", encoded(t, "jpg", 100, 300)},
		{"c.gif", encoded(t, "gif", 60, 40)},
	}
}

func TestHealthAndNoRoute(t *testing.T) {
	env := newTestEnv(t, &fakeIdentity{})

	w := env.get("/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	w = env.get("/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestPage(t *testing.T) {
	env := newTestEnv(t, &fakeIdentity{})

	body := env.page()
	assert.Contains(t, body, "2024-03-01 12:00:00", "time is shown in Asia/Kolkata")
	assert.Contains(t, body, `href="/login"`)

	env.signIn()
	body = env.page()
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "ada@example.com")
	assert.Contains(t, body, `href="/logout"`)
}

func TestAuth(t *testing.T) {
	t.Run("login redirects with a callback built from the request", func(t *testing.T) {
		identity := &fakeIdentity{}
		env := newTestEnv(t, identity)

		w := env.get("/login")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "https://idp.test/auth?")
		assert.Equal(t, []string{"http://" + testHost + "/authorize"}, identity.redirects)
		assert.NotEmpty(t, env.state().OAuthState)
	})

	t.Run("successful authorization stores the identity", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		state := env.state()
		assert.Equal(t, "1001", state.User.Subject)
		assert.Equal(t, "https://accounts.google.com", state.User.Issuer)
		assert.Empty(t, state.OAuthState)
	})

	t.Run("state mismatch is rejected", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.get("/login")

		w := env.get("/authorize?code=" + goodCode + "&state=forged")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Nil(t, env.state().User)
		assert.Contains(t, env.page(), msgAuthFailed)
	})

	t.Run("callback without a login is rejected", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.get("/authorize?code=" + goodCode + "&state=")
		assert.Nil(t, env.state().User)
	})

	t.Run("failed exchange is rejected", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		w := env.get("/login")
		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)

		env.get("/authorize?" + url.Values{"code": {"expired"}, "state": {location.Query().Get("state")}}.Encode())
		assert.Nil(t, env.state().User)
		assert.Contains(t, env.page(), msgAuthFailed)
	})

	t.Run("provider errors are rejected", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.get("/login")
		env.get("/authorize?error=access_denied")
		assert.Nil(t, env.state().User)
	})

	t.Run("unavailable provider", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.get("/login")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, homeRoute, w.Header().Get("Location"))
		assert.Contains(t, env.page(), msgAuthDown)
	})
}

func TestCheckIssuer(t *testing.T) {
	allowed := []string{"https://accounts.google.com", "accounts.google.com"}
	assert.NoError(t, checkIssuer("https://accounts.google.com", allowed))
	assert.NoError(t, checkIssuer("accounts.google.com", allowed))
	assert.ErrorIs(t, checkIssuer("https://evil.example.com", allowed), errIssuerNotAllowed)
	assert.ErrorIs(t, checkIssuer("", allowed), errIssuerNotAllowed)
}

func TestUpload(t *testing.T) {
	t.Run("requires sign-in", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		w := env.upload(threeImages(t)...)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Empty(t, env.state().Images)
		assert.Contains(t, env.page(), msgSignInFirst)
	})

	t.Run("no files", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()
		env.upload()
		assert.Empty(t, env.state().Images)
		assert.Contains(t, env.page(), msgNoFiles)
	})

	t.Run("more than five files leaves the set unchanged", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()
		env.upload(threeImages(t)...)
		before := env.state().Images
		require.Len(t, before, 3)

		six := make([]upload, 0, 6)
		for i := 0; i < 6; i++ {
			six = append(six, upload{name: string(rune('a'+i)) + ".png", data: encoded(t, "png", 10, 10)})
		}
		env.upload(six...)

		assert.Equal(t, before, env.state().Images)
		assert.Contains(t, env.page(), msgTooMany)
	})

	t.Run("accepted files keep their order and get thumbnails", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		files := append(threeImages(t), upload{"notes.txt", []byte("not an image")})
		w := env.upload(files...)
		assert.Equal(t, http.StatusFound, w.Code)

		state := env.state()
		require.Len(t, state.Images, 3)
		for i, name := range []string{"a.png", "b.jpg", "c.gif"} {
			assert.Equal(t, "/static/uploads/thumbnails/"+state.Workspace+"/"+name, state.Images[i])
		}
		assert.Contains(t, env.page(), "Uploaded and processed 3 images")

		wantSizes := []image.Point{{128, 64}, {43, 128}, {60, 40}}
		for i, u := range state.Images {
			path, err := env.layout.PathFor(u)
			require.NoError(t, err)
			img, err := imaging.Load(path)
			require.NoError(t, err)
			assert.Equal(t, wantSizes[i], img.Bounds().Size(), u)

			served := env.get(u)
			assert.Equal(t, http.StatusOK, served.Code, u)
		}
		assert.FileExists(t, env.layout.OriginalPath(state.Workspace, "a.png"))
		assert.NoFileExists(t, env.layout.OriginalPath(state.Workspace, "notes.txt"))
	})

	t.Run("unsafe names are sanitized and undecodable files skipped", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		env.upload(
			upload{"../../escape.png", encoded(t, "png", 20, 20)},
			upload{"broken.jpg", []byte("not really a jpeg")},
			upload{"Holiday Photo.PNG", encoded(t, "png", 20, 20)},
		)

		state := env.state()
		require.Len(t, state.Images, 2)
		assert.Equal(t, "/static/uploads/thumbnails/"+state.Workspace+"/escape.png", state.Images[0])
		assert.Equal(t, "/static/uploads/thumbnails/"+state.Workspace+"/Holiday_Photo.PNG", state.Images[1])
		assert.Contains(t, env.page(), "Uploaded and processed 2 images")
	})

	t.Run("names without an ascii stem are kept under a generated name", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		env.upload(
			upload{"фото.jpg", encoded(t, "jpg", 20, 20)},
			upload{"a.png", encoded(t, "png", 20, 20)},
		)

		state := env.state()
		require.Len(t, state.Images, 2)
		assert.Equal(t, "/static/uploads/thumbnails/"+state.Workspace+"/image_0.jpg", state.Images[0])
		assert.Equal(t, "/static/uploads/thumbnails/"+state.Workspace+"/a.png", state.Images[1])
	})

	t.Run("duplicate names do not overwrite earlier files", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		env.upload(
			upload{"2_a.png", encoded(t, "png", 10, 10)},
			upload{"a.png", encoded(t, "png", 20, 20)},
			upload{"a.png", encoded(t, "png", 30, 30)},
		)

		state := env.state()
		require.Len(t, state.Images, 3)
		assert.NotEqual(t, state.Images[0], state.Images[2])

		wantSizes := []image.Point{{10, 10}, {20, 20}, {30, 30}}
		for i, u := range state.Images {
			path, err := env.layout.PathFor(u)
			require.NoError(t, err)
			img, err := imaging.Load(path)
			require.NoError(t, err)
			assert.Equal(t, wantSizes[i], img.Bounds().Size(), u)
		}
	})
}

func TestGenerate(t *testing.T) {
	t.Run("empty image set writes nothing", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()

		w := env.post("/generate_thumbnail")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Empty(t, env.state().Composite)
		assert.Empty(t, env.captioner.refs)
		assert.Contains(t, env.page(), msgUploadFirst)
	})

	t.Run("requires sign-in", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.post("/generate_thumbnail")
		assert.Contains(t, env.page(), msgSignInFirst)
	})

	t.Run("composite of the uploaded thumbnails", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()
		env.upload(threeImages(t)...)
		env.page()

		w := env.post("/generate_thumbnail")
		assert.Equal(t, http.StatusFound, w.Code)

		state := env.state()
		require.NotEmpty(t, state.Composite)
		assert.Equal(t, "/static/generated/"+state.Workspace+"/news_thumbnail.jpg?v=1709274600", state.Composite)
		assert.Contains(t, env.page(), msgGenerated)

		require.Len(t, env.captioner.refs, 1)
		for i, ref := range env.captioner.refs[0] {
			assert.Equal(t, "http://"+testHost+state.Images[i], ref)
		}

		path, err := env.layout.PathFor(state.Composite)
		require.NoError(t, err)
		img, err := imaging.Load(path)
		require.NoError(t, err)
		assert.Equal(t, 128+43+60, img.Bounds().Dx())
		assert.Equal(t, 128+imaging.HeaderHeight, img.Bounds().Dy())

		served := env.get(state.Composite)
		assert.Equal(t, http.StatusOK, served.Code)
		assert.Equal(t, "image/jpeg", served.Header().Get("Content-Type"))
	})

	t.Run("new upload clears the composite", func(t *testing.T) {
		env := newTestEnv(t, &fakeIdentity{})
		env.signIn()
		env.upload(threeImages(t)...)
		env.post("/generate_thumbnail")
		state := env.state()
		require.NotEmpty(t, state.Composite)
		composite, err := env.layout.PathFor(state.Composite)
		require.NoError(t, err)

		env.upload(upload{"d.png", encoded(t, "png", 30, 30)})

		state = env.state()
		assert.Empty(t, state.Composite)
		assert.Len(t, state.Images, 1)
		assert.NoFileExists(t, composite)
	})

	t.Run("each session renders into its own workspace", func(t *testing.T) {
		first := newTestEnv(t, &fakeIdentity{})
		first.signIn()
		first.upload(threeImages(t)...)
		firstWs := first.state().Workspace

		first.cookies = map[string]*http.Cookie{}
		first.signIn()
		first.upload(upload{"z.png", encoded(t, "png", 10, 10)})
		assert.NotEqual(t, firstWs, first.state().Workspace)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, &fakeIdentity{})
	env.signIn()
	env.upload(threeImages(t)...)
	env.post("/generate_thumbnail")
	before := env.state()
	require.NotNil(t, before.User)
	require.NotEmpty(t, before.Images)
	require.NotEmpty(t, before.Composite)

	w := env.get("/logout")
	assert.Equal(t, http.StatusFound, w.Code)

	after := env.state()
	assert.Nil(t, after.User)
	assert.Empty(t, after.Images)
	assert.Empty(t, after.Composite)
	assert.Empty(t, after.Workspace)
	assert.Empty(t, after.OAuthState)
	assert.NoDirExists(t, env.layout.ThumbnailPath(before.Workspace, ""))
	assert.Contains(t, env.page(), msgLoggedOut)
}

func TestMirroring(t *testing.T) {
	env := newTestEnv(t, &fakeIdentity{})
	mirror := &recordingMirror{}
	handler := NewUploadHandler(sessionHandler{}, env.layout, mirror)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(imagesFormField, "a.png")
	require.NoError(t, err)
	_, err = part.Write(encoded(t, "png", 10, 10))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	form, err := multipart.NewReader(body, mw.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)

	state, err := handler.process(context.Background(), app.State{User: &app.User{Subject: "1"}}, form.File[imagesFormField])
	require.NoError(t, err)
	require.Len(t, state.Images, 1)

	assert.Equal(t, []string{
		"uploads/" + state.Workspace + "/a.png",
		"uploads/thumbnails/" + state.Workspace + "/a.png",
	}, mirror.keys)
}

type recordingMirror struct {
	keys []string
}

func (r *recordingMirror) MirrorFile(_ context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(io.Discard, f); err != nil {
		return err
	}
	r.keys = append(r.keys, key)
	return nil
}

func TestOptionalMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	layout, err := app.NewLayout(t.TempDir())
	require.NoError(t, err)
	config := &cfg.Properties{
		Timezone: "UTC",
		Session:  cfg.SessionProperties{Name: "s", MaxAge: 60},
		Server:   cfg.HttpServerProperties{Pprof: true, CorsOrigins: []string{"http://localhost:3000"}},
	}
	store, sessions := db.NewCookieStore(config, []byte("0123456789abcdef0123456789abcdef"))
	router := NewRouter(Dependencies{
		Config:    config,
		Store:     store,
		Sessions:  sessions,
		Layout:    layout,
		Captioner: &fakeCaptioner{},
		Renderer:  imaging.NewRenderer(""),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
