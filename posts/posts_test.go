package posts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"inkpress/auth"
	"inkpress/models"
)

// memStorage is an in-memory stand-in for the blob store.
type memStorage struct {
	files   map[string][]byte
	removed []string
}

func newMemStorage() *memStorage {
	return &memStorage{files: map[string][]byte{}}
}

func (m *memStorage) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.files[name] = data
	return nil
}

func (m *memStorage) Open(_ context.Context, name string) (io.ReadCloser, string, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, "", io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), "image/png", nil
}

func (m *memStorage) Remove(_ context.Context, name string) error {
	delete(m.files, name)
	m.removed = append(m.removed, name)
	return nil
}

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.User{}, &models.Post{})
	return db
}

func newTestModule(db *gorm.DB) (*PostModule, *memStorage) {
	store := newMemStorage()
	return NewPostModule(db, store), store
}

func createTestUser(db *gorm.DB, email string) *models.User {
	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "hashedpassword",
	}
	db.Create(user)
	return user
}

func createTestPost(t *testing.T, p *PostModule, userID int, title string) *models.Post {
	t.Helper()
	post, err := p.create(context.Background(), userID, title, "some content",
		"cover.png", strings.NewReader("image-bytes"), 11, "image/png")
	assert.NoError(t, err)
	return post
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "hello-world"},
		{"  A  B ", "a-b"},
		{"Multiple   Spaces", "multiple-spaces"},
		{"Special@#Characters!", "specialcharacters"},
		{"---Dashes---", "dashes"},
		{"Testing 123", "testing-123"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, generateSlug(tt.input))
		})
	}
}

func TestCreate(t *testing.T) {
	db := setupTestDB()
	p, store := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	post := createTestPost(t, p, user.ID, "Hello World")

	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, user.ID, post.UserID)
	assert.Contains(t, store.files, post.Image)
	assert.True(t, strings.HasSuffix(post.Image, ".png"))

	owned, err := p.ownPosts(user.ID)
	assert.NoError(t, err)
	assert.Len(t, owned, 1)
	assert.Equal(t, post.ID, owned[0].ID)
}

func TestCreate_UnknownUserRemovesImage(t *testing.T) {
	db := setupTestDB()
	p, store := newTestModule(db)

	_, err := p.create(context.Background(), 999, "Hello", "content",
		"cover.png", strings.NewReader("image-bytes"), 11, "image/png")

	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, store.files)
	assert.Len(t, store.removed, 1)

	var count int64
	db.Model(&models.Post{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestListHomepage_Pagination(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	titles := []string{"One", "Two", "Three", "Four", "Five"}
	for _, title := range titles {
		createTestPost(t, p, user.ID, title)
	}

	posts, pagination, err := p.listHomepage(1)
	assert.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, "Five", posts[0].Title)
	assert.Equal(t, "Four", posts[1].Title)
	assert.Equal(t, 1, pagination.CurrentPage)
	assert.Equal(t, 3, pagination.TotalPage)
	assert.True(t, pagination.HasNextPage)
	assert.False(t, pagination.HasPrevPage)
	assert.Equal(t, 2, pagination.NextPage)

	posts, pagination, err = p.listHomepage(3)
	assert.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, "One", posts[0].Title)
	assert.False(t, pagination.HasNextPage)
	assert.True(t, pagination.HasPrevPage)
	assert.Equal(t, 2, pagination.PrevPage)
}

func TestListHomepage_OwnerWithoutPasswordHash(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	createTestPost(t, p, user.ID, "Hello World")

	posts, _, err := p.listHomepage(1)
	assert.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, user.Name, posts[0].User.Name)
	assert.Equal(t, user.Email, posts[0].User.Email)
	assert.Empty(t, posts[0].User.PasswordHash)
}

func TestBySlug(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	created := createTestPost(t, p, user.ID, "Hello World")

	post, err := p.bySlug("hello-world")
	assert.NoError(t, err)
	assert.Equal(t, created.ID, post.ID)
	assert.Equal(t, user.Name, post.User.Name)
	assert.Empty(t, post.User.PasswordHash)
}

func TestBySlug_NotFound(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)

	_, err := p.bySlug("nonexistent")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestBySlug_DuplicateTakesFirstMatch(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	first := createTestPost(t, p, user.ID, "Hello World")
	second := createTestPost(t, p, user.ID, "hello   world")
	assert.Equal(t, first.Slug, second.Slug)

	post, err := p.bySlug("hello-world")
	assert.NoError(t, err)
	assert.Equal(t, first.ID, post.ID)
}

func TestUpdate(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	post := createTestPost(t, p, user.ID, "Hello World")

	updated, err := p.update(context.Background(), user.ID, post.ID,
		"New Title", "new content", "", nil, 0, "")
	assert.NoError(t, err)
	assert.Equal(t, "New Title", updated.Title)
	assert.Equal(t, "new-title", updated.Slug)
	assert.Equal(t, "new content", updated.Content)
	assert.Equal(t, post.Image, updated.Image)

	_, err = p.bySlug("hello-world")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestUpdate_Idempotent(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	post := createTestPost(t, p, user.ID, "Hello World")

	first, err := p.update(context.Background(), user.ID, post.ID,
		"Hello World", "some content", "", nil, 0, "")
	assert.NoError(t, err)

	second, err := p.update(context.Background(), user.ID, post.ID,
		"Hello World", "some content", "", nil, 0, "")
	assert.NoError(t, err)

	assert.Equal(t, first.Slug, second.Slug)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Image, second.Image)

	var stored models.Post
	db.First(&stored, post.ID)
	assert.Equal(t, "hello-world", stored.Slug)
	assert.Equal(t, post.Image, stored.Image)
}

func TestUpdate_NewImageReplacesOld(t *testing.T) {
	db := setupTestDB()
	p, store := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	post := createTestPost(t, p, user.ID, "Hello World")
	oldImage := post.Image

	updated, err := p.update(context.Background(), user.ID, post.ID,
		"Hello World", "some content",
		"new.jpg", strings.NewReader("new-bytes"), 9, "image/jpeg")
	assert.NoError(t, err)
	assert.NotEqual(t, oldImage, updated.Image)
	assert.True(t, strings.HasSuffix(updated.Image, ".jpg"))
	assert.Contains(t, store.files, updated.Image)
	assert.NotContains(t, store.files, oldImage)
	assert.Contains(t, store.removed, oldImage)
}

func TestUpdate_NotOwner(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	owner := createTestUser(db, "owner@example.com")
	other := createTestUser(db, "other@example.com")
	post := createTestPost(t, p, owner.ID, "Hello World")

	_, err := p.update(context.Background(), other.ID, post.ID,
		"Hijacked", "content", "", nil, 0, "")
	assert.ErrorIs(t, err, ErrNotPostOwner)

	var stored models.Post
	db.First(&stored, post.ID)
	assert.Equal(t, "Hello World", stored.Title)
}

func TestUpdate_NotFound(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	_, err := p.update(context.Background(), user.ID, 999,
		"Title", "content", "", nil, 0, "")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestDelete(t *testing.T) {
	db := setupTestDB()
	p, store := newTestModule(db)
	user := createTestUser(db, "test@example.com")
	post := createTestPost(t, p, user.ID, "Hello World")

	err := p.delete(context.Background(), user.ID, post.ID)
	assert.NoError(t, err)

	_, err = p.bySlug("hello-world")
	assert.ErrorIs(t, err, ErrPostNotFound)

	owned, err := p.ownPosts(user.ID)
	assert.NoError(t, err)
	assert.Empty(t, owned)

	assert.NotContains(t, store.files, post.Image)
	assert.Contains(t, store.removed, post.Image)
}

func TestDelete_NotOwner(t *testing.T) {
	db := setupTestDB()
	p, store := newTestModule(db)
	owner := createTestUser(db, "owner@example.com")
	other := createTestUser(db, "other@example.com")
	post := createTestPost(t, p, owner.ID, "Hello World")

	err := p.delete(context.Background(), other.ID, post.ID)
	assert.ErrorIs(t, err, ErrNotPostOwner)

	var count int64
	db.Model(&models.Post{}).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.Contains(t, store.files, post.Image)
}

func TestDelete_NotFound(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	err := p.delete(context.Background(), user.ID, 999)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestOwnPosts_Order(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	user := createTestUser(db, "test@example.com")

	for _, title := range []string{"First", "Second", "Third"} {
		createTestPost(t, p, user.ID, title)
	}

	owned, err := p.ownPosts(user.ID)
	assert.NoError(t, err)
	assert.Len(t, owned, 3)
	assert.Equal(t, "First", owned[0].Title)
	assert.Equal(t, "Third", owned[2].Title)
}

func TestOwnPosts_UnknownUser(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)

	_, err := p.ownPosts(999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMyPosts_RequiresAuth(t *testing.T) {
	db := setupTestDB()
	p, _ := newTestModule(db)
	authModule := auth.NewAuthModule(db, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	store := cookie.NewStore([]byte("secret"))
	router.Use(sessions.Sessions("test-session", store))
	p.RegisterRoutes(router, authModule.RequireAuth)

	req, _ := http.NewRequest("GET", "/my-posts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/login")
}

func TestRenderMarkdown(t *testing.T) {
	result := renderMarkdown("# Title\n\nSome **bold** text.")

	assert.Contains(t, result, "<h1>Title</h1>")
	assert.Contains(t, result, "<strong>bold</strong>")
}
