package posts

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"

	"inkpress/cache"
	"inkpress/common"
	"inkpress/models"
	"inkpress/storage"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrUserNotFound = errors.New("user not found")
	ErrNotPostOwner = errors.New("post owned by another user")
)

// Home page shows this many posts per page.
const pageSize = 2

// Cached post pages are served for this long before re-rendering.
const pageCacheMaxAge = 10 * time.Minute

type PostModule struct {
	db    *gorm.DB
	store storage.Storage
}

// markdown renderer configured with Goldmark and useful extensions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithUnsafe(),
	),
)

func NewPostModule(db *gorm.DB, store storage.Storage) *PostModule {
	return &PostModule{db: db, store: store}
}

// RegisterRoutes wires the post routes. requireAuth is the authenticated-only
// guard from the auth module.
func (p *PostModule) RegisterRoutes(router *gin.Engine, requireAuth gin.HandlerFunc) {
	router.GET("/", p.homePage)
	router.GET("/post/:slug", cache.PageMiddleware(pageCacheMaxAge), p.viewPostPage)
	router.GET("/uploads/:filename", p.serveUpload)

	router.GET("/my-posts", requireAuth, p.myPostsPage)
	router.GET("/create-post", requireAuth, p.createPostPage)
	router.GET("/edit-post/:id", requireAuth, p.editPostPage)

	router.POST("/create-post", requireAuth, p.createPostAction)
	router.POST("/update-post/:id", requireAuth, p.updatePostAction)
	router.POST("/delete-post/:id", requireAuth, p.deletePostAction)
}

// Pagination carries the page metadata rendered under the post list.
type Pagination struct {
	CurrentPage int
	TotalPage   int
	HasNextPage bool
	HasPrevPage bool
	NextPage    int
	PrevPage    int
}

// ownerColumns limits preloaded owners to their public columns; the password
// hash never travels with a populated post.
func ownerColumns(tx *gorm.DB) *gorm.DB {
	return tx.Select("id", "name", "email", "created_at")
}

// homePage handlers

func (p *PostModule) homePage(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	posts, pagination, err := p.listHomepage(page)
	if err != nil {
		log.Printf("homepage: %v", err)
		common.Flash(c, "error", "Something went wrong!")
	}

	c.HTML(http.StatusOK, "home.html", gin.H{
		"title":      "Home",
		"posts":      posts,
		"pagination": pagination,
		"messages":   common.TakeFlashes(c),
	})
}

func (p *PostModule) myPostsPage(c *gin.Context) {
	userID := c.GetInt("user_id")

	posts, err := p.ownPosts(userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		common.Flash(c, "error", "User not found!")
		c.Redirect(http.StatusFound, "/")
		return
	case err != nil:
		log.Printf("my-posts: %v", err)
		common.Flash(c, "error", "An error occurred while fetching your posts!")
		c.Redirect(http.StatusFound, "/")
		return
	}

	c.HTML(http.StatusOK, "my_posts.html", gin.H{
		"title":    "My Posts",
		"posts":    posts,
		"messages": common.TakeFlashes(c),
	})
}

func (p *PostModule) createPostPage(c *gin.Context) {
	c.HTML(http.StatusOK, "create_post.html", gin.H{
		"title":    "Create Post",
		"messages": common.TakeFlashes(c),
	})
}

func (p *PostModule) editPostPage(c *gin.Context) {
	userID := c.GetInt("user_id")
	postID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	post, err := p.byID(postID)
	switch {
	case errors.Is(err, ErrPostNotFound):
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	case err != nil:
		log.Printf("edit-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	if post.UserID != userID {
		common.Flash(c, "error", "You are not allowed to modify this post!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	c.HTML(http.StatusOK, "edit_post.html", gin.H{
		"title":    "Edit Post",
		"post":     post,
		"messages": common.TakeFlashes(c),
	})
}

func (p *PostModule) viewPostPage(c *gin.Context) {
	slug := c.Param("slug")

	post, err := p.bySlug(slug)
	switch {
	case errors.Is(err, ErrPostNotFound):
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	case err != nil:
		log.Printf("view-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	c.HTML(http.StatusOK, "view_post.html", gin.H{
		"title":       post.Title,
		"post":        post,
		"contentHTML": template.HTML(renderMarkdown(post.Content)),
	})
}

func (p *PostModule) createPostAction(c *gin.Context) {
	userID := c.GetInt("user_id")
	title := c.PostForm("title")
	content := c.PostForm("content")

	file, err := c.FormFile("image")
	if err != nil {
		common.Flash(c, "error", "An image is required!")
		c.Redirect(http.StatusFound, "/create-post")
		return
	}

	src, err := file.Open()
	if err != nil {
		log.Printf("create-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/create-post")
		return
	}
	defer src.Close()

	_, err = p.create(c.Request.Context(), userID, title, content,
		file.Filename, src, file.Size, file.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, ErrUserNotFound):
		common.Flash(c, "error", "User not found!")
		c.Redirect(http.StatusFound, "/")
	case err != nil:
		log.Printf("create-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/create-post")
	default:
		common.Flash(c, "success", "Post created successfully!")
		c.Redirect(http.StatusFound, "/my-posts")
	}
}

func (p *PostModule) updatePostAction(c *gin.Context) {
	userID := c.GetInt("user_id")
	postID, convErr := strconv.Atoi(c.Param("id"))
	title := c.PostForm("title")
	content := c.PostForm("content")

	if convErr != nil {
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	// The image is optional on update.
	var (
		src         io.Reader
		filename    string
		size        int64
		contentType string
	)
	if file, err := c.FormFile("image"); err == nil {
		f, err := file.Open()
		if err != nil {
			log.Printf("update-post: %v", err)
			common.Flash(c, "error", "Something went wrong!")
			c.Redirect(http.StatusFound, "/my-posts")
			return
		}
		defer f.Close()
		src = f
		filename = file.Filename
		size = file.Size
		contentType = file.Header.Get("Content-Type")
	}

	_, err := p.update(c.Request.Context(), userID, postID, title, content,
		filename, src, size, contentType)
	switch {
	case errors.Is(err, ErrPostNotFound):
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
	case errors.Is(err, ErrNotPostOwner):
		common.Flash(c, "error", "You are not allowed to modify this post!")
		c.Redirect(http.StatusFound, "/my-posts")
	case err != nil:
		log.Printf("update-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/my-posts")
	default:
		common.Flash(c, "success", "Post updated successfully!")
		c.Redirect(http.StatusFound, "/my-posts")
	}
}

func (p *PostModule) deletePostAction(c *gin.Context) {
	userID := c.GetInt("user_id")
	postID, convErr := strconv.Atoi(c.Param("id"))

	if convErr != nil {
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
		return
	}

	err := p.delete(c.Request.Context(), userID, postID)
	switch {
	case errors.Is(err, ErrPostNotFound):
		common.Flash(c, "error", "Post not found!")
		c.Redirect(http.StatusFound, "/my-posts")
	case errors.Is(err, ErrNotPostOwner):
		common.Flash(c, "error", "You are not allowed to modify this post!")
		c.Redirect(http.StatusFound, "/my-posts")
	case err != nil:
		log.Printf("delete-post: %v", err)
		common.Flash(c, "error", "Something went wrong!")
		c.Redirect(http.StatusFound, "/my-posts")
	default:
		common.Flash(c, "success", "Post deleted successfully!")
		c.Redirect(http.StatusFound, "/my-posts")
	}
}

// serveUpload streams an uploaded image through the storage backend so the
// local and MinIO stores serve identically.
func (p *PostModule) serveUpload(c *gin.Context) {
	rc, contentType, err := p.store.Open(c.Request.Context(), c.Param("filename"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	io.Copy(c.Writer, rc)
}

// listHomepage returns the page of newest posts with owners populated, plus
// pagination metadata.
func (p *PostModule) listHomepage(page int) ([]models.Post, Pagination, error) {
	if page < 1 {
		page = 1
	}

	var total int64
	if err := p.db.Model(&models.Post{}).Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	offset := (page - 1) * pageSize

	var posts []models.Post
	err := p.db.Preload("User", ownerColumns).
		Order("id DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, Pagination{}, err
	}

	totalPage := int((total + pageSize - 1) / pageSize)
	pagination := Pagination{
		CurrentPage: page,
		TotalPage:   totalPage,
		HasNextPage: int64(page*pageSize) < total,
		HasPrevPage: offset > 0,
		NextPage:    page + 1,
		PrevPage:    page - 1,
	}
	return posts, pagination, nil
}

// ownPosts returns the posts owned by userID in stored list order.
func (p *PostModule) ownPosts(userID int) ([]models.Post, error) {
	var user models.User
	err := p.db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := p.db.Where("user_id = ?", userID).Order("id ASC").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// bySlug returns the post for a slug with its owner populated. Slugs are not
// unique; on collision the lowest id wins.
func (p *PostModule) bySlug(slug string) (*models.Post, error) {
	var post models.Post
	err := p.db.Preload("User", ownerColumns).
		Where("slug = ?", slug).
		Order("id ASC").
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (p *PostModule) byID(postID int) (*models.Post, error) {
	var post models.Post
	err := p.db.First(&post, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// create stores the uploaded image, then creates the post row inside a
// transaction. If the row cannot be written the stored image is removed
// again so no orphan files accumulate.
func (p *PostModule) create(ctx context.Context, userID int, title, content,
	imageName string, image io.Reader, size int64, contentType string) (*models.Post, error) {

	stored := storedImageName(imageName)
	if err := p.store.Save(ctx, stored, image, size, contentType); err != nil {
		return nil, err
	}

	post := models.Post{
		UserID:  userID,
		Title:   title,
		Slug:    generateSlug(title),
		Content: content,
		Image:   stored,
	}

	err := p.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return tx.Create(&post).Error
	})
	if err != nil {
		if rmErr := p.store.Remove(ctx, stored); rmErr != nil {
			log.Printf("removing orphaned image %s: %v", stored, rmErr)
		}
		return nil, err
	}

	return &post, nil
}

// update rewrites title, content and slug, and swaps the image when a new
// one is supplied. Only the owner may update; the superseded image and the
// stale cached page are cleaned up best-effort.
func (p *PostModule) update(ctx context.Context, userID, postID int, title, content,
	imageName string, image io.Reader, size int64, contentType string) (*models.Post, error) {

	post, err := p.byID(postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != userID {
		return nil, ErrNotPostOwner
	}

	oldSlug := post.Slug
	oldImage := ""
	newImage := ""
	if image != nil {
		newImage = storedImageName(imageName)
		if err := p.store.Save(ctx, newImage, image, size, contentType); err != nil {
			return nil, err
		}
		oldImage = post.Image
		post.Image = newImage
	}

	post.Title = title
	post.Content = content
	post.Slug = generateSlug(title)

	if err := p.db.Save(post).Error; err != nil {
		if newImage != "" {
			if rmErr := p.store.Remove(ctx, newImage); rmErr != nil {
				log.Printf("removing orphaned image %s: %v", newImage, rmErr)
			}
		}
		return nil, err
	}

	if oldImage != "" {
		if rmErr := p.store.Remove(ctx, oldImage); rmErr != nil {
			log.Printf("removing replaced image %s: %v", oldImage, rmErr)
		}
	}
	if err := cache.Clear(oldSlug); err != nil {
		log.Printf("clearing cached page %s: %v", oldSlug, err)
	}
	if post.Slug != oldSlug {
		if err := cache.Clear(post.Slug); err != nil {
			log.Printf("clearing cached page %s: %v", post.Slug, err)
		}
	}

	return post, nil
}

// delete removes the post row, then the backing image and cached page
// best-effort. Only the owner may delete.
func (p *PostModule) delete(ctx context.Context, userID, postID int) error {
	post, err := p.byID(postID)
	if err != nil {
		return err
	}
	if post.UserID != userID {
		return ErrNotPostOwner
	}

	err = p.db.Transaction(func(tx *gorm.DB) error {
		return tx.Delete(&models.Post{}, post.ID).Error
	})
	if err != nil {
		return err
	}

	if rmErr := p.store.Remove(ctx, post.Image); rmErr != nil {
		log.Printf("removing image %s: %v", post.Image, rmErr)
	}
	if err := cache.Clear(post.Slug); err != nil {
		log.Printf("clearing cached page %s: %v", post.Slug, err)
	}

	return nil
}

// storedImageName renames an upload to a random name, keeping the extension.
func storedImageName(original string) string {
	return uuid.New().String() + strings.ToLower(filepath.Ext(original))
}

// accent-folded characters allowed to survive slug generation
var slugAccents = map[rune]rune{
	'á': 'a', 'à': 'a', 'ã': 'a', 'â': 'a', 'ä': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'õ': 'o', 'ô': 'o', 'ö': 'o', 'ø': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n', 'ý': 'y', 'ß': 's',
}

// generateSlug derives the URL slug from a title: lowercase, accents folded,
// whitespace runs become a single hyphen, everything else outside [a-z0-9-]
// is dropped, and edge hyphens are trimmed.
func generateSlug(title string) string {
	slug := strings.ToLower(title)

	slug = strings.Map(func(r rune) rune {
		if replacement, ok := slugAccents[r]; ok {
			return replacement
		}
		return r
	}, slug)

	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == ' ' || r == '\t' || r == '\n':
			return '-'
		default:
			return -1
		}
	}, slug)

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	return slug
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return buf.String()
}
