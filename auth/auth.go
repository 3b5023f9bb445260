package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"inkpress/common"
	emailpkg "inkpress/email"
	"inkpress/models"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid reset token")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrNotification       = errors.New("reset email not delivered")
)

type AuthModule struct {
	db     *gorm.DB
	mailer emailpkg.Mailer
}

func NewAuthModule(db *gorm.DB, mailer emailpkg.Mailer) *AuthModule {
	return &AuthModule{
		db:     db,
		mailer: mailer,
	}
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/login", a.RequireGuest, a.loginPage)
	router.GET("/register", a.RequireGuest, a.registerPage)
	router.GET("/forgot-password", a.RequireGuest, a.forgotPasswordPage)
	router.GET("/reset-password/:token", a.RequireGuest, a.resetPasswordPage)
	router.GET("/profile", a.RequireAuth, a.profilePage)

	router.POST("/register", a.RequireGuest, a.registerPost)
	router.POST("/login", a.RequireGuest, a.loginPost)
	router.POST("/logout", a.logoutPost)
	router.POST("/forgot-password", a.forgotPasswordPost)
	router.POST("/reset-password", a.resetPasswordPost)
}

// RequireAuth redirects to the login page when no user is bound to the
// session. On success the user id is placed in the request context.
func (a *AuthModule) RequireAuth(c *gin.Context) {
	session := sessions.Default(c)
	userID := session.Get("user_id")

	if userID == nil {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	c.Set("user_id", userID)
	c.Next()
}

// RequireGuest is the inverse guard: authenticated users are sent to their
// profile instead of the anonymous-only page.
func (a *AuthModule) RequireGuest(c *gin.Context) {
	session := sessions.Default(c)

	if session.Get("user_id") != nil {
		c.Redirect(http.StatusFound, "/profile")
		c.Abort()
		return
	}

	c.Next()
}

func (a *AuthModule) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{
		"title":    "Login",
		"messages": common.TakeFlashes(c),
	})
}

func (a *AuthModule) registerPage(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", gin.H{
		"title":    "Register",
		"messages": common.TakeFlashes(c),
	})
}

func (a *AuthModule) forgotPasswordPage(c *gin.Context) {
	c.HTML(http.StatusOK, "forgot_password.html", gin.H{
		"title":    "Forgot Password",
		"messages": common.TakeFlashes(c),
	})
}

func (a *AuthModule) resetPasswordPage(c *gin.Context) {
	token := c.Param("token")

	if _, err := a.userByResetToken(token); err != nil {
		common.Flash(c, "error", "Link expired or invalid!")
		c.Redirect(http.StatusFound, "/forgot-password")
		return
	}

	c.HTML(http.StatusOK, "reset_password.html", gin.H{
		"title":    "Reset Password",
		"token":    token,
		"messages": common.TakeFlashes(c),
	})
}

func (a *AuthModule) profilePage(c *gin.Context) {
	userID := c.GetInt("user_id")

	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		session := sessions.Default(c)
		session.Clear()
		session.Save()
		c.Redirect(http.StatusFound, "/login")
		return
	}

	c.HTML(http.StatusOK, "profile.html", gin.H{
		"title":    "Profile",
		"user":     user,
		"messages": common.TakeFlashes(c),
	})
}

func (a *AuthModule) registerPost(c *gin.Context) {
	name := c.PostForm("name")
	email := c.PostForm("email")
	password := c.PostForm("password")

	err := a.register(name, email, password)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		common.Flash(c, "error", "User already exists with this email!")
		c.Redirect(http.StatusFound, "/register")
	case err != nil:
		log.Printf("register: %v", err)
		common.Flash(c, "error", "Something went wrong, try again!")
		c.Redirect(http.StatusFound, "/register")
	default:
		common.Flash(c, "success", "User registered successfully, you can login now!")
		c.Redirect(http.StatusFound, "/login")
	}
}

func (a *AuthModule) loginPost(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")

	user, err := a.authenticate(email, password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		common.Flash(c, "error", "Invalid email or password!")
		c.Redirect(http.StatusFound, "/login")
	case err != nil:
		log.Printf("login: %v", err)
		common.Flash(c, "error", "Something went wrong, try again!")
		c.Redirect(http.StatusFound, "/login")
	default:
		session := sessions.Default(c)
		session.Set("user_id", user.ID)
		session.Save()
		c.Redirect(http.StatusFound, "/profile")
	}
}

func (a *AuthModule) logoutPost(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.Redirect(http.StatusFound, "/login")
}

func (a *AuthModule) forgotPasswordPost(c *gin.Context) {
	email := c.PostForm("email")

	err := a.requestPasswordReset(email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		common.Flash(c, "error", "User not found with this email!")
		c.Redirect(http.StatusFound, "/forgot-password")
	case errors.Is(err, ErrNotification):
		log.Printf("forgot-password: %v", err)
		common.Flash(c, "error", "Error sending email")
		c.Redirect(http.StatusFound, "/forgot-password")
	case err != nil:
		log.Printf("forgot-password: %v", err)
		common.Flash(c, "error", "Something went wrong, try again!")
		c.Redirect(http.StatusFound, "/forgot-password")
	default:
		common.Flash(c, "success", "Password reset link has been sent to your email!")
		c.Redirect(http.StatusFound, "/forgot-password")
	}
}

func (a *AuthModule) resetPasswordPost(c *gin.Context) {
	token := c.PostForm("token")
	newPassword := c.PostForm("new_password")
	confirmPassword := c.PostForm("confirm_new_password")

	err := a.resetPassword(token, newPassword, confirmPassword)
	switch {
	case errors.Is(err, ErrPasswordMismatch):
		common.Flash(c, "error", "Passwords do not match!")
		c.Redirect(http.StatusFound, "/reset-password/"+token)
	case errors.Is(err, ErrInvalidToken):
		common.Flash(c, "error", "Invalid token!")
		c.Redirect(http.StatusFound, "/forgot-password")
	case err != nil:
		log.Printf("reset-password: %v", err)
		common.Flash(c, "error", "Something went wrong, try again!")
		c.Redirect(http.StatusFound, "/forgot-password")
	default:
		common.Flash(c, "success", "Password reset successful!")
		c.Redirect(http.StatusFound, "/login")
	}
}

// register stores a new user with a hashed password. Email uniqueness is
// checked at write time and backed by the unique index.
func (a *AuthModule) register(name, email, password string) error {
	var existing models.User
	err := a.db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return ErrDuplicateEmail
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return err
	}

	user := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}
	return a.db.Create(&user).Error
}

// authenticate resolves the user for a login attempt. Unknown email and bad
// password are indistinguishable to the caller.
func (a *AuthModule) authenticate(email, password string) (*models.User, error) {
	var user models.User
	err := a.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !checkPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// requestPasswordReset issues a single-use token and mails the reset link.
func (a *AuthModule) requestPasswordReset(email string) error {
	var user models.User
	err := a.db.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	token, err := generateToken()
	if err != nil {
		return err
	}

	user.ResetToken = token
	if err := a.db.Save(&user).Error; err != nil {
		return err
	}

	messageID, err := a.mailer.SendPasswordReset(user.Email, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotification, err)
	}
	if messageID == "" {
		return ErrNotification
	}

	return nil
}

// resetPassword consumes a reset token. The confirmation check runs before
// the token is looked up, and the token is cleared on success so a repeat
// submission fails.
func (a *AuthModule) resetPassword(token, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}

	user, err := a.userByResetToken(token)
	if err != nil {
		return err
	}

	passwordHash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = passwordHash
	user.ResetToken = ""
	return a.db.Save(user).Error
}

func (a *AuthModule) userByResetToken(token string) (*models.User, error) {
	// A cleared token is the empty string; it must never resolve.
	if token == "" {
		return nil, ErrInvalidToken
	}

	var user models.User
	err := a.db.Where("reset_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
