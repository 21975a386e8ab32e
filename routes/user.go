package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/patry77/techniki-czatt/models"
	"github.com/patry77/techniki-czatt/storage"
	"github.com/patry77/techniki-czatt/utils"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kataras/iris/v12"
	"golang.org/x/crypto/bcrypt"
)

const googleJWKSEndpoint = "https://www.googleapis.com/oauth2/v3/certs"

func Register(ctx iris.Context) {
	var userInput RegisterUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var newUser models.User
	userExists, userExistsErr := getAndHandleUserExists(&newUser, userInput.Email)
	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if userExists {
		utils.CreateEmailAlreadyRegistered(ctx)
		return
	}

	hashedPassword, hashErr := hashAndSaltPassword(userInput.Password)
	if hashErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	newUser = models.User{
		Username:       userInput.Username,
		Email:          strings.ToLower(userInput.Email),
		Password:       hashedPassword,
		ProfilePicture: models.DefaultProfilePicture,
	}

	if err := storage.DB.Create(&newUser).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.StatusCode(iris.StatusCreated)
	returnUser(newUser, ctx)
}

func Login(ctx iris.Context) {
	var userInput LoginUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var existingUser models.User
	errorMsg := "Invalid email or password."
	userExists, userExistsErr := getAndHandleUserExists(&existingUser, userInput.Email)
	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if !userExists {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", errorMsg, ctx)
		return
	}

	if existingUser.Password == "" {
		// social account without a local password
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Social Login Account", ctx)
		return
	}

	passwordErr := bcrypt.CompareHashAndPassword([]byte(existingUser.Password), []byte(userInput.Password))
	if passwordErr != nil {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", errorMsg, ctx)
		return
	}

	returnUser(existingUser, ctx)
}

// GoogleLogin starts the OAuth code flow by redirecting to Google's consent
// screen.
func GoogleLogin(ctx iris.Context) {
	params := url.Values{}
	params.Set("client_id", os.Getenv("GOOGLE_CLIENT_ID"))
	params.Set("redirect_uri", os.Getenv("GOOGLE_CALLBACK_URL"))
	params.Set("response_type", "code")
	params.Set("scope", "openid email profile")

	ctx.Redirect("https://accounts.google.com/o/oauth2/v2/auth?"+params.Encode(), iris.StatusFound)
}

// GoogleCallback exchanges the authorization code, verifies the returned ID
// token against Google's JWKS and redirects back to the frontend with an
// access token in the query string. Accounts are matched by email; a first
// login creates the user.
func GoogleCallback(ctx iris.Context) {
	code := ctx.URLParam("code")
	if code == "" {
		utils.CreateError(iris.StatusBadRequest, "OAuth Error", "Missing authorization code.", ctx)
		return
	}

	idToken, exchangeErr := exchangeGoogleCode(code)
	if exchangeErr != nil {
		utils.CreateError(iris.StatusUnauthorized, "OAuth Error", "Code exchange failed.", ctx)
		return
	}

	googleUser, verifyErr := verifyGoogleIDToken(idToken)
	if verifyErr != nil || googleUser.Email == "" {
		utils.CreateError(iris.StatusUnauthorized, "OAuth Error", "Invalid identity token.", ctx)
		return
	}

	var user models.User
	userExists, userExistsErr := getAndHandleUserExists(&user, googleUser.Email)
	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if !userExists {
		user = models.User{
			Username:       googleUser.Name,
			Email:          strings.ToLower(googleUser.Email),
			GoogleID:       googleUser.Subject,
			ProfilePicture: googleUser.Picture,
		}
		if user.Username == "" {
			user.Username = strings.Split(user.Email, "@")[0]
		}
		if user.ProfilePicture == "" {
			user.ProfilePicture = models.DefaultProfilePicture
		}
		if err := storage.DB.Create(&user).Error; err != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	} else if user.GoogleID == "" {
		storage.DB.Model(&user).Update("google_id", googleUser.Subject)
	}

	tokenPair, tokenErr := utils.CreateTokenPair(user.ID, user.Email)
	if tokenErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	frontend := os.Getenv("FRONTEND_URL")
	if frontend == "" {
		frontend = "http://localhost:3000"
	}
	ctx.Redirect(frontend+"?token="+url.QueryEscape(string(tokenPair.AccessToken)), iris.StatusFound)
}

// GetCurrentUser returns the authenticated user's profile.
func GetCurrentUser(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	ctx.JSON(user)
}

// UpdateProfile changes the username and, when the request is multipart, the
// avatar image.
func UpdateProfile(ctx iris.Context) {
	userID := ctx.Values().Get("userID").(uint)

	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	updates := map[string]interface{}{}

	if strings.HasPrefix(ctx.GetContentTypeRequested(), "multipart/form-data") {
		ctx.SetMaxRequestBodySize(storage.MaxUploadSize)
		if username := ctx.FormValue("username"); username != "" {
			updates["username"] = username
		}
		if _, header, err := ctx.FormFile("avatar"); err == nil {
			if !storage.IsImageExtension(header.Filename) {
				utils.CreateError(iris.StatusBadRequest, "Upload Error", "Avatar must be an image.", ctx)
				return
			}
			fileURL, saveErr := storage.SaveUpload(header)
			if saveErr != nil {
				handleUploadError(saveErr, ctx)
				return
			}
			updates["profile_picture"] = fileURL
		}
	} else {
		var input UpdateProfileInput
		if err := ctx.ReadJSON(&input); err != nil {
			utils.HandleValidationErrors(err, ctx)
			return
		}
		if input.Username != "" {
			updates["username"] = input.Username
		}
	}

	if len(updates) > 0 {
		if err := storage.DB.Model(&user).Updates(updates).Error; err != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	ctx.JSON(user)
}

// ListUsers returns the user directory with online members first.
func ListUsers(ctx iris.Context) {
	var users []models.User
	if err := storage.DB.
		Order("is_online DESC").
		Order("username ASC").
		Find(&users).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(users)
}

func exchangeGoogleCode(code string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", os.Getenv("GOOGLE_CLIENT_ID"))
	form.Set("client_secret", os.Getenv("GOOGLE_CLIENT_SECRET"))
	form.Set("redirect_uri", os.Getenv("GOOGLE_CALLBACK_URL"))
	form.Set("grant_type", "authorization_code")

	res, err := http.PostForm("https://oauth2.googleapis.com/token", form)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", res.StatusCode)
	}

	var tokenRes struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &tokenRes); err != nil {
		return "", err
	}
	if tokenRes.IDToken == "" {
		return "", fmt.Errorf("no id_token in response")
	}
	return tokenRes.IDToken, nil
}

type googleIDClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

func verifyGoogleIDToken(idToken string) (*googleIDClaims, error) {
	jwks, err := keyfunc.Get(googleJWKSEndpoint, keyfunc.Options{})
	if err != nil {
		return nil, err
	}

	claims := &googleIDClaims{}
	parsed, err := jwt.ParseWithClaims(idToken, claims, jwks.Keyfunc)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid id token")
	}
	return claims, nil
}

func getAndHandleUserExists(user *models.User, email string) (exists bool, err error) {
	userExistsQuery := storage.DB.Where("email = ?", strings.ToLower(email)).Limit(1).Find(&user)

	if userExistsQuery.Error != nil {
		return false, userExistsQuery.Error
	}

	return userExistsQuery.RowsAffected > 0, nil
}

func hashAndSaltPassword(password string) (hashedPassword string, err error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

func returnUser(user models.User, ctx iris.Context) {
	tokenPair, tokenErr := utils.CreateTokenPair(user.ID, user.Email)
	if tokenErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{
		"accessToken":  string(tokenPair.AccessToken),
		"refreshToken": string(tokenPair.RefreshToken),
		"user":         user,
	})
}

type RegisterUserInput struct {
	Username string `json:"username" validate:"required,max=256"`
	Email    string `json:"email" validate:"required,max=256,email"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type LoginUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileInput struct {
	Username string `json:"username"`
}
