package service

import (
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskchat/model"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInternal           = errors.New("internal server error")
	ErrWeakPassword       = errors.New("password must be 8 to 64 characters, at most 72 bytes, and mix at least three of digits, lower case, upper case and symbols")
)

const (
	minPasswordLength = 8
	maxPasswordLength = 64
	// bcrypt rejects longer inputs.
	maxPasswordBytes = 72
)

func isValidPassword(password string) bool {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLength || n > maxPasswordLength || len(password) > maxPasswordBytes {
		return false
	}

	var hasNumber, hasLower, hasUpper, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasNumber, hasLower, hasUpper, hasSpecial} {
		if ok {
			classes++
		}
	}
	return classes >= 3
}

type UserService struct {
	users  *model.UserRepository
	tokens *TokenService
	logger *logrus.Logger
}

func NewUserService(users *model.UserRepository, tokens *TokenService, logger *logrus.Logger) *UserService {
	return &UserService{users: users, tokens: tokens, logger: logger}
}

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (service *UserService) Register(user *User) error {
	if !isValidPassword(user.Password) {
		return ErrWeakPassword
	}

	exists, err := service.users.Exists(user.Username, user.Email)
	if err != nil {
		service.logger.Errorf("Failed to check user %s: %v", user.Username, err)
		return ErrInternal
	}
	if exists {
		return ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return ErrInternal
	}

	newUser := &model.User{
		Username: user.Username,
		Email:    user.Email,
		Password: string(hashedPassword),
	}
	if err := service.users.Create(newUser); err != nil {
		service.logger.Errorf("Failed to store user %s: %v", user.Username, err)
		return ErrInternal
	}
	return nil
}

// Login checks the credentials and returns a signed access token.
func (service *UserService) Login(user *User) (string, error) {
	registeredUser, err := service.users.GetByUsername(user.Username)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		service.logger.Errorf("Failed to load user %s: %v", user.Username, err)
		return "", ErrInternal
	}

	if err := bcrypt.CompareHashAndPassword([]byte(registeredUser.Password), []byte(user.Password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := service.tokens.CreateToken(registeredUser.ID, registeredUser.Username)
	if err != nil {
		service.logger.Errorf("Error generating token: %v", err)
		return "", ErrInternal
	}
	return token.AccessToken, nil
}
