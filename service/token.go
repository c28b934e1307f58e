package service

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	uuid "github.com/google/uuid"
)

const accessTokenTTL = time.Hour * 24 * 7

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenDetails ...
type TokenDetails struct {
	AccessToken string
	AccessUUID  string
	AtExpires   int64
}

// AccessDetails is what an authenticated request knows about its caller.
type AccessDetails struct {
	AccessUUID string
	UserID     string
	UserName   string
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: accessTokenTTL}
}

// CreateToken ...
func (t *TokenService) CreateToken(userID uint, userName string) (*TokenDetails, error) {
	td := &TokenDetails{}
	td.AtExpires = time.Now().Add(t.ttl).Unix()
	td.AccessUUID = uuid.New().String()

	atClaims := jwt.MapClaims{}
	atClaims["authorized"] = true
	atClaims["access_uuid"] = td.AccessUUID
	atClaims["user_id"] = strconv.FormatUint(uint64(userID), 10)
	atClaims["user_name"] = userName
	atClaims["exp"] = td.AtExpires

	at := jwt.NewWithClaims(jwt.SigningMethodHS256, atClaims)
	var err error
	td.AccessToken, err = at.SignedString(t.secret)
	if err != nil {
		return nil, err
	}
	return td, nil
}

// ExtractToken reads the token from "Authorization: Bearer <token>".
func (t *TokenService) ExtractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	strArr := strings.Split(bearToken, " ")
	if len(strArr) == 2 {
		return strArr[1]
	}
	return ""
}

// Parse verifies the signature and expiry of tokenString and returns its
// claims.
func (t *TokenService) Parse(tokenString string) (*AccessDetails, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	accessUUID, _ := claims["access_uuid"].(string)
	userID, _ := claims["user_id"].(string)
	userName, _ := claims["user_name"].(string)
	if accessUUID == "" || userID == "" {
		return nil, ErrInvalidToken
	}
	return &AccessDetails{
		AccessUUID: accessUUID,
		UserID:     userID,
		UserName:   userName,
	}, nil
}

// ExtractTokenMetadata ...
func (t *TokenService) ExtractTokenMetadata(r *http.Request) (*AccessDetails, error) {
	return t.Parse(t.ExtractToken(r))
}

// Refresh issues a new token for the caller of a still valid token.
func (t *TokenService) Refresh(r *http.Request) (*TokenDetails, error) {
	details, err := t.ExtractTokenMetadata(r)
	if err != nil {
		return nil, err
	}
	userID, err := strconv.ParseUint(details.UserID, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return t.CreateToken(uint(userID), details.UserName)
}
