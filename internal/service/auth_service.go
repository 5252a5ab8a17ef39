package service

import (
	"errors"
	"time"

	"github.com/kamicore/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrInvalidCredentials 登录凭据无效
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTClaims 管理员令牌载荷
type JWTClaims struct {
	AdminID  uint   `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthService 管理员认证
type AuthService struct {
	adminRepo   repository.AdminRepository
	secretKey   string
	expireHours int
}

// NewAuthService 创建认证服务
func NewAuthService(adminRepo repository.AdminRepository, secretKey string, expireHours int) *AuthService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &AuthService{
		adminRepo:   adminRepo,
		secretKey:   secretKey,
		expireHours: expireHours,
	}
}

// Login 校验管理员凭据并签发 JWT
func (s *AuthService) Login(username, password string) (string, error) {
	admin, err := s.adminRepo.GetByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := JWTClaims{
		AdminID:  admin.ID,
		Username: admin.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}
