// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"time"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/database"
	"career-chat-go/pkg/hash"
	"career-chat-go/pkg/token"

	"gorm.io/gorm"
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(email, password, name string) (*model.User, error)
	Login(email, password string) (accessToken, refreshToken string, err error)
	GetProfile(userID uint) (*model.User, error)
	Logout(tokenString string) error
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
	// IsTokenRevoked 检查 token 是否已被登出加入黑名单。
	IsTokenRevoked(tokenString string) bool
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(email, password, name string) (*model.User, error) {
	// 1. 检查邮箱是否已被注册
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, errors.New("邮箱已被注册")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Email:    email,
		Name:     name,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}

	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(email, password string) (accessToken, refreshToken string, err error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errors.New("invalid credentials")
		}
		return "", "", err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", errors.New("invalid credentials")
	}

	// 3. 生成 access token 和 refresh token
	accessToken, err = s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	// token 的剩余有效期将作为 Redis key 的过期时间。
	expiration := time.Until(claims.ExpiresAt.Time)
	return database.RDB.Set(context.Background(), "blacklist:"+tokenString, "true", expiration).Err()
}

// IsTokenRevoked 检查 token 是否在黑名单中。Redis 异常时按未吊销处理。
func (s *userService) IsTokenRevoked(tokenString string) bool {
	val, err := database.RDB.Get(context.Background(), "blacklist:"+tokenString).Result()
	return err == nil && val == "true"
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	// 1. 验证 refresh token 是否有效
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil || claims.Scope != "refresh" {
		return "", "", errors.New("invalid refresh token")
	}

	// 2. 检查用户是否存在
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return "", "", errors.New("user not found")
	}

	// 3. 签发新的 token
	newAccessToken, err = s.jwtManager.GenerateToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return "", "", err
	}

	return newAccessToken, newRefreshToken, nil
}
