package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// usecaseがValidatorInterfaceに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, email string, password string) error
	ValidateLogin(ctx context.Context, email string, password string) error
	ValidateForceLogout(ctx context.Context, targetUserID int64) error
}

type UserDTO struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	IsActive     bool   `json:"is_active"`
}

type JwtAccessTokenDTO struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenVersion int    `json:"token_version"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRegisterResponse struct {
	User UserDTO `json:"user"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResponse struct {
	User  UserDTO           `json:"user"`
	Token JwtAccessTokenDTO `json:"token"`
}

type ForceLogoutResponse struct {
	UserID          int64 `json:"user_id"`
	NewTokenVersion int   `json:"new_token_version"`
}

type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	// 0ならbcrypt.DefaultCost
	BcryptCost int
}

type AuthUsecase struct {
	cfg       AuthConfig
	users     repository.UserRepository
	audit     repository.AuditLogRepository
	validator AuthValidator
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthUsecase(
	cfg AuthConfig,
	users repository.UserRepository,
	audit repository.AuditLogRepository,
	validator AuthValidator,
	logger *zap.Logger,
) *AuthUsecase {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthUsecase{
		cfg:       cfg,
		users:     users,
		audit:     audit,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

func (u *AuthUsecase) Register(ctx context.Context, req AuthRegisterRequest) (*AuthRegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, email, req.Password); err != nil {
		return nil, err
	}

	//パスワードは必ずハッシュ化して保存（平文保存しない）
	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), u.cfg.BcryptCost)
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	//ユーザー作成
	user := &model.User{
		Email:        email,
		PasswordHash: string(pwHash),
		Role:         model.RoleUser,
		TokenVersion: 0,
		IsActive:     true,
	}

	//保存（validatorをすり抜けた同時登録はunique違反になる）
	if err := u.users.Create(ctx, user); err != nil {
		return nil, NewHTTPError(http.StatusConflict, "email already used")
	}

	return &AuthRegisterResponse{User: toUserDTO(user)}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, req AuthLoginRequest) (*AuthLoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	//入力検証
	if err := u.validator.ValidateLogin(ctx, email, req.Password); err != nil {
		return nil, err
	}

	//ユーザー取得
	user, err := u.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//パスワード照合（bcrypt）
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return nil, NewHTTPError(http.StatusForbidden, "user inactive")
	}

	//last_login更新（失敗してもログインは続ける）
	now := u.now()
	user.LastLoginAt = &now
	if err := u.users.Update(ctx, user); err != nil {
		u.logger.Warn("last_login_at not updated", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	accessToken, expiresIn, err := u.issueAccessToken(user, now)
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return &AuthLoginResponse{
		User: toUserDTO(user),
		Token: JwtAccessTokenDTO{
			AccessToken:  accessToken,
			ExpiresIn:    expiresIn,
			TokenVersion: user.TokenVersion,
		},
	}, nil
}

func (u *AuthUsecase) Me(ctx context.Context, userID int64) (*UserDTO, error) {
	if userID <= 0 {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		return nil, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	if !user.IsActive {
		return nil, NewHTTPError(http.StatusForbidden, "user inactive")
	}

	dto := toUserDTO(user)
	return &dto, nil
}

// ForceLogout は token_version を上げて、発行済みのアクセストークンを全て無効にする。
func (u *AuthUsecase) ForceLogout(ctx context.Context, adminUserID int64, targetUserID int64) (*ForceLogoutResponse, error) {
	if err := u.validator.ValidateForceLogout(ctx, targetUserID); err != nil {
		return nil, err
	}

	newVersion, err := u.users.IncrementTokenVersion(ctx, targetUserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return nil, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if err := u.audit.Create(ctx, model.AuditLog{
		ActorUserID:  adminUserID,
		Action:       model.AuditActionForceLogout,
		ResourceType: model.AuditResourceUser,
		ResourceID:   targetUserID,
		BeforeJSON:   "{}",
		AfterJSON:    "{}",
		CreatedAt:    u.now(),
	}); err != nil {
		u.logger.Warn("audit log not written", zap.Int64("target_user_id", targetUserID), zap.Error(err))
	}

	return &ForceLogoutResponse{
		UserID:          targetUserID,
		NewTokenVersion: newVersion,
	}, nil
}

// jwt発行
func (u *AuthUsecase) issueAccessToken(user *model.User, now time.Time) (string, int, error) {
	exp := now.Add(u.cfg.AccessTokenTTL)

	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"tv":   user.TokenVersion,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := t.SignedString([]byte(u.cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}

	return signed, int(u.cfg.AccessTokenTTL.Seconds()), nil
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		Role:         string(u.Role),
		TokenVersion: u.TokenVersion,
		IsActive:     u.IsActive,
	}
}
