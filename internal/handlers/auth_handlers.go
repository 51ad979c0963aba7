package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/middleware"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/security"
	"github.com/credstack/credstack/internal/service"
)

type AuthHandlers struct {
	otpService   *service.OTPService
	tokenService *service.TokenService
	resetService *service.ResetService
	userRepo     *repository.UserRepository
	logger       *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	tokenService *service.TokenService,
	resetService *service.ResetService,
	userRepo *repository.UserRepository,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:   otpService,
		tokenService: tokenService,
		resetService: resetService,
		userRepo:     userRepo,
		logger:       logger,
	}
}

type SendCodeRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type VerifyCodeRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Code       string `json:"code"`
}

type VerifyCodeResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	ID     string `json:"id"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	Status string `json:"status"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Identifier string `json:"identifier"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) SendCode(w http.ResponseWriter, r *http.Request) {
	h.issueCode(w, r, "Verification code sent")
}

func (h *AuthHandlers) ResendCode(w http.ResponseWriter, r *http.Request) {
	h.issueCode(w, r, "Verification code resent")
}

func (h *AuthHandlers) issueCode(w http.ResponseWriter, r *http.Request, message string) {
	var req SendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	channel, err := models.ParseChannel(req.Channel)
	if identifier == "" || err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "identifier and channel are required")
		return
	}

	user, err := h.userRepo.GetOrCreate(r.Context(), identifier, channel)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve user for code issuance")
		h.respondWithError(w, http.StatusInternalServerError, "CODE_SEND_FAILED", "Failed to send verification code")
		return
	}

	if _, err := h.otpService.Send(r.Context(), user.ID, channel); err != nil {
		if errors.Is(err, service.ErrRateLimitExceeded) {
			h.respondWithError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Please wait before requesting another code")
			return
		}
		h.logger.WithError(err).Error("Failed to issue verification code")
		h.respondWithError(w, http.StatusInternalServerError, "CODE_SEND_FAILED", "Failed to send verification code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: message})
}

func (h *AuthHandlers) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	channel, err := models.ParseChannel(req.Channel)
	if identifier == "" || err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "identifier and channel are required")
		return
	}

	user, err := h.userRepo.GetByIdentifier(r.Context(), identifier)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve user for code verification")
		h.respondWithError(w, http.StatusInternalServerError, "VERIFICATION_FAILED", "Failed to verify code")
		return
	}
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired code")
		return
	}

	if err := h.otpService.Validate(r.Context(), user.ID, channel, strings.TrimSpace(req.Code)); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidFormat):
			h.respondWithError(w, http.StatusBadRequest, "INVALID_CODE_FORMAT", "Code must be exactly 6 digits")
		case errors.Is(err, service.ErrExpired):
			h.respondWithError(w, http.StatusUnauthorized, "CODE_EXPIRED", "Code has expired")
		case errors.Is(err, service.ErrInvalidToken):
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired code")
		default:
			h.logger.WithError(err).Error("Failed to validate code")
			h.respondWithError(w, http.StatusInternalServerError, "VERIFICATION_FAILED", "Failed to verify code")
		}
		return
	}

	tokenPair, err := h.tokenService.IssueTokenPair(r.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue token pair")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, VerifyCodeResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    tokenPair.TokenType,
		ExpiresIn:    tokenPair.ExpiresIn,
		User: UserResponse{
			ID:     user.ID,
			Phone:  user.Phone,
			Email:  user.Email,
			Status: string(user.Status),
		},
	})
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	tokenPair, err := h.tokenService.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrUserNotFound) {
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
			return
		}
		h.logger.WithError(err).Error("Failed to refresh tokens")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, tokenPair)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if middleware.ClaimsFromContext(r.Context()) == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req RefreshTokenRequest
	json.NewDecoder(r.Body).Decode(&req)

	if req.RefreshToken != "" {
		if _, err := h.tokenService.InvalidateRefreshToken(r.Context(), req.RefreshToken); err != nil {
			h.logger.WithError(err).Warn("Failed to invalidate refresh token")
		}
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// ForgotPassword always reports success for a well-formed request so that
// the endpoint cannot be used to enumerate registered identifiers.
func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "identifier is required")
		return
	}

	if _, err := h.resetService.RequestReset(r.Context(), identifier); err != nil && !errors.Is(err, service.ErrUserNotFound) {
		h.logger.WithError(err).Error("Failed to issue reset token")
		h.respondWithError(w, http.StatusInternalServerError, "RESET_REQUEST_FAILED", "Failed to process reset request")
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{
		Message: "If the account exists, reset instructions have been sent",
	})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	err := h.resetService.ResetPassword(r.Context(), strings.TrimSpace(req.Token), req.NewPassword)
	if err != nil {
		var weak *security.WeakPasswordError
		switch {
		case errors.As(err, &weak):
			h.respondWithError(w, http.StatusUnprocessableEntity, "WEAK_PASSWORD", weak.Rule)
		case errors.Is(err, service.ErrExpired):
			h.respondWithError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Reset token has expired")
		case errors.Is(err, service.ErrInvalidToken):
			h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or used reset token")
		case errors.Is(err, service.ErrUserNotFound):
			h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "Account no longer exists")
		default:
			h.logger.WithError(err).Error("Failed to reset password")
			h.respondWithError(w, http.StatusInternalServerError, "RESET_FAILED", "Failed to reset password")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, UserResponse{
		ID:     claims.User.ID,
		Phone:  claims.User.Phone,
		Email:  claims.User.Email,
		Status: string(claims.User.Status),
	})
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
