package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/http/middleware"
	"github.com/vendaflow/broker-auth-service/internal/http/response"
	"github.com/vendaflow/broker-auth-service/internal/observability"
	"github.com/vendaflow/broker-auth-service/internal/security"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

// genericCredentialsMessage covers both "unknown email" and "wrong password"
// so the login endpoint does not confirm which addresses have accounts.
const genericCredentialsMessage = "invalid email or password"

const genericResetMessage = "if the account exists, a reset code has been sent"

type AuthHandler struct {
	auth   service.AuthServiceInterface
	resets service.PasswordResetServiceInterface
	guard  service.AuthAbuseGuard
	logger *slog.Logger
}

func NewAuthHandler(auth service.AuthServiceInterface, resets service.PasswordResetServiceInterface, guard service.AuthAbuseGuard, logger *slog.Logger) *AuthHandler {
	if guard == nil {
		guard = service.NoopAuthAbuseGuard{}
	}
	return &AuthHandler{auth: auth, resets: resets, guard: guard, logger: logger}
}

type registerRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	Profile       string `json:"profile"`
	SellerCode    string `json:"seller_code"`
	BrokerageCode string `json:"brokerage_code"`
	BrokerageName string `json:"brokerage_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type authPayload struct {
	Token  string                 `json:"token"`
	Broker *service.BrokerSummary `json:"broker"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	token, broker, err := h.auth.Register(r.Context(), service.RegisterInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Password:      req.Password,
		Profile:       req.Profile,
		SellerCode:    req.SellerCode,
		BrokerageCode: req.BrokerageCode,
		BrokerageName: req.BrokerageName,
	}, deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		case errors.Is(err, service.ErrEmailTaken):
			response.Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
		default:
			h.logger.Error("register failed", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "registration unavailable", nil)
		}
		return
	}
	observability.Audit(r, "broker_registered", "broker_id", broker.ID, "profile", broker.Profile)
	response.JSON(w, r, http.StatusCreated, authPayload{Token: token, Broker: broker})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	ip := middleware.ClientIP(r)

	if cooldown, err := h.guard.Check(r.Context(), service.AuthAbuseScopeLogin, req.Email, ip); err != nil {
		// guard backend failure fails open
		h.logger.Warn("abuse guard check failed", "error", err)
	} else if cooldown > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(cooldown))
		response.Error(w, r, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many failed attempts, try again later", nil)
		return
	}

	token, broker, err := h.auth.Login(r.Context(), req.Email, req.Password, deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBrokerNotFound), errors.Is(err, service.ErrInvalidCredentials):
			if _, gerr := h.guard.RegisterFailure(r.Context(), service.AuthAbuseScopeLogin, req.Email, ip); gerr != nil {
				h.logger.Warn("abuse guard register failed", "error", gerr)
			}
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", genericCredentialsMessage, nil)
		case errors.Is(err, service.ErrAccountDisabled):
			response.Error(w, r, http.StatusForbidden, "ACCOUNT_DISABLED", "account is disabled", nil)
		default:
			h.logger.Error("login failed", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "login unavailable", nil)
		}
		return
	}
	if err := h.guard.Reset(r.Context(), service.AuthAbuseScopeLogin, req.Email, ip); err != nil {
		h.logger.Warn("abuse guard reset failed", "error", err)
	}
	observability.Audit(r, "broker_login", "broker_id", broker.ID)
	response.JSON(w, r, http.StatusOK, authPayload{Token: token, Broker: broker})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.logger.Error("logout failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "logout unavailable", nil)
		return
	}
	observability.Audit(r, "broker_logout")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	ip := middleware.ClientIP(r)
	if cooldown, err := h.guard.Check(r.Context(), service.AuthAbuseScopeForgot, req.Email, ip); err != nil {
		h.logger.Warn("abuse guard check failed", "error", err)
	} else if cooldown > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(cooldown))
		response.Error(w, r, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many requests, try again later", nil)
		return
	}
	if _, err := h.guard.RegisterFailure(r.Context(), service.AuthAbuseScopeForgot, req.Email, ip); err != nil {
		h.logger.Warn("abuse guard register failed", "error", err)
	}

	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		h.logger.Error("reset request failed", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "password reset unavailable", nil)
		return
	}
	observability.Audit(r, "password_reset_requested")
	// the message is identical whether or not the account exists
	response.JSON(w, r, http.StatusOK, map[string]string{"message": genericResetMessage})
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", nil)
		return
	}
	if err := h.resets.RedeemReset(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		case errors.Is(err, service.ErrResetCodeInvalid):
			response.Error(w, r, http.StatusBadRequest, "INVALID_OR_EXPIRED", "reset code is invalid or expired", nil)
		default:
			h.logger.Error("reset redemption failed", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "password reset unavailable", nil)
		}
		return
	}
	observability.Audit(r, "password_reset_redeemed")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_updated"})
}

func deviceContext(r *http.Request) service.DeviceContext {
	ua := r.UserAgent()
	ip := middleware.ClientIP(r)
	return service.DeviceContext{
		Fingerprint: security.DeviceFingerprint(ua, ip),
		DeviceName:  security.DeviceName(ua),
		IP:          ip,
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
