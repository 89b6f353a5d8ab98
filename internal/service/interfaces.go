package service

import "context"

type AuthServiceInterface interface {
	Register(ctx context.Context, in RegisterInput, device DeviceContext) (string, *BrokerSummary, error)
	Login(ctx context.Context, email, password string, device DeviceContext) (string, *BrokerSummary, error)
	Verify(ctx context.Context, token string) (*SessionIdentity, error)
	VerifyFromDevice(ctx context.Context, token, ip string) (*SessionIdentity, error)
	Logout(ctx context.Context, token string) error
	ListSessions(ctx context.Context, callerToken string) ([]SessionView, error)
	RevokeSession(ctx context.Context, callerToken string, sessionID uint) error
}

type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email string) error
	RedeemReset(ctx context.Context, email, code, newPassword string) error
}

// NotificationChannel delivers a reset code out-of-band. Delivery is
// best-effort: implementations report success as a bool and never propagate
// transport errors, so the reset flow cannot leak whether a channel exists.
type NotificationChannel interface {
	Notify(ctx context.Context, title, body string) bool
}
