package authkeep

import (
	"errors"
	"testing"
)

func TestForgotPasswordIsUniformForUnknownEmail(t *testing.T) {
	fx := newTestEngine(t)

	if err := fx.engine.ForgotPassword(testContext(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	if len(fx.mailer.resets) != 0 {
		t.Error("a reset email was sent for an unknown account")
	}
}

func TestForgotPasswordSkipsPasswordlessAccounts(t *testing.T) {
	fx := newTestEngine(t)
	id := fx.users.addUser(t, "dana@example.com", "tr0ub4dor&3 horse")
	fx.users.update(t, id, func(u *UserRecord) { u.PasswordLess = true })

	if err := fx.engine.ForgotPassword(testContext(), "dana@example.com"); err != nil {
		t.Fatalf("passwordless account: %v", err)
	}
	if len(fx.mailer.resets) != 0 {
		t.Error("a reset email was sent for a passwordless account")
	}
}

func TestPasswordResetEndToEnd(t *testing.T) {
	fx := newTestEngine(t)
	fx.users.addUser(t, "dana@example.com", "old password here")

	// An open session that the reset must kill.
	session, err := fx.engine.Login(testContext(), "dana@example.com", "old password here")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := fx.engine.ForgotPassword(testContext(), "dana@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := fx.mailer.lastReset(t).token

	if err := fx.engine.ResetPassword(testContext(), token, "shiny new password"); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	// Old credential dead, new one live.
	if _, err := fx.engine.Login(testContext(), "dana@example.com", "old password here"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := fx.engine.Login(testContext(), "dana@example.com", "shiny new password"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// Every pre-reset session lost its ability to renew.
	if _, err := fx.engine.Refresh(testContext(), session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("pre-reset session: err = %v, want ErrInvalidToken", err)
	}
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	fx := newTestEngine(t)
	fx.users.addUser(t, "dana@example.com", "old password here")

	if err := fx.engine.ForgotPassword(testContext(), "dana@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := fx.mailer.lastReset(t).token

	if err := fx.engine.ResetPassword(testContext(), token, "shiny new password"); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	if err := fx.engine.ResetPassword(testContext(), token, "even newer password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second reset: err = %v, want ErrInvalidToken", err)
	}
}

func TestResetPasswordRejectsBadInput(t *testing.T) {
	fx := newTestEngine(t)
	fx.users.addUser(t, "dana@example.com", "old password here")

	if err := fx.engine.ResetPassword(testContext(), "garbage-token", "shiny new password"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: err = %v, want ErrInvalidToken", err)
	}
	if err := fx.engine.ResetPassword(testContext(), "whatever", "short"); !errors.Is(err, ErrValidation) {
		t.Errorf("short password: err = %v, want ErrValidation", err)
	}
}

func TestResetPasswordRejectsVerificationToken(t *testing.T) {
	fx := newTestEngine(t)
	registerTestUser(t, fx)

	verificationToken := fx.mailer.lastVerification(t).token
	if err := fx.engine.ResetPassword(testContext(), verificationToken, "shiny new password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	fx := newTestEngine(t)
	fx.users.addUser(t, "dana@example.com", "old password here")

	if err := fx.engine.ForgotPassword(testContext(), "dana@example.com"); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := fx.mailer.lastReset(t).token

	// Past the reset TTL the pending record has aged out of Redis.
	fx.redis.FastForward(testConfig().SignedTokens.ResetTTL * 2)

	if err := fx.engine.ResetPassword(testContext(), token, "shiny new password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
