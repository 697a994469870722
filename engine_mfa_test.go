package goAccess

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/goAccess/mfa"
)

func TestLoginWithActiveTokenIsPendingUntilCodeVerified(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()

	res := f.login(t, "alice@example.com", "/reports/42")
	if !res.MFARequired || res.ChallengeID == "" || res.ChallengeToken == "" {
		t.Fatalf("expected pending challenge, got %+v", res)
	}
	if res.SessionID != "" || res.SessionToken != "" {
		t.Fatal("no session may exist before the second factor")
	}
	sessions, err := f.engine.UserActiveSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("UserActiveSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions while pending, got %d", len(sessions))
	}

	state, err := f.engine.ChallengeState(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("ChallengeState failed: %v", err)
	}
	if !state.IsPending() || state.Authenticated() {
		t.Fatalf("expected pending state, got %+v", state)
	}

	out, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, f.totpCode(t, enrollment.Secret))
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if out.Fallback || out.AutoResolved || out.TokenType != MfaTypeTOTP {
		t.Fatalf("unexpected result %+v", out)
	}
	if out.RedirectTo != "/reports/42" {
		t.Fatalf("expected redirect to deep link, got %q", out.RedirectTo)
	}
	if _, err := f.engine.Authenticate(ctx, out.SessionToken); err != nil {
		t.Fatalf("Authenticate after verification failed: %v", err)
	}

	state, err = f.engine.ChallengeState(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("ChallengeState failed: %v", err)
	}
	if state.Phase != mfa.PhaseVerified {
		t.Fatalf("expected verified phase, got %v", state.Phase)
	}

	_, err = f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, f.totpCode(t, enrollment.Secret))
	if !errors.Is(err, ErrMFANotPending) {
		t.Fatalf("expected ErrMFANotPending on replay, got %v", err)
	}

	entry, ok := f.dir.lastAudit(auditEventMFAVerificationSuccess)
	if !ok || entry.Metadata["fallback"] != "none" || entry.Metadata["token_type"] != MfaTypeTOTP {
		t.Fatalf("unexpected verification audit %+v", entry)
	}
}

func TestConcurrentSubmitCodeStartsOneSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()

	res := f.login(t, "alice@example.com", "")
	code := f.totpCode(t, enrollment.Secret)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrMFANotPending):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
	sessions, err := f.engine.UserActiveSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("UserActiveSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
}

func TestSubmitCodeRejectsEmptyUnknownAndWrongInput(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()
	res := f.login(t, "alice@example.com", "")

	if _, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, "  "); !errors.Is(err, ErrMFACodeRequired) {
		t.Fatalf("expected ErrMFACodeRequired, got %v", err)
	}
	if _, err := f.engine.SubmitCode(ctx, "missing", enrollment.Token.ID, "123456"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for unknown challenge, got %v", err)
	}
	if _, err := f.engine.SubmitCode(ctx, res.ChallengeID, "other-token", "123456"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, "ZZZZ-ZZZZ"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	state, err := f.engine.ChallengeState(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("ChallengeState failed: %v", err)
	}
	if !state.IsPending() {
		t.Fatal("failed attempts must leave the challenge pending")
	}
	if state.Attempts != 2 {
		t.Fatalf("expected 2 counted failures, got %d", state.Attempts)
	}
	if f.dir.countAudit(auditEventMFAVerificationFailed) != 2 {
		t.Fatalf("expected two failure audits, got %v", f.dir.auditActions())
	}
}

func TestSubmitCodeAutoResolvesWhenTokensRemoved(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()
	res := f.login(t, "alice@example.com", "/inbox")

	if err := f.engine.DisableMfaToken(ctx, "u1", enrollment.Token.ID); err != nil {
		t.Fatalf("DisableMfaToken failed: %v", err)
	}

	out, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, "anything")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if !out.AutoResolved || out.SessionToken == "" || out.RedirectTo != "/inbox" {
		t.Fatalf("expected auto-resolved session, got %+v", out)
	}
	if f.dir.countAudit(auditEventMFAAutoResolved) != 1 {
		t.Fatalf("expected mfa_auto_resolved audit, got %v", f.dir.auditActions())
	}

	// Without active tokens the next login is not challenged at all.
	next := f.login(t, "alice@example.com", "")
	if next.MFARequired {
		t.Fatal("login after disabling the last token must not be challenged")
	}
}

func TestResumeChallengeListsTokensOrResolves(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()
	res := f.login(t, "alice@example.com", "/inbox")

	out, tokens, err := f.engine.ResumeChallenge(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("ResumeChallenge failed: %v", err)
	}
	if out != nil || len(tokens) != 1 || tokens[0].ID != enrollment.Token.ID {
		t.Fatalf("expected the enrolled token, got %+v %+v", out, tokens)
	}
	if tokens[0].Secret != "" {
		t.Fatal("token secret must not leave the engine")
	}

	if err := f.engine.DisableMfaToken(ctx, "u1", enrollment.Token.ID); err != nil {
		t.Fatalf("DisableMfaToken failed: %v", err)
	}
	out, tokens, err = f.engine.ResumeChallenge(ctx, res.ChallengeID)
	if err != nil {
		t.Fatalf("ResumeChallenge failed: %v", err)
	}
	if out == nil || !out.AutoResolved || out.SessionToken == "" || len(tokens) != 0 {
		t.Fatalf("expected auto-resolved session, got %+v %+v", out, tokens)
	}
	if _, _, err := f.engine.ResumeChallenge(ctx, res.ChallengeID); !errors.Is(err, ErrMFANotPending) {
		t.Fatalf("expected ErrMFANotPending once verified, got %v", err)
	}
	if _, _, err := f.engine.ResumeChallenge(ctx, "unknown"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for unknown challenge, got %v", err)
	}
}

func TestTOTPFailureFallsBackToBackupCode(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()

	before, err := f.engine.BackupCodesRemaining(ctx, "u1")
	if err != nil {
		t.Fatalf("BackupCodesRemaining failed: %v", err)
	}

	res := f.login(t, "alice@example.com", "")
	out, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, enrollment.BackupCodes[0])
	if err != nil {
		t.Fatalf("backup code fallback failed: %v", err)
	}
	if !out.Fallback || out.TokenType != MfaTypeTOTP {
		t.Fatalf("expected totp token with fallback, got %+v", out)
	}

	after, err := f.engine.BackupCodesRemaining(ctx, "u1")
	if err != nil {
		t.Fatalf("BackupCodesRemaining failed: %v", err)
	}
	if after != before-1 {
		t.Fatalf("expected one code consumed, before=%d after=%d", before, after)
	}

	entry, ok := f.dir.lastAudit(auditEventMFAVerificationSuccess)
	if !ok || entry.Metadata["fallback"] != "backup_code" {
		t.Fatalf("expected fallback recorded, got %+v", entry)
	}
	used, ok := f.dir.lastAudit(auditEventMFABackupCodeUsed)
	if !ok || used.Metadata["via_token"] != enrollment.Token.ID {
		t.Fatalf("expected mfa_backup_code_used entry, got %+v", used)
	}
	for _, e := range f.dir.audit {
		for _, v := range e.Metadata {
			if v == enrollment.BackupCodes[0] {
				t.Fatalf("backup code leaked into audit entry %s", e.Action)
			}
		}
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()
	code := enrollment.BackupCodes[1]

	first := f.login(t, "alice@example.com", "")
	if _, err := f.engine.SubmitCode(ctx, first.ChallengeID, enrollment.Token.ID, code); err != nil {
		t.Fatalf("first use failed: %v", err)
	}

	second := f.login(t, "alice@example.com", "")
	if _, err := f.engine.SubmitCode(ctx, second.ChallengeID, enrollment.Token.ID, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode on reuse, got %v", err)
	}
}

func TestBackupCodeConcurrentUseOnlyOneSucceeds(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	code := enrollment.BackupCodes[2]

	const workers = 8
	challenges := make([]string, workers)
	for i := range challenges {
		challenges[i] = f.login(t, "alice@example.com", "").ChallengeID
	}

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(challengeID string) {
			defer wg.Done()
			_, err := f.engine.SubmitCode(context.Background(), challengeID, enrollment.Token.ID, code)
			results <- err
		}(challenges[i])
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrInvalidCode):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
}

func TestActivateTOTPRejectsWrongCodeAndForeignUser(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	f.addLocalUser(t, "u2", "bob@example.com", "")
	ctx := context.Background()

	enrollment, err := f.engine.EnrollTOTP(ctx, user, "")
	if err != nil {
		t.Fatalf("EnrollTOTP failed: %v", err)
	}
	if enrollment.Token.Active || enrollment.Token.DeviceName != "Authenticator" {
		t.Fatalf("unexpected enrolled token %+v", enrollment.Token)
	}
	if len(enrollment.BackupCodes) != DefaultConfig().MFA.BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", DefaultConfig().MFA.BackupCodeCount, len(enrollment.BackupCodes))
	}

	if err := f.engine.ActivateTOTP(ctx, "u2", enrollment.Token.ID, f.totpCode(t, enrollment.Secret)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign user, got %v", err)
	}
	if err := f.engine.ActivateTOTP(ctx, "u1", enrollment.Token.ID, "12345"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	// An inactive token does not trigger a challenge.
	if res := f.login(t, "alice@example.com", ""); res.MFARequired {
		t.Fatal("inactive token must not trigger a challenge")
	}
}

func TestRegenerateBackupCodesReplacesOldSet(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()

	codes, err := f.engine.RegenerateBackupCodes(ctx, "u1", enrollment.Token.ID)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}

	res := f.login(t, "alice@example.com", "")
	if _, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, enrollment.BackupCodes[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("old code must be rejected, got %v", err)
	}
	if _, err := f.engine.SubmitCode(ctx, res.ChallengeID, enrollment.Token.ID, codes[0]); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestDeleteMfaTokenRemovesCodes(t *testing.T) {
	f := newEngineFixture(t, nil)
	user := f.addLocalUser(t, "u1", "alice@example.com", "")
	enrollment := f.enrollTOTP(t, user)
	ctx := context.Background()

	if err := f.engine.DeleteMfaToken(ctx, "u2", enrollment.Token.ID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign delete, got %v", err)
	}
	if err := f.engine.DeleteMfaToken(ctx, "u1", enrollment.Token.ID); err != nil {
		t.Fatalf("DeleteMfaToken failed: %v", err)
	}
	n, err := f.engine.BackupCodesRemaining(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("expected no codes left, got %d, %v", n, err)
	}
	tokens, err := f.engine.ListMfaTokens(ctx, "u1")
	if err != nil || len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %d, %v", len(tokens), err)
	}
}
