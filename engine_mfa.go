package goAccess

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/goAccess/mfa"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

/*
====================================
MFA CHALLENGE
====================================
*/

// BeginChallenge stores a pending challenge for user under challengeID. The
// user must hold at least one active token. targetPath is where the user
// lands once verified.
func (e *Engine) BeginChallenge(ctx context.Context, challengeID string, user *User, targetPath string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}
	if challengeID == "" || user == nil || user.ID == "" {
		return ErrAccessDenied
	}
	tokens, err := e.directory.ActiveMfaTokens(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if len(tokens) == 0 {
		return ErrMFANotEnrolled
	}

	state := mfa.Pending(user.ID, user.TenantID, targetPath, e.now())
	if err := e.challenges.Save(ctx, challengeID, state); err != nil {
		return fmt.Errorf("%w: %v", ErrMFABackend, err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFARequired,
		success:  true,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
		metadata: func() map[string]string {
			return map[string]string{
				"active_tokens": strconv.Itoa(len(tokens)),
			}
		},
	})
	return nil
}

// ChallengeState returns the state stored under challengeID. A missing or
// expired challenge is reported as ErrMFANotPending.
func (e *Engine) ChallengeState(ctx context.Context, challengeID string) (mfa.State, error) {
	if e == nil || e.challenges == nil {
		return mfa.State{}, ErrEngineNotReady
	}
	state, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, mfa.ErrChallengeNotFound) {
			return mfa.State{}, ErrMFANotPending
		}
		return mfa.State{}, fmt.Errorf("%w: %v", ErrMFABackend, err)
	}
	return state, nil
}

// SubmitCode verifies code against the token selected by tokenID for the
// pending challenge challengeID.
//
// Outcomes:
//   - empty code: ErrMFACodeRequired, the challenge is untouched.
//   - no pending challenge or unknown user: ErrAccessDenied.
//   - the user has no active token any more: the challenge resolves to
//     verified without a code.
//   - token unknown, foreign or inactive: ErrInvalidToken.
//   - TOTP mismatch: the code is tried against the user's unused backup
//     codes before failing.
//   - mismatch: ErrInvalidCode, the challenge stays pending.
//
// On success the challenge becomes verified and a new session is started.
func (e *Engine) SubmitCode(ctx context.Context, challengeID, tokenID, code string) (*MFAResult, error) {
	if e == nil || e.challenges == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMFACodeRequired
	}

	state, user, active, err := e.pendingChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return e.autoResolve(ctx, challengeID, state, user)
	}

	var token *MfaToken
	for i := range active {
		if active[i].ID == tokenID {
			token = &active[i]
			break
		}
	}
	if token == nil {
		return nil, e.verificationFailed(ctx, challengeID, user, nil, ErrInvalidToken)
	}

	var (
		ok       bool
		fallback bool
	)
	switch token.Type {
	case MfaTypeTOTP:
		ok = e.totp.Validate(token.Secret, code, e.now())
		if !ok {
			ok, err = e.consumeBackupCode(ctx, user, token, code)
			if err != nil {
				return nil, err
			}
			fallback = ok
		}
	case MfaTypeBackup:
		ok, err = e.consumeBackupCode(ctx, user, token, code)
		if err != nil {
			return nil, err
		}
	default:
		return nil, e.verificationFailed(ctx, challengeID, user, token, ErrInvalidToken)
	}
	if !ok {
		return nil, e.verificationFailed(ctx, challengeID, user, token, ErrInvalidCode)
	}

	if err := e.directory.RecordMfaTokenUse(ctx, token.ID, e.now()); err != nil {
		e.log.Warn("mfa token usage not recorded", zap.String("token_id", token.ID), zap.Error(err))
	}

	verified := state.Verified()
	if err := e.markVerified(ctx, challengeID, verified); err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	if fallback {
		e.metricInc(MetricMFAFallback)
	}
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFAVerificationSuccess,
		success:  true,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
		entityID: token.ID,
		metadata: func() map[string]string {
			md := map[string]string{
				"token_type": token.Type,
				"device":     token.DeviceName,
				"fallback":   "none",
			}
			if fallback {
				md["fallback"] = "backup_code"
			}
			return md
		},
	})

	sid, sessionToken, evicted, err := e.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &MFAResult{
		User:         user,
		TokenType:    token.Type,
		Fallback:     fallback,
		RedirectTo:   verified.RedirectTarget(e.config.DefaultLanding),
		SessionID:    sid,
		SessionToken: sessionToken,
		Evicted:      evicted,
	}, nil
}

// ResumeChallenge is called when the challenge form is shown. When the user
// no longer holds an active token the challenge resolves to verified and the
// new session is returned. Otherwise the result is nil and the active tokens
// to choose from are returned, secrets cleared.
func (e *Engine) ResumeChallenge(ctx context.Context, challengeID string) (*MFAResult, []MfaToken, error) {
	if e == nil || e.challenges == nil || e.directory == nil {
		return nil, nil, ErrEngineNotReady
	}
	state, user, active, err := e.pendingChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, err
	}
	if len(active) == 0 {
		res, err := e.autoResolve(ctx, challengeID, state, user)
		return res, nil, err
	}
	for i := range active {
		active[i].Secret = ""
	}
	return nil, active, nil
}

// markVerified moves the challenge out of pending. A concurrent submission
// that got there first leaves this one with ErrMFANotPending.
func (e *Engine) markVerified(ctx context.Context, challengeID string, verified mfa.State) error {
	err := e.challenges.MarkVerified(ctx, challengeID, verified)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mfa.ErrChallengeConsumed):
		return ErrMFANotPending
	case errors.Is(err, mfa.ErrChallengeNotFound):
		return ErrAccessDenied
	default:
		return fmt.Errorf("%w: %v", ErrMFABackend, err)
	}
}

// pendingChallenge loads a pending challenge together with its user and
// the user's active tokens. Challenges of missing or disabled users are
// dropped.
func (e *Engine) pendingChallenge(ctx context.Context, challengeID string) (mfa.State, *User, []MfaToken, error) {
	state, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, mfa.ErrChallengeNotFound) {
			return mfa.State{}, nil, nil, ErrAccessDenied
		}
		return mfa.State{}, nil, nil, fmt.Errorf("%w: %v", ErrMFABackend, err)
	}
	if !state.IsPending() {
		if state.Phase == mfa.PhaseVerified {
			return mfa.State{}, nil, nil, ErrMFANotPending
		}
		return mfa.State{}, nil, nil, ErrAccessDenied
	}

	user, err := e.directory.UserByID(ctx, state.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.dropChallenge(ctx, challengeID)
			return mfa.State{}, nil, nil, ErrAccessDenied
		}
		return mfa.State{}, nil, nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !user.Active {
		e.dropChallenge(ctx, challengeID)
		return mfa.State{}, nil, nil, ErrAccessDenied
	}

	active, err := e.directory.ActiveMfaTokens(ctx, user.ID)
	if err != nil {
		return mfa.State{}, nil, nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return state, user, active, nil
}

// autoResolve completes a challenge whose user lost every active token while
// it was pending. No code is checked.
func (e *Engine) autoResolve(ctx context.Context, challengeID string, state mfa.State, user *User) (*MFAResult, error) {
	verified := state.Verified()
	if err := e.markVerified(ctx, challengeID, verified); err != nil {
		return nil, err
	}

	e.metricInc(MetricMFAAutoResolved)
	e.log.Warn("mfa challenge resolved without code, no active tokens",
		zap.String("user_id", user.ID),
	)
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFAAutoResolved,
		success:  true,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
	})

	sid, token, evicted, err := e.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &MFAResult{
		User:         user,
		AutoResolved: true,
		RedirectTo:   verified.RedirectTarget(e.config.DefaultLanding),
		SessionID:    sid,
		SessionToken: token,
		Evicted:      evicted,
	}, nil
}

func (e *Engine) verificationFailed(ctx context.Context, challengeID string, user *User, token *MfaToken, cause error) error {
	attempts, err := e.challenges.RecordFailure(ctx, challengeID)
	if err != nil && !errors.Is(err, mfa.ErrChallengeNotFound) {
		e.log.Warn("mfa attempt not counted", zap.Error(err))
	}

	e.metricInc(MetricMFAFailure)
	ev := auditEvent{
		action:   auditEventMFAVerificationFailed,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
		err:      cause,
		metadata: func() map[string]string {
			md := map[string]string{"attempts": strconv.Itoa(attempts)}
			if token != nil {
				md["token_type"] = token.Type
				md["device"] = token.DeviceName
			}
			return md
		},
	}
	if token != nil {
		ev.entityID = token.ID
	}
	e.emitAudit(ctx, ev)
	return cause
}

func (e *Engine) dropChallenge(ctx context.Context, challengeID string) {
	if _, err := e.challenges.Delete(ctx, challengeID); err != nil {
		e.log.Warn("mfa challenge not removed", zap.Error(err))
	}
}

// consumeBackupCode matches code against every unused backup code of the
// user's active tokens and marks the match used. Two concurrent submissions
// of one code never both succeed.
func (e *Engine) consumeBackupCode(ctx context.Context, user *User, via *MfaToken, code string) (bool, error) {
	codes, err := e.directory.UnusedBackupCodes(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if len(codes) == 0 {
		return false, nil
	}
	candidates := make([]mfa.BackupCodeHash, len(codes))
	for i := range codes {
		copy(candidates[i][:], codes[i].Hash)
	}
	idx, ok := mfa.MatchBackupCode(user.ID, code, candidates)
	if !ok {
		return false, nil
	}
	consumed, err := e.directory.ConsumeBackupCode(ctx, codes[idx].ID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if !consumed {
		return false, nil
	}

	remaining, err := e.directory.CountUnusedBackupCodes(ctx, user.ID)
	if err != nil {
		e.log.Warn("backup code count failed", zap.String("user_id", user.ID), zap.Error(err))
		remaining = -1
	}
	e.metricInc(MetricBackupCodeUsed)
	if remaining >= 0 && remaining <= e.config.MFA.LowBackupCodeThreshold {
		e.log.Warn("user is running low on backup codes",
			zap.String("user_id", user.ID),
			zap.Int("remaining", remaining),
		)
	}
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFABackupCodeUsed,
		success:  true,
		actor:    user.Email,
		userID:   user.ID,
		tenantID: user.TenantID,
		entityID: codes[idx].TokenID,
		metadata: func() map[string]string {
			return map[string]string{
				"remaining_codes": strconv.Itoa(remaining),
				"via_token":       via.ID,
			}
		},
	})
	return true, nil
}

/*
====================================
MFA TOKEN MANAGEMENT
====================================
*/

// EnrollTOTP creates an inactive TOTP token with a fresh secret and backup
// codes. The secret, provisioning URI and codes are returned once and never
// again. The token becomes usable after [Engine.ActivateTOTP].
func (e *Engine) EnrollTOTP(ctx context.Context, user *User, deviceName string) (*TOTPEnrollment, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	if user == nil || user.ID == "" {
		return nil, ErrAccessDenied
	}
	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		deviceName = "Authenticator"
	}

	enrollment, err := e.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}
	codes, err := mfa.GenerateBackupCodes(user.ID, e.config.MFA.BackupCodeCount, e.config.MFA.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}

	token := MfaToken{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Type:       MfaTypeTOTP,
		DeviceName: deviceName,
		Secret:     enrollment.Secret,
		Active:     false,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.directory.CreateMfaToken(ctx, token, hashBytes(codes.Hashes)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	e.log.Info("totp enrollment started", zap.String("user_id", user.ID), zap.String("token_id", token.ID))
	return &TOTPEnrollment{
		Token:           &token,
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		BackupCodes:     codes.Codes,
	}, nil
}

// ActivateTOTP confirms an enrollment: the first correct code activates the
// token. Activating an active token again is a no-op.
func (e *Engine) ActivateTOTP(ctx context.Context, userID, tokenID, code string) error {
	token, err := e.ownedToken(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	if token.Type != MfaTypeTOTP {
		return ErrInvalidToken
	}
	if token.Active {
		return nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrMFACodeRequired
	}
	if !e.totp.Validate(token.Secret, code, e.now()) {
		return ErrInvalidCode
	}
	if err := e.directory.SetMfaTokenActive(ctx, token.ID, true); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if err := e.directory.RecordMfaTokenUse(ctx, token.ID, e.now()); err != nil {
		e.log.Warn("mfa token usage not recorded", zap.String("token_id", token.ID), zap.Error(err))
	}

	e.metricInc(MetricTOTPEnrolled)
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFATOTPEnabled,
		success:  true,
		userID:   userID,
		entityID: token.ID,
		metadata: func() map[string]string {
			return map[string]string{"device": token.DeviceName}
		},
	})
	return nil
}

// RegenerateBackupCodes replaces every backup code of the token and returns
// the new codes once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, tokenID string) ([]string, error) {
	token, err := e.ownedToken(ctx, userID, tokenID)
	if err != nil {
		return nil, err
	}
	codes, err := mfa.GenerateBackupCodes(userID, e.config.MFA.BackupCodeCount, e.config.MFA.BackupCodeLength, nil)
	if err != nil {
		return nil, err
	}
	if err := e.directory.ReplaceBackupCodes(ctx, token.ID, hashBytes(codes.Hashes)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFABackupCodesRegenerated,
		success:  true,
		userID:   userID,
		entityID: token.ID,
		metadata: func() map[string]string {
			return map[string]string{"count": strconv.Itoa(len(codes.Codes))}
		},
	})
	return codes.Codes, nil
}

// DisableMfaToken deactivates a token. A user whose last token is disabled
// no longer gets challenged, and pending challenges of that user resolve
// without a code.
func (e *Engine) DisableMfaToken(ctx context.Context, userID, tokenID string) error {
	token, err := e.ownedToken(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	if !token.Active {
		return nil
	}
	if err := e.directory.SetMfaTokenActive(ctx, token.ID, false); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFATokenDisabled,
		success:  true,
		userID:   userID,
		entityID: token.ID,
		metadata: func() map[string]string {
			return map[string]string{"token_type": token.Type, "device": token.DeviceName}
		},
	})
	return nil
}

// DeleteMfaToken removes a token and its backup codes.
func (e *Engine) DeleteMfaToken(ctx context.Context, userID, tokenID string) error {
	token, err := e.ownedToken(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	if err := e.directory.DeleteMfaToken(ctx, token.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	e.emitAudit(ctx, auditEvent{
		action:   auditEventMFATokenDeleted,
		success:  true,
		userID:   userID,
		entityID: token.ID,
		metadata: func() map[string]string {
			return map[string]string{"token_type": token.Type, "device": token.DeviceName}
		},
	})
	return nil
}

// ListMfaTokens returns every token of userID, active or not.
func (e *Engine) ListMfaTokens(ctx context.Context, userID string) ([]MfaToken, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	tokens, err := e.directory.MfaTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return tokens, nil
}

// MfaToken returns one token. A token of another user is reported as
// ErrInvalidToken.
func (e *Engine) MfaToken(ctx context.Context, userID, tokenID string) (*MfaToken, error) {
	return e.ownedToken(ctx, userID, tokenID)
}

// BackupCodesRemaining counts the unused backup codes of userID's active
// tokens.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if e == nil || e.directory == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.directory.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	return n, nil
}

func (e *Engine) ownedToken(ctx context.Context, userID, tokenID string) (*MfaToken, error) {
	if e == nil || e.directory == nil {
		return nil, ErrEngineNotReady
	}
	token, err := e.directory.MfaToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}
	if token.UserID != userID {
		return nil, ErrInvalidToken
	}
	return token, nil
}

func hashBytes(hashes []mfa.BackupCodeHash) [][]byte {
	out := make([][]byte, len(hashes))
	for i := range hashes {
		h := hashes[i]
		out[i] = h[:]
	}
	return out
}
