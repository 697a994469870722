package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis failure surfaced by the registry.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionConflict is returned when a session id is registered twice for
// different users or after it was terminated.
var ErrSessionConflict = errors.New("session id conflict")

// Status is the outcome of [Registry.Touch] and [Registry.Validate].
type Status int

const (
	// StatusInactive means the id is unknown or already terminated.
	StatusInactive Status = 0
	// StatusActive means the session is valid.
	StatusActive Status = 1
	// StatusExpired means the session passed a timeout and was terminated by
	// this call.
	StatusExpired Status = 2
)

const (
	registerStatusCreated  int64 = 1
	registerStatusExisting int64 = 2
	registerStatusConflict int64 = 3
	// statusIndexChanged means the user index moved between the read and
	// the script. Nothing was written; the caller reads again.
	statusIndexChanged int64 = 4
)

const maxIndexAttempts = 5

// Every script shares this prelude. All keys of a registry carry the same
// hash tag and every key a script touches arrives through KEYS, so the
// scripts run unchanged on a Redis Cluster. KEYS[1] is the active index;
// ARGV[1..4] are now (ms), idle (ms), absolute (ms) and retention (ms).
// Numbers handed to redis.call are always ARGV strings.
const scriptPrelude = `
local active_key = KEYS[1]
local now_str = ARGV[1]
local now = tonumber(now_str)
local idle = tonumber(ARGV[2])
local absolute = tonumber(ARGV[3])
local retain = tonumber(ARGV[4])

local function is_expired(created, last)
  if idle > 0 and now - last > idle then
    return true
  end
  if absolute > 0 and now - created > absolute then
    return true
  end
  return false
end

-- user_key may be nil; the stale index member is pruned by the next
-- register or user listing.
local function terminate(id, key, user_key, reason, actor)
  local state = redis.call("HGET", key, "active")
  redis.call("ZREM", active_key, id)
  if user_key then
    redis.call("ZREM", user_key, id)
  end
  if state ~= "1" then
    return false
  end
  redis.call("HSET", key, "active", "0", "reason", reason, "by", actor, "ended", now_str)
  if retain > 0 then
    redis.call("PEXPIRE", key, ARGV[4])
  else
    redis.call("DEL", key)
  end
  return true
end

local function check(id, key, user_key)
  local fields = redis.call("HMGET", key, "active", "created", "last")
  if fields[1] ~= "1" then
    return 0
  end
  if is_expired(tonumber(fields[2]) or 0, tonumber(fields[3]) or 0) then
    terminate(id, key, user_key, "expired", "")
    return 2
  end
  return 1
end

-- owner_key returns KEYS[3] when the caller declared the user index that
-- owns the session in KEYS[2], nil otherwise.
local function owner_key(uid_hint)
  if uid_hint == "" or KEYS[3] == nil then
    return nil
  end
  if redis.call("HGET", KEYS[2], "uid") ~= uid_hint then
    return nil
  end
  return KEYS[3]
end
`

// KEYS[2] is the user index and KEYS[3] the new session. KEYS[4..] are the
// sessions the caller read from the user index; their ids follow ARGV[12]
// in the same order. A changed index returns status 4 before any write.
const registerScript = scriptPrelude + `
local user_key = KEYS[2]
local session_key = KEYS[3]
local sid = ARGV[5]
local uid = ARGV[6]
local max = tonumber(ARGV[11])

local members = redis.call("ZRANGE", user_key, 0, -1)
if #members ~= #ARGV - 12 then
  return {4, {}, {}}
end
local keys = {}
for i, id in ipairs(members) do
  if ARGV[12 + i] ~= id then
    return {4, {}, {}}
  end
  keys[id] = KEYS[3 + i]
end

if redis.call("EXISTS", session_key) == 1 then
  local current = redis.call("HMGET", session_key, "active", "uid")
  if current[1] == "1" and current[2] == uid and check(sid, session_key, user_key) == 1 then
    redis.call("HSET", session_key, "last", now_str)
    redis.call("ZADD", active_key, now_str, sid)
    return {2, {}, {}}
  end
  return {3, {}, {}}
end

local expired = {}
for _, id in ipairs(members) do
  local state = check(id, keys[id], user_key)
  if state == 0 then
    redis.call("ZREM", user_key, id)
    redis.call("ZREM", active_key, id)
  elseif state == 2 then
    table.insert(expired, id)
  end
end

local evicted = {}
if max > 0 then
  while redis.call("ZCARD", user_key) >= max do
    local oldest = redis.call("ZRANGE", user_key, 0, 0)[1]
    if oldest == nil or keys[oldest] == nil then
      break
    end
    if terminate(oldest, keys[oldest], user_key, "policy_exceeded", "") then
      table.insert(evicted, oldest)
    end
  end
end

redis.call("HSET", session_key,
  "uid", uid, "email", ARGV[7], "tid", ARGV[8], "ip", ARGV[9], "ua", ARGV[10],
  "created", now_str, "last", now_str, "active", "1")
if tonumber(ARGV[12]) > 0 then
  redis.call("PEXPIRE", session_key, ARGV[12])
end
redis.call("ZADD", user_key, now_str, sid)
redis.call("ZADD", active_key, now_str, sid)
return {1, evicted, expired}
`

// KEYS[2] is the session and KEYS[3], when present, its owner's index.
const checkScript = scriptPrelude + `
local session_key = KEYS[2]
local sid = ARGV[5]
local user_key = owner_key(ARGV[6])
local state = check(sid, session_key, user_key)
if state == 0 then
  redis.call("ZREM", active_key, sid)
elseif state == 1 and ARGV[7] == "1" then
  redis.call("HSET", session_key, "last", now_str)
  redis.call("ZADD", active_key, now_str, sid)
  if tonumber(ARGV[8]) > 0 then
    redis.call("PEXPIRE", session_key, ARGV[8])
  end
end
return state
`

const terminateScript = scriptPrelude + `
if terminate(ARGV[5], KEYS[2], owner_key(ARGV[6]), ARGV[7], ARGV[8]) then
  return 1
end
return 0
`

// KEYS[2] is the user index and KEYS[3..] the sessions read from it, ids in
// ARGV[7..]. A changed index returns {4} before any write.
const terminateUserScript = scriptPrelude + `
local user_key = KEYS[2]
local ids = redis.call("ZRANGE", user_key, 0, -1)
if #ids ~= #ARGV - 6 then
  return {4, {}}
end
for i, id in ipairs(ids) do
  if ARGV[6 + i] ~= id then
    return {4, {}}
  end
end
local done = {}
for i, id in ipairs(ids) do
  if terminate(id, KEYS[2 + i], user_key, ARGV[5], ARGV[6]) then
    table.insert(done, id)
  end
end
return {1, done}
`

var (
	registerLua      = redis.NewScript(registerScript)
	checkLua         = redis.NewScript(checkScript)
	terminateLua     = redis.NewScript(terminateScript)
	terminateUserLua = redis.NewScript(terminateUserScript)
)

// Options configures a [Registry].
type Options struct {
	// Prefix namespaces every key. Defaults to "ags". It is used as the
	// hash tag, so one registry lives in a single cluster slot.
	Prefix string
	// MaxConcurrent caps active sessions per user. Zero disables the cap.
	MaxConcurrent int
	// IdleTimeout terminates sessions without activity for this long.
	IdleTimeout time.Duration
	// AbsoluteLifetime terminates sessions this long after creation.
	AbsoluteLifetime time.Duration
	// RetainTerminated keeps terminated records readable for this long.
	RetainTerminated time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Registration describes a freshly authenticated session.
type Registration struct {
	SessionID string
	UserID    string
	Email     string
	TenantID  string
	IP        string
	UserAgent string
}

// Registry is the Redis-backed active session registry.
type Registry struct {
	redis redis.UniversalClient
	opts  Options
}

// NewRegistry creates a [Registry] backed by the given Redis client.
func NewRegistry(rdb redis.UniversalClient, opts Options) *Registry {
	if opts.Prefix == "" {
		opts.Prefix = "ags"
	}
	if opts.MaxConcurrent < 0 {
		opts.MaxConcurrent = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{redis: rdb, opts: opts}
}

// MaxConcurrent returns the configured per-user cap.
func (r *Registry) MaxConcurrent() int {
	return r.opts.MaxConcurrent
}

// IdleTimeout returns the configured idle timeout.
func (r *Registry) IdleTimeout() time.Duration {
	return r.opts.IdleTimeout
}

func (r *Registry) tag() string       { return "{" + r.opts.Prefix + "}" }
func (r *Registry) activeKey() string { return r.tag() + ":active" }

func (r *Registry) sessionKey(sessionID string) string {
	return r.tag() + ":s:" + sessionID
}

func (r *Registry) userKey(userID string) string {
	return r.tag() + ":u:" + userID
}

// ownedKeys lists the active index and the session key, plus the owner's
// index when userID is known.
func (r *Registry) ownedKeys(sessionID, userID string) []string {
	keys := []string{r.activeKey(), r.sessionKey(sessionID)}
	if userID != "" {
		keys = append(keys, r.userKey(userID))
	}
	return keys
}

func (r *Registry) recordTTL() time.Duration {
	switch {
	case r.opts.AbsoluteLifetime > 0:
		return r.opts.AbsoluteLifetime + r.opts.RetainTerminated
	case r.opts.IdleTimeout > 0:
		return r.opts.IdleTimeout + r.opts.RetainTerminated
	default:
		return 0
	}
}

func (r *Registry) preludeArgs(now time.Time) []interface{} {
	return []interface{}{
		fmt.Sprintf("%d", now.UnixMilli()),
		millis(r.opts.IdleTimeout),
		millis(r.opts.AbsoluteLifetime),
		millis(r.opts.RetainTerminated),
	}
}

// Register records a new active session. Within one script it terminates the
// user's expired sessions, then evicts the oldest active ones while the user
// is at the cap, then inserts the new record.
//
//	Performance: 1 ZRANGE + 1 Lua EVALSHA, O(n) in the user's session count.
func (r *Registry) Register(ctx context.Context, reg Registration) (*RegisterResult, error) {
	if reg.SessionID == "" || reg.UserID == "" {
		return nil, errors.New("session id and user id are required")
	}
	now := r.opts.Now()
	userKey := r.userKey(reg.UserID)

	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		members, err := r.redis.ZRange(ctx, userKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		keys := make([]string, 0, 3+len(members))
		keys = append(keys, r.activeKey(), userKey, r.sessionKey(reg.SessionID))
		args := append(r.preludeArgs(now),
			reg.SessionID,
			reg.UserID,
			reg.Email,
			reg.TenantID,
			reg.IP,
			reg.UserAgent,
			r.opts.MaxConcurrent,
			millis(r.recordTTL()),
		)
		for _, id := range members {
			keys = append(keys, r.sessionKey(id))
			args = append(args, id)
		}

		raw, err := registerLua.Run(ctx, r.redis, keys, args...).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		parts, ok := raw.([]interface{})
		if !ok || len(parts) != 3 {
			return nil, fmt.Errorf("%w: invalid register script response", ErrRedisUnavailable)
		}
		status, _ := parts[0].(int64)

		switch status {
		case statusIndexChanged:
			continue
		case registerStatusConflict:
			return nil, ErrSessionConflict
		case registerStatusCreated, registerStatusExisting:
		default:
			return nil, fmt.Errorf("%w: unknown register script status", ErrRedisUnavailable)
		}

		return &RegisterResult{
			Record: &Record{
				SessionID:      reg.SessionID,
				UserID:         reg.UserID,
				Email:          reg.Email,
				TenantID:       reg.TenantID,
				IP:             reg.IP,
				UserAgent:      reg.UserAgent,
				CreatedAt:      time.UnixMilli(now.UnixMilli()),
				LastActivityAt: time.UnixMilli(now.UnixMilli()),
				Active:         true,
			},
			Evicted:  toStrings(parts[1]),
			Expired:  toStrings(parts[2]),
			Existing: status == registerStatusExisting,
		}, nil
	}
	return nil, fmt.Errorf("%w: session index of user %s kept changing", ErrRedisUnavailable, reg.UserID)
}

// Touch refreshes the last-activity time. Touching an inactive session is a
// no-op; touching an expired one terminates it with ReasonExpired.
func (r *Registry) Touch(ctx context.Context, sessionID string) (Status, error) {
	return r.check(ctx, sessionID, "", true)
}

// TouchOwned is Touch for a caller that knows the session's user. An
// expiry then also clears the user's index entry.
func (r *Registry) TouchOwned(ctx context.Context, sessionID, userID string) (Status, error) {
	return r.check(ctx, sessionID, userID, true)
}

// Validate reports whether sessionID is active, terminating it lazily when
// it has expired.
func (r *Registry) Validate(ctx context.Context, sessionID string) (Status, error) {
	return r.check(ctx, sessionID, "", false)
}

func (r *Registry) check(ctx context.Context, sessionID, userID string, touch bool) (Status, error) {
	if sessionID == "" {
		return StatusInactive, nil
	}
	flag := "0"
	if touch {
		flag = "1"
	}
	sliding := "0"
	if r.opts.AbsoluteLifetime <= 0 {
		sliding = millis(r.recordTTL())
	}
	args := append(r.preludeArgs(r.opts.Now()), sessionID, userID, flag, sliding)

	status, err := checkLua.Run(ctx, r.redis, r.ownedKeys(sessionID, userID), args...).Int64()
	if err != nil {
		return StatusInactive, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Status(status), nil
}

// Terminate ends sessionID with reason. It returns false when the session
// does not exist or is already inactive.
func (r *Registry) Terminate(ctx context.Context, sessionID string, reason Reason, actor string) (bool, error) {
	return r.TerminateOwned(ctx, sessionID, "", reason, actor)
}

// TerminateOwned is Terminate for a caller that knows the session's user.
// The user's index entry goes in the same script; without userID it is
// pruned by the next Register or UserSessions.
func (r *Registry) TerminateOwned(ctx context.Context, sessionID, userID string, reason Reason, actor string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	args := append(r.preludeArgs(r.opts.Now()), sessionID, userID, string(reason), actor)

	n, err := terminateLua.Run(ctx, r.redis, r.ownedKeys(sessionID, userID), args...).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// TerminateUser ends every active session of userID and returns the ids it
// terminated.
//
//	Performance: 1 ZRANGE + 1 Lua EVALSHA.
func (r *Registry) TerminateUser(ctx context.Context, userID string, reason Reason, actor string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	userKey := r.userKey(userID)

	for attempt := 0; attempt < maxIndexAttempts; attempt++ {
		ids, err := r.redis.ZRange(ctx, userKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		keys := make([]string, 0, 2+len(ids))
		keys = append(keys, r.activeKey(), userKey)
		args := append(r.preludeArgs(r.opts.Now()), string(reason), actor)
		for _, id := range ids {
			keys = append(keys, r.sessionKey(id))
			args = append(args, id)
		}

		raw, err := terminateUserLua.Run(ctx, r.redis, keys, args...).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		parts, ok := raw.([]interface{})
		if !ok || len(parts) != 2 {
			return nil, fmt.Errorf("%w: invalid terminate script response", ErrRedisUnavailable)
		}
		if status, _ := parts[0].(int64); status == statusIndexChanged {
			continue
		}
		return toStrings(parts[1]), nil
	}
	return nil, fmt.Errorf("%w: session index of user %s kept changing", ErrRedisUnavailable, userID)
}

// Get returns the record for sessionID, active or retained. The boolean is
// false when nothing is stored.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Record, bool, error) {
	fields, err := r.redis.HGetAll(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec, ok := decodeRecord(sessionID, fields)
	return rec, ok, nil
}

// List returns active sessions ordered by most recent activity first.
// emailFilter is a case-insensitive substring match; limit <= 0 means all.
// Expired sessions found on the way are terminated.
func (r *Registry) List(ctx context.Context, emailFilter string, limit int) ([]*Record, error) {
	ids, err := r.redis.ZRevRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	records, err := r.loadActive(ctx, ids)
	if err != nil {
		return nil, err
	}

	filter := strings.ToLower(strings.TrimSpace(emailFilter))
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if filter != "" && !strings.Contains(strings.ToLower(rec.Email), filter) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UserSessions returns the active sessions of userID, most recent activity
// first.
func (r *Registry) UserSessions(ctx context.Context, userID string) ([]*Record, error) {
	userKey := r.userKey(userID)
	ids, err := r.redis.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	records, err := r.loadActive(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(records) < len(ids) {
		if err := r.prune(ctx, userKey, ids, records); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastActivityAt.After(records[j].LastActivityAt)
	})
	return records, nil
}

// Statistics aggregates the active sessions.
func (r *Registry) Statistics(ctx context.Context) (*Statistics, error) {
	records, err := r.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	cutoff := r.opts.Now().Add(-24 * time.Hour)
	stats := &Statistics{
		TotalActive:   len(records),
		PerUser:       make(map[string]int),
		MaxConcurrent: r.opts.MaxConcurrent,
	}
	for _, rec := range records {
		stats.PerUser[rec.UserID]++
		if rec.CreatedAt.After(cutoff) {
			stats.CreatedLast24h++
		}
	}
	stats.UniqueUsers = len(stats.PerUser)
	return stats, nil
}

// Sweep terminates every active session that passed a timeout and returns
// their ids. Reads already do this lazily; Sweep is for scheduled cleanup.
func (r *Registry) Sweep(ctx context.Context) ([]string, error) {
	ids, err := r.redis.ZRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var expired []string
	for _, id := range ids {
		status, err := r.Validate(ctx, id)
		if err != nil {
			return expired, err
		}
		if status == StatusExpired {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (r *Registry) loadActive(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := r.opts.Now()
	out := make([]*Record, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		rec, ok := decodeRecord(ids[i], fields)
		if !ok || !rec.Active {
			stale = append(stale, ids[i])
			continue
		}
		if rec.Expired(now, r.opts.IdleTimeout, r.opts.AbsoluteLifetime) {
			if _, err := r.Validate(ctx, rec.SessionID); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, rec)
	}

	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		if err := r.redis.ZRem(ctx, r.activeKey(), members...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return out, nil
}

// prune drops ids that loadActive did not return from the user index.
func (r *Registry) prune(ctx context.Context, userKey string, ids []string, live []*Record) error {
	keep := make(map[string]struct{}, len(live))
	for _, rec := range live {
		keep[rec.SessionID] = struct{}{}
	}
	var gone []interface{}
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return nil
	}
	if err := r.redis.ZRem(ctx, userKey, gone...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case []byte:
			out = append(out, string(s))
		}
	}
	return out
}
