// Package bootstrap assembles a goAccess engine and its backends from one
// configuration file. It is shared by the server and the admin tool.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/sqlstore"
	"github.com/MrEthical07/goAccess/sso"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Process level keys read next to the engine configuration. Every key can
// be overridden through GOACCESS_* environment variables.
const (
	KeyHTTPAddr        = "http.addr"
	KeyTrustProxy      = "http.trust_proxy"
	KeyShutdownTimeout = "http.shutdown_timeout"
	KeyRedisAddr       = "redis.addr"
	KeyRedisPassword   = "redis.password"
	KeyRedisDB         = "redis.db"
	KeyDatabaseDSN     = "database.dsn"
	KeyLogLevel        = "log.level"
	KeyLogFile         = "log.file"
	KeyLogDevelopment  = "log.development"
	KeyCleanupInterval = "maintenance.cleanup_interval"
	KeyOIDC            = "sso.oidc"
	KeySAML            = "sso.saml"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyTrustProxy, false)
	v.SetDefault(KeyShutdownTimeout, 15*time.Second)
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyDatabaseDSN, "goaccess.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogDevelopment, false)
	v.SetDefault(KeyCleanupInterval, 5*time.Minute)
}

// Runtime holds the assembled process. Close releases everything it opened.
type Runtime struct {
	Viper  *viper.Viper
	Config goAccess.Config
	Logger *zap.Logger
	Redis  redis.UniversalClient
	Store  *sqlstore.Store
	Engine *goAccess.Engine
}

// Load reads path (optional) and the environment, then connects Redis and
// the database and builds the engine.
func Load(ctx context.Context, path string) (*Runtime, error) {
	v, err := goAccess.NewConfigViper(path)
	if err != nil {
		return nil, err
	}
	setDefaults(v)
	return FromViper(ctx, v)
}

// FromViper builds a Runtime from an already populated viper instance.
func FromViper(ctx context.Context, v *viper.Viper) (*Runtime, error) {
	cfg, err := goAccess.ConfigFromViper(v)
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(v.GetString(KeyLogLevel), v.GetString(KeyLogFile), v.GetBool(KeyLogDevelopment))
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Viper: v, Config: cfg, Logger: logger}

	rt.Redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(v.GetString(KeyRedisAddr), ","),
		Password: v.GetString(KeyRedisPassword),
		DB:       v.GetInt(KeyRedisDB),
	})
	if err := rt.Redis.Ping(ctx).Err(); err != nil {
		rt.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	rt.Store, err = sqlstore.Open(ctx, v.GetString(KeyDatabaseDSN))
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Engine, err = goAccess.New().
		WithConfig(cfg).
		WithRedis(rt.Redis).
		WithDirectory(rt.Store).
		WithAuditStore(rt.Store).
		WithLogger(logger).
		Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// SSO builds the providers enabled in the engine configuration. Disabled
// providers are returned as nil. Both providers share one state store.
func (rt *Runtime) SSO(ctx context.Context) (*sso.OIDC, *sso.SAML, error) {
	states := sso.NewStateStore(0, 0)
	var (
		oidcProvider *sso.OIDC
		samlProvider *sso.SAML
	)
	if rt.Config.SSO.OIDCEnabled {
		var oc sso.OIDCConfig
		if err := rt.Viper.UnmarshalKey(KeyOIDC, &oc); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", KeyOIDC, err)
		}
		p, err := sso.NewOIDC(ctx, oc, states)
		if err != nil {
			return nil, nil, err
		}
		oidcProvider = p
	}
	if rt.Config.SSO.SAMLEnabled {
		var sc sso.SAMLConfig
		if err := rt.Viper.UnmarshalKey(KeySAML, &sc); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", KeySAML, err)
		}
		p, err := sso.NewSAML(ctx, sc, states)
		if err != nil {
			return nil, nil, err
		}
		samlProvider = p
	}
	return oidcProvider, samlProvider, nil
}

// Close stops the engine and releases the backends. It is safe on a
// partially built Runtime.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Engine != nil {
		rt.Engine.Close()
	}
	var errs []error
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if err := errors.Join(errs...); err != nil && rt.Logger != nil {
		rt.Logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if rt.Logger != nil {
		_ = rt.Logger.Sync()
	}
}

// NewLogger builds the operational logger. JSON goes to stderr, or to a
// rotated file when file is set. Development mode switches to the console
// encoder.
func NewLogger(level, file string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if file == "" {
		return cfg.Build()
	}

	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if development {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
	return zap.New(zapcore.NewCore(encoder, sink, cfg.Level), zap.AddCaller()), nil
}
