package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcache "github.com/pulsefit/pulsefit-client-go/internal/adapters/cache"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/config"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/connectivity"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/logger"
	appredis "github.com/pulsefit/pulsefit-client-go/internal/adapters/redis"
	"github.com/pulsefit/pulsefit-client-go/internal/adapters/storage"
	wsadapter "github.com/pulsefit/pulsefit-client-go/internal/adapters/websocket"
	"github.com/pulsefit/pulsefit-client-go/internal/application"
	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// InitialZapLoggerProvider provides a basic *zap.Logger for config
// initialization, before the full domain logger exists. The cleanup syncs
// buffered entries on shutdown.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger, err = zap.NewDevelopment()
		if err != nil {
			zapLogger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger (production and development failed, falling back to example): %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return zapLogger, cleanup, nil
}

// ConfigProvider loads the viper-backed configuration provider.
func ConfigProvider(ctx context.Context, initialLogger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(ctx, initialLogger)
}

// DomainLoggerProvider builds the structured domain logger used everywhere
// past bootstrap.
func DomainLoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	serviceName := cfgProvider.Get().App.ServiceName
	if serviceName == "" {
		serviceName = "pulsefit-client"
	}
	return logger.NewZapAdapter(cfgProvider, serviceName)
}

// ClockProvider supplies the real clock; tests substitute a mock.
func ClockProvider() clock.Clock {
	return clock.New()
}

// HTTPClientProvider supplies the shared HTTP client. Per-request timeouts
// come from request contexts, so the client itself carries none.
func HTTPClientProvider() *http.Client {
	return &http.Client{}
}

// ResponseCacheProvider selects the cache backend: the in-memory map by
// default, or Redis when cache.backend is "redis" so multiple client
// processes share one cache. The cleanup closes the Redis connection.
func ResponseCacheProvider(cfgProvider config.Provider, appLogger domain.Logger, clk clock.Clock) (domain.ResponseCache, func(), error) {
	cfg := cfgProvider.Get()
	if cfg.Cache.Backend == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis cache backend unreachable: %w", err)
		}
		adapter := appredis.NewResponseCacheAdapter(client, appLogger)
		cleanup := func() {
			if err := client.Close(); err != nil {
				appLogger.Warn(context.Background(), "Failed to close redis client", "error", err.Error())
			}
		}
		return adapter, cleanup, nil
	}
	return appcache.NewMemory(clk), func() {}, nil
}

// TokenStoreProvider builds the on-device token store. The default path is
// ~/.pulsefit/tokens.json.
func TokenStoreProvider(cfgProvider config.Provider) (domain.TokenStore, error) {
	path := cfgProvider.Get().Storage.TokenPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve default token path: %w", err)
		}
		path = filepath.Join(home, ".pulsefit", "tokens.json")
	}
	return storage.NewFileTokenStore(path)
}

// ConnectivityProvider builds the reachability probe monitor. Its loop is
// started by App.Run.
func ConnectivityProvider(cfgProvider config.Provider, appLogger domain.Logger, clk clock.Clock) (*connectivity.ProbeMonitor, error) {
	return connectivity.NewProbeMonitor(cfgProvider, appLogger, clk)
}

// GatewayProvider assembles the request gateway.
func GatewayProvider(
	ctx context.Context,
	cfgProvider config.Provider,
	appLogger domain.Logger,
	responseCache domain.ResponseCache,
	tokenStore domain.TokenStore,
	monitor *connectivity.ProbeMonitor,
	httpClient *http.Client,
	clk clock.Clock,
) (*application.Gateway, func()) {
	gateway := application.NewGateway(ctx, cfgProvider, appLogger, responseCache, tokenStore, monitor, httpClient, clk)
	return gateway, gateway.Close
}

// DialerProvider builds the websocket dialer for the realtime channel.
func DialerProvider(cfgProvider config.Provider, appLogger domain.Logger) domain.RealtimeDialer {
	return &wsadapter.Dialer{
		Logger:       appLogger,
		WriteTimeout: cfgProvider.Get().Realtime.WriteTimeout(),
	}
}

// RealtimeChannelProvider assembles the realtime channel; the gateway is
// its token source so the socket handshake always carries the live token.
func RealtimeChannelProvider(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	dialer domain.RealtimeDialer,
	gateway *application.Gateway,
	clk clock.Clock,
) *application.RealtimeChannel {
	return application.NewRealtimeChannel(cfgProvider, appLogger, dialer, gateway.AccessToken, clk)
}

// AuthServiceProvider assembles the auth service.
func AuthServiceProvider(gateway *application.Gateway, appLogger domain.Logger) *application.AuthService {
	return application.NewAuthService(gateway, appLogger)
}

// App bundles the assembled client for the probe binary.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	gateway        *application.Gateway
	authService    *application.AuthService
	realtime       *application.RealtimeChannel
	monitor        *connectivity.ProbeMonitor
}

// NewApp is the constructor Wire uses to produce the assembled client.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	gateway *application.Gateway,
	authService *application.AuthService,
	realtime *application.RealtimeChannel,
	monitor *connectivity.ProbeMonitor,
) *App {
	return &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		gateway:        gateway,
		authService:    authService,
		realtime:       realtime,
		monitor:        monitor,
	}
}

// Gateway exposes the request gateway to embedding hosts.
func (a *App) Gateway() *application.Gateway { return a.gateway }

// Auth exposes the auth service to embedding hosts.
func (a *App) Auth() *application.AuthService { return a.authService }

// Realtime exposes the realtime channel to embedding hosts.
func (a *App) Realtime() *application.RealtimeChannel { return a.realtime }

// ProviderSet is the Wire provider set assembling the whole client.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	DomainLoggerProvider,
	ClockProvider,
	HTTPClientProvider,
	ResponseCacheProvider,
	TokenStoreProvider,
	ConnectivityProvider,
	GatewayProvider,
	DialerProvider,
	RealtimeChannelProvider,
	AuthServiceProvider,
	NewApp,
)
