package fibersrv

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/marcodd23/go-micro-dao/pkg/configx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/marcodd23/go-micro-dao/pkg/serverx"
)

// FiberServer - Fiber server.
type FiberServer struct {
	Server *fiber.App
	config configx.Config
}

// NewFiberServer - Fiber server constructor. Handler errors are rendered by ErrorHandler.
func NewFiberServer(config configx.Config) serverx.Server[*fiber.App] {
	app := fiber.New(buildFiberConfig(config))

	return &FiberServer{Server: app, config: config}
}

func buildFiberConfig(config configx.Config) fiber.Config {
	fc := fiber.Config{
		AppName:       config.GetServiceName(),
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
		ErrorHandler:  ErrorHandler,
	}

	if sc := config.GetServerConfig(); sc != nil {
		fc.Concurrency = sc.Concurrency
		fc.DisableStartupMessage = sc.DisableStartupMessage
	}

	return fc
}

// GetServer - return the fiber server.
func (srv *FiberServer) GetServer() *fiber.App {
	return srv.Server
}

// RunSync - Run the server sync.
func (srv *FiberServer) RunSync() error {
	return srv.Server.Listen(srv.address())
}

// RunAsync - Run the server async. A listen failure panics through the logger.
func (srv *FiberServer) RunAsync() {
	go func() {
		if err := srv.RunSync(); err != nil {
			logx.GetLogger().LogPanic(context.Background(), "Oops... server is not running! error:", err)
		}
	}()
}

// Setup - Receive a callback function setupFunc that let to configure the server.
func (srv *FiberServer) Setup(ctx context.Context, setupFunc func(fiber *fiber.App)) {
	setupFunc(srv.Server)
}

// Shutdown - shutdown the server.
func (srv *FiberServer) Shutdown(ctx context.Context) error {
	if err := srv.Server.ShutdownWithContext(ctx); err != nil {
		logx.GetLogger().LogError(ctx, "Error shutting down the Server", err)
		return err
	}

	logx.GetLogger().LogInfo(ctx, "Server shut down.. ")

	return nil
}

func (srv *FiberServer) address() string {
	port := "8080"
	if sc := srv.config.GetServerConfig(); sc != nil && sc.Port != "" {
		port = sc.Port
	}

	return fmt.Sprintf(":%s", port)
}
