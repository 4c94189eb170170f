// Package app composes the relay process with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"skillswap-chat/internal/api"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/presence"
	"skillswap-chat/internal/repository"
	"skillswap-chat/internal/service"
	"skillswap-chat/internal/storage"
	internalws "skillswap-chat/internal/websocket"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/db"
	"skillswap-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module 组合所有 provider 和生命周期钩子
func Module() fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.L}
		}),
		fx.Provide(
			provideStores,
			provideHub,
			provideFileStore,
			service.NewFileService,
			provideChatService,
			provideRouter,
			provideHTTPServer,
		),
		fx.Invoke(registerHub, registerHTTPServer),
	)
}

type Stores struct {
	fx.Out

	Messages interfaces.MessageStore
	Users    interfaces.UserDirectory
	Groups   interfaces.MembershipSource
}

// database.driver 决定消息、用户和群成员的来源
func provideStores(lc fx.Lifecycle) (Stores, error) {
	cfg := config.GlobalConfig.Database
	logger.L.Info("Opening stores", zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "memory":
		store := repository.NewMemoryStore()
		return Stores{Messages: store, Users: repository.MemoryUsers{MemoryStore: store}, Groups: store}, nil

	case "mongo":
		if err := db.InitMongo(context.Background()); err != nil {
			return Stores{}, err
		}
		lc.Append(fx.Hook{OnStop: db.CloseMongo})
		return Stores{
			Messages: repository.NewBreakerStore(repository.NewMongoMessageRepository(db.Mongo), config.GlobalConfig.Breaker),
			Users:    repository.NewMongoUserRepository(db.Mongo),
			Groups:   repository.NewMongoGroupRepository(db.Mongo),
		}, nil

	case "mysql", "sqlite":
		if err := db.InitDB(); err != nil {
			return Stores{}, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})
		return Stores{
			Messages: repository.NewBreakerStore(repository.NewMessageRepository(), config.GlobalConfig.Breaker),
			Users:    repository.NewUserRepository(),
			Groups:   repository.NewGroupMemberRepository(),
		}, nil

	default:
		return Stores{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func provideHub() (*internalws.Hub, error) {
	instanceID := uuid.NewString()
	bus, err := internalws.CreateBus(instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}
	return internalws.NewHub(presence.NewRegistry(), bus, instanceID), nil
}

func provideFileStore() (storage.FileStore, error) {
	return storage.New(context.Background(), config.GlobalConfig.File)
}

type chatParams struct {
	fx.In

	Hub      *internalws.Hub
	Messages interfaces.MessageStore
	Users    interfaces.UserDirectory
	Groups   interfaces.MembershipSource
}

func provideChatService(p chatParams) *service.ChatService {
	chat := service.NewChatService(p.Hub, p.Messages, p.Users, p.Groups)
	p.Hub.SetEventHandler(chat)
	return chat
}

func provideRouter(hub *internalws.Hub, chat *service.ChatService, files *service.FileService, users interfaces.UserDirectory) *gin.Engine {
	return api.NewRouter(api.Handlers{
		Chat:     api.NewChatHandler(chat, files),
		Group:    api.NewGroupHandler(chat, files),
		WS:       api.NewWSHandler(hub, chat),
		Presence: api.NewPresenceHandler(hub.Presence()),
	}, users)
}

func provideHTTPServer(router *gin.Engine) *http.Server {
	return &http.Server{Addr: config.GlobalConfig.Server.Addr, Handler: router}
}

func registerHub(lc fx.Lifecycle, hub *internalws.Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)
			logger.L.Info("Hub started", zap.String("instanceID", hub.InstanceID()))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return hub.Close()
		},
	})
}

func registerHTTPServer(lc fx.Lifecycle, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			logger.L.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.L.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
