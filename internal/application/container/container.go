package container

import (
	"pricerelay/internal/application/port"
	"pricerelay/internal/application/service"
	"pricerelay/internal/application/usecase/relay"
)

// Container 按需构建应用层服务，共享同一个发布端和仓储
type Container struct {
	repo port.Repository
	pub  port.Publisher

	alertService *service.AlertService
}

func New(pub port.Publisher, repo port.Repository) *Container {
	if repo == nil {
		repo = relay.NewNoopRepo()
	}
	return &Container{
		repo: repo,
		pub:  pub,
	}
}

func (c *Container) Repository() port.Repository {
	return c.repo
}

func (c *Container) AlertService() *service.AlertService {
	if c.alertService == nil {
		c.alertService = service.NewAlertService(c.pub, c.repo)
	}
	return c.alertService
}

// RelayService 连接器 tick 与凭证变更的协调循环
func (c *Container) RelayService(connectors []port.Connector, credentials <-chan string, accessToken string) *relay.Service {
	return relay.NewService(relay.ServiceDeps{
		Connectors:  connectors,
		Publisher:   c.pub,
		Repo:        c.repo,
		Credentials: credentials,
		AccessToken: accessToken,
	})
}
