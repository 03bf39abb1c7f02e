package service

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

const engineServiceName = "kes_settlement_engine"

// ConsulHelper 封装 Consul 注册与发现
// 使用前请确保 Consul agent 已启动
type ConsulHelper struct {
	client *api.Client
}

// NewConsulHelperWithAddrs 依次尝试多个 Consul 地址，返回第一个可用的
func NewConsulHelperWithAddrs(addrs []string) (*ConsulHelper, error) {
	var lastErr error
	for _, addr := range addrs {
		cfg := api.DefaultConfig()
		cfg.Address = addr
		cli, err := api.NewClient(cfg)
		if err == nil {
			// 尝试健康检查
			_, errPing := cli.Agent().Self()
			if errPing == nil {
				return &ConsulHelper{client: cli}, nil
			}
			lastErr = errPing
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// RegisterEngine 注册结算引擎节点，健康检查走 HTTP 端口
func (c *ConsulHelper) RegisterEngine(nodeID, ip string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:      nodeID,
		Name:    engineServiceName,
		Address: ip,
		Port:    port,
		Check: &api.AgentServiceCheck{
			TCP:                            fmt.Sprintf("%s:%d", ip, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}

func (c *ConsulHelper) Deregister(nodeID string) error {
	return c.client.Agent().ServiceDeregister(nodeID)
}

// CountEngines 当前健康的引擎节点数，用于判断本地限流是否会被多实例放大
func (c *ConsulHelper) CountEngines() (int, error) {
	entries, _, err := c.client.Health().Service(engineServiceName, "", true, nil)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Client 返回 consul client
func (c *ConsulHelper) Client() *api.Client {
	return c.client
}
