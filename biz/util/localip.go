package util

import (
	"net"
	"os"
)

// GetLocalIP 优先从环境变量 POD_IP/HOST_IP 获取，否则探测本机内网 IP，
// 用于 Consul 注册地址与 ID 生成器机器号
func GetLocalIP() string {
	for _, key := range []string{"POD_IP", "HOST_IP"} {
		if ip := os.Getenv(key); ip != "" {
			return ip
		}
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
