package util

import (
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/sony/sonyflake"
)

var (
	sonyFlake *sonyflake.Sonyflake
	once      sync.Once
)

// InitSonyFlake 初始化 Snowflake 实例，机器号取本机 IP 低 16 位
func InitSonyFlake() {
	once.Do(func() {
		sonyFlake = sonyflake.NewSonyflake(sonyflake.Settings{MachineID: machineID})
	})
}

// NewTradeID 生成交易意图 ID
func NewTradeID() (string, error) {
	InitSonyFlake()
	id, err := sonyFlake.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(id, 36), nil
}

func machineID() (uint16, error) {
	ip := net.ParseIP(GetLocalIP()).To4()
	if ip != nil && !ip.IsLoopback() {
		return uint16(ip[2])<<8 + uint16(ip[3]), nil
	}
	return uint16(os.Getpid()), nil
}
